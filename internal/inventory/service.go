package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/procura-erp/procura/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOnHand(ctx context.Context, productID int64) (OnHand, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	SumLedger(ctx context.Context, productID int64) (float64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger reads and the compensating write paths.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, allowNeg: cfg.AllowNegativeStock}
}

// GetOnHand returns the current stock projection. Products without any ledger
// history report zero.
func (s *Service) GetOnHand(ctx context.Context, productID int64) (OnHand, error) {
	if productID == 0 {
		return OnHand{}, fmt.Errorf("inventory: product required")
	}
	balance, err := s.repo.GetOnHand(ctx, productID)
	if errors.Is(err, ErrOnHandNotFound) {
		return OnHand{ProductID: productID}, nil
	}
	return balance, err
}

// ListLedger lists ledger entries for a product.
func (s *Service) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.ProductID == 0 {
		return nil, fmt.Errorf("inventory: product required")
	}
	return s.repo.ListLedger(ctx, filter)
}

// PostReversal appends a compensating negative entry against a posted source
// document. Posted records are never mutated; this is the only way to undo a
// receipt's stock effect.
func (s *Service) PostReversal(ctx context.Context, input ReversalInput) (OnHand, error) {
	if input.Qty <= 0 {
		return OnHand{}, ErrInvalidQuantity
	}
	entry := LedgerEntry{
		ProductID:  input.ProductID,
		SourceType: SourceReversal,
		SourceID:   input.SourceID,
		QtyChange:  -input.Qty,
		Memo:       input.Memo,
	}
	return s.post(ctx, entry, input.Ref, input.ActorID)
}

// PostAdjustment appends a manual signed correction.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (OnHand, error) {
	entry := LedgerEntry{
		ProductID:  input.ProductID,
		SourceType: SourceAdjustment,
		QtyChange:  input.Qty,
		Memo:       input.Memo,
	}
	return s.post(ctx, entry, input.Ref, input.ActorID)
}

// CheckConservation compares the ledger running sum with the projection.
func (s *Service) CheckConservation(ctx context.Context, productID int64) (bool, error) {
	sum, err := s.repo.SumLedger(ctx, productID)
	if err != nil {
		return false, err
	}
	balance, err := s.GetOnHand(ctx, productID)
	if err != nil {
		return false, err
	}
	diff := sum - balance.Qty
	return diff < 0.0001 && diff > -0.0001, nil
}

func (s *Service) post(ctx context.Context, entry LedgerEntry, ref string, actorID int64) (OnHand, error) {
	insertedKey := false
	key := ""
	if ref != "" && s.idempotency != nil {
		key = fmt.Sprintf("%s:%s", entry.SourceType, ref)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return OnHand{}, err
		}
		insertedKey = true
	}
	var balance OnHand
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = Apply(ctx, tx, entry, s.allowNeg)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return OnHand{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("inventory:%s", entry.SourceType),
			Entity:   "stock_ledger",
			EntityID: fmt.Sprintf("%s:%d", entry.SourceType, entry.ProductID),
			Meta: map[string]any{
				"product_id": entry.ProductID,
				"qty_change": entry.QtyChange,
				"memo":       entry.Memo,
			},
		})
	}
	return balance, nil
}
