package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/procura-erp/procura/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	GetDrafts(ctx context.Context, ids []int64) (map[int64]DraftProduct, error)
	GetDraft(ctx context.Context, id int64) (DraftProduct, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service answers identity questions for the document layer.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs catalog service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// DraftInput describes a provisional product raised during ordering.
type DraftInput struct {
	Name string
	Unit string
}

// CreateDraft persists a draft product.
func (s *Service) CreateDraft(ctx context.Context, input DraftInput) (DraftProduct, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return DraftProduct{}, fmt.Errorf("%w: draft name required", ErrValidation)
	}
	draft := DraftProduct{Name: name, Unit: strings.TrimSpace(input.Unit)}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertDraft(ctx, draft)
		if err != nil {
			return err
		}
		draft.ID = id
		return nil
	})
	if err != nil {
		return DraftProduct{}, err
	}
	return draft, nil
}

// PromoteDraft creates the real product for a draft, keeping the draft as
// back-reference so quantity buckets stay stable across the promotion.
func (s *Service) PromoteDraft(ctx context.Context, draftID int64, sku string) (Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Product{}, fmt.Errorf("%w: sku required", ErrValidation)
	}
	draft, err := s.repo.GetDraft(ctx, draftID)
	if err != nil {
		return Product{}, err
	}
	if draft.PromotedTo != 0 {
		return Product{}, ErrAlreadyPromoted
	}
	product := Product{SKU: sku, Name: draft.Name, Unit: draft.Unit, DraftID: draftID}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		return tx.MarkDraftPromoted(ctx, draftID, id)
	})
	if err != nil {
		return Product{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{Action: "PRODUCT_PROMOTE", Entity: "catalog", EntityID: fmt.Sprintf("%d", product.ID), Meta: map[string]any{"draft_id": draftID, "sku": sku}})
	}
	return product, nil
}

// Resolve maps each ref to a real product identity where one exists. Refs that
// only carry a draft id follow the draft's promotion pointer; refs that stay
// unresolved keep ProductID zero and report draft display fields.
func (s *Service) Resolve(ctx context.Context, refs []ProductRef) (map[ProductRef]Resolution, error) {
	out := make(map[ProductRef]Resolution, len(refs))
	var productIDs, draftIDs []int64
	for _, ref := range refs {
		if ref.ProductID != 0 {
			productIDs = append(productIDs, ref.ProductID)
		}
		if ref.DraftID != 0 {
			draftIDs = append(draftIDs, ref.DraftID)
		}
	}
	products, err := s.repo.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	drafts, err := s.repo.GetDrafts(ctx, draftIDs)
	if err != nil {
		return nil, err
	}

	// Promotion pointers may reference products not named by any ref.
	var promoted []int64
	for _, d := range drafts {
		if d.PromotedTo != 0 {
			if _, ok := products[d.PromotedTo]; !ok {
				promoted = append(promoted, d.PromotedTo)
			}
		}
	}
	if len(promoted) > 0 {
		more, err := s.repo.GetProducts(ctx, promoted)
		if err != nil {
			return nil, err
		}
		for id, p := range more {
			products[id] = p
		}
	}

	for _, ref := range refs {
		res := Resolution{Ref: ref}
		if p, ok := products[ref.ProductID]; ok {
			res.ProductID = p.ID
			res.SKU, res.Name, res.Unit = p.SKU, p.Name, p.Unit
		} else if d, ok := drafts[ref.DraftID]; ok {
			res.Name, res.Unit = d.Name, d.Unit
			if p, ok := products[d.PromotedTo]; ok {
				res.ProductID = p.ID
				res.SKU, res.Name, res.Unit = p.SKU, p.Name, p.Unit
			}
		} else if !ref.IsZero() {
			return nil, fmt.Errorf("%w: product ref %+v", ErrNotFound, ref)
		}
		out[ref] = res
	}
	return out, nil
}

// GetSupplier returns supplier identity and display fields.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}
