package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/procura-erp/procura/internal/catalog"
	"github.com/procura-erp/procura/internal/inventory"
	"github.com/procura-erp/procura/internal/shared"
)

// qtyEpsilon absorbs float64 noise when comparing quantities and balances.
const qtyEpsilon = 0.0001

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error)
	ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error)
}

// CatalogPort answers product and supplier identity questions.
type CatalogPort interface {
	CreateDraft(ctx context.Context, input catalog.DraftInput) (catalog.DraftProduct, error)
	Resolve(ctx context.Context, refs []catalog.ProductRef) (map[catalog.ProductRef]catalog.Resolution, error)
	GetSupplier(ctx context.Context, id int64) (catalog.Supplier, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort keeps the approval trail for purchase documents.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Service coordinates procurement documents, the posting engine, and the
// three-way match.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	catalog     CatalogPort
	audit       AuditPort
	approvals   ApprovalPort
	notifier    NotifierPort
	idempotency *shared.IdempotencyStore
	matchGroup  singleflight.Group
}

// NewService builds Service. audit, approvals, notifier, and idem may be nil.
func NewService(logger *slog.Logger, repo RepositoryPort, cat CatalogPort, audit AuditPort, approvals ApprovalPort, notifier NotifierPort, idem *shared.IdempotencyStore) *Service {
	return &Service{
		logger:      logger,
		repo:        repo,
		catalog:     cat,
		audit:       audit,
		approvals:   approvals,
		notifier:    notifier,
		idempotency: idem,
	}
}

// POLineInput describes one ordered item. A line may name a real product, an
// existing draft, or neither; ref-less lines raise a new draft product.
type POLineInput struct {
	ProductID int64
	DraftID   int64
	Name      string
	Unit      string
	Qty       float64
	UnitPrice float64
}

// CreatePOInput carries a new purchase order.
type CreatePOInput struct {
	SupplierID int64
	OrderDate  time.Time
	DueDate    time.Time
	Tax        float64
	Notes      string
	Lines      []POLineInput
	ActorID    int64
}

// ListPurchaseOrders returns a filtered page of purchase orders.
func (s *Service) ListPurchaseOrders(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	return s.repo.ListPOs(ctx, limit, offset, filters)
}

// GetPurchaseOrder returns a purchase order with catalog-enriched lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, lines, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	if err := s.enrichPOLines(ctx, lines); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// CreatePurchaseOrder validates and persists a DRAFT purchase order. Lines
// without any product reference get a draft product so received quantities can
// be bucketed once the product is promoted.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, []POLine, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if _, err := s.catalog.GetSupplier(ctx, input.SupplierID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: supplier %d not found", ErrValidation, input.SupplierID)
		}
		return PurchaseOrder{}, nil, err
	}

	lines := make([]POLine, 0, len(input.Lines))
	subtotal := 0.0
	for i, in := range input.Lines {
		if in.Qty <= 0 {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: line %d qty must be positive", ErrValidation, i+1)
		}
		if in.UnitPrice < 0 {
			return PurchaseOrder{}, nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrValidation, i+1)
		}
		line := POLine{
			Product:   catalog.ProductRef{ProductID: in.ProductID, DraftID: in.DraftID},
			Name:      strings.TrimSpace(in.Name),
			Unit:      strings.TrimSpace(in.Unit),
			Qty:       in.Qty,
			UnitPrice: in.UnitPrice,
			LineTotal: in.Qty * in.UnitPrice,
		}
		if line.Product.IsZero() {
			if line.Name == "" {
				return PurchaseOrder{}, nil, fmt.Errorf("%w: line %d needs a product reference or a name", ErrValidation, i+1)
			}
			draft, err := s.catalog.CreateDraft(ctx, catalog.DraftInput{Name: line.Name, Unit: line.Unit})
			if err != nil {
				return PurchaseOrder{}, nil, err
			}
			line.Product.DraftID = draft.ID
		}
		subtotal += line.LineTotal
		lines = append(lines, line)
	}

	orderDate := input.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}
	po := PurchaseOrder{
		Number:     generateNumber("PO"),
		SupplierID: input.SupplierID,
		Status:     POStatusDraft,
		OrderDate:  orderDate,
		DueDate:    input.DueDate,
		Subtotal:   subtotal,
		Tax:        input.Tax,
		Total:      subtotal + input.Tax,
		Notes:      strings.TrimSpace(input.Notes),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range lines {
			lines[i].POID = id
			lineID, err := tx.InsertPOLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}

	s.recordAudit(ctx, input.ActorID, "PO_CREATE", "purchase_order", po.ID, map[string]any{"number": po.Number, "total": po.Total})
	if err := s.enrichPOLines(ctx, lines); err != nil {
		s.logger.Warn("enrich po lines", slog.Any("error", err), slog.Int64("po_id", po.ID))
	}
	return po, lines, nil
}

// UpdatePurchaseOrderStatus performs an externally requested transition.
// PARTIALLY_RECEIVED and RECEIVED are never valid targets here; only the
// posting engine moves an order into them.
func (s *Service) UpdatePurchaseOrderStatus(ctx context.Context, id int64, to POStatus, actorID int64, note string) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPOForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransitionPO(po.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, po.Status, to)
		}
		if err := tx.UpdatePOStatus(ctx, id, to); err != nil {
			return err
		}
		po.Status = to
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	if to == POStatusApproved && s.approvals != nil && actorID != 0 {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "procurement",
			RefID:   approvalRef("purchase_order", id),
			ActorID: actorID,
			Action:  shared.ApprovalApprove,
			Note:    note,
		}); err != nil {
			s.logger.Warn("record approval", slog.Any("error", err), slog.Int64("po_id", id))
		}
	}
	s.recordAudit(ctx, actorID, "PO_STATUS", "purchase_order", id, map[string]any{"to": string(to)})
	return po, nil
}

// ListApprovals returns a purchase order's approval trail, oldest first.
func (s *Service) ListApprovals(ctx context.Context, poID int64) ([]shared.ApprovalLog, error) {
	if _, _, err := s.repo.GetPO(ctx, poID); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	return s.approvals.List(ctx, "procurement", approvalRef("purchase_order", poID))
}

// InvoiceLineInput describes one billed item.
type InvoiceLineInput struct {
	ProductID int64
	DraftID   int64
	POLineID  int64
	Name      string
	Unit      string
	Qty       float64
	UnitPrice float64
}

// CreateInvoiceInput carries a new supplier invoice.
type CreateInvoiceInput struct {
	Number     string
	SupplierID int64
	POID       int64
	Date       time.Time
	DueDate    time.Time
	Lines      []InvoiceLineInput
	ActorID    int64
}

// CreateInvoice records a supplier invoice against a purchase order. The
// amount is derived from the lines and opens the full balance.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, []InvoiceLine, error) {
	number := strings.TrimSpace(input.Number)
	if number == "" {
		return Invoice{}, nil, fmt.Errorf("%w: invoice number required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Invoice{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if _, err := s.catalog.GetSupplier(ctx, input.SupplierID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Invoice{}, nil, fmt.Errorf("%w: supplier %d not found", ErrValidation, input.SupplierID)
		}
		return Invoice{}, nil, err
	}
	if input.POID != 0 {
		if _, _, err := s.repo.GetPO(ctx, input.POID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return Invoice{}, nil, fmt.Errorf("%w: purchase order %d not found", ErrValidation, input.POID)
			}
			return Invoice{}, nil, err
		}
	}

	lines := make([]InvoiceLine, 0, len(input.Lines))
	amount := 0.0
	for i, in := range input.Lines {
		if in.Qty <= 0 {
			return Invoice{}, nil, fmt.Errorf("%w: line %d qty must be positive", ErrValidation, i+1)
		}
		if in.UnitPrice < 0 {
			return Invoice{}, nil, fmt.Errorf("%w: line %d unit price must not be negative", ErrValidation, i+1)
		}
		line := InvoiceLine{
			Product:   catalog.ProductRef{ProductID: in.ProductID, DraftID: in.DraftID},
			POLineID:  in.POLineID,
			Name:      strings.TrimSpace(in.Name),
			Unit:      strings.TrimSpace(in.Unit),
			Qty:       in.Qty,
			UnitPrice: in.UnitPrice,
			LineTotal: in.Qty * in.UnitPrice,
		}
		amount += line.LineTotal
		lines = append(lines, line)
	}

	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	inv := Invoice{
		Number:           number,
		SupplierID:       input.SupplierID,
		POID:             input.POID,
		Date:             date,
		DueDate:          input.DueDate,
		Amount:           amount,
		BalanceRemaining: amount,
		Status:           InvoiceStatusPending,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		for i := range lines {
			lines[i].InvoiceID = id
			lineID, err := tx.InsertInvoiceLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return Invoice{}, nil, err
	}

	s.recordAudit(ctx, input.ActorID, "INVOICE_CREATE", "invoice", inv.ID, map[string]any{"number": inv.Number, "amount": inv.Amount})
	return inv, lines, nil
}

// UpdateInvoiceStatus performs an externally requested transition. PAID is not
// a valid target; it is reached through payments only.
func (s *Service) UpdateInvoiceStatus(ctx context.Context, id int64, to InvoiceStatus, actorID int64) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransitionInvoice(inv.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, inv.Status, to)
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, to); err != nil {
			return err
		}
		inv.Status = to
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, actorID, "INVOICE_STATUS", "invoice", id, map[string]any{"to": string(to)})
	return inv, nil
}

// PaymentInput carries a payment against an invoice balance.
type PaymentInput struct {
	InvoiceID int64
	Amount    float64
	PaidAt    time.Time
	ActorID   int64
}

// RegisterPayment applies an amount against an invoice balance. The invoice
// flips to PAID exactly when the balance reaches zero; overpayment is
// rejected.
func (s *Service) RegisterPayment(ctx context.Context, input PaymentInput) (Invoice, error) {
	if input.Amount <= 0 {
		return Invoice{}, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceStatusPending && inv.Status != InvoiceStatusOverdue {
			return fmt.Errorf("%w: cannot pay %s invoice", ErrInvalidStatus, inv.Status)
		}
		if input.Amount > inv.BalanceRemaining+qtyEpsilon {
			return fmt.Errorf("%w: payment %.2f exceeds balance %.2f", ErrValidation, input.Amount, inv.BalanceRemaining)
		}
		if _, err := tx.CreatePayment(ctx, Payment{InvoiceID: inv.ID, Amount: input.Amount, PaidAt: input.PaidAt}); err != nil {
			return err
		}
		balance := inv.BalanceRemaining - input.Amount
		status := inv.Status
		if balance < qtyEpsilon {
			balance = 0
			status = InvoiceStatusPaid
		}
		if err := tx.SetInvoiceBalance(ctx, inv.ID, balance, status); err != nil {
			return err
		}
		inv.BalanceRemaining = balance
		inv.Status = status
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, input.ActorID, "INVOICE_PAYMENT", "invoice", inv.ID, map[string]any{"amount": input.Amount, "balance": inv.BalanceRemaining})
	return inv, nil
}

// GRNLineInput describes one received item.
type GRNLineInput struct {
	ProductID     int64
	DraftID       int64
	POLineID      int64
	InvoiceLineID int64
	Name          string
	Unit          string
	ReceivedQty   float64
	UnitPrice     float64
}

// CreateGRNInput carries a new goods receipt.
type CreateGRNInput struct {
	POID      int64
	InvoiceID int64
	Date      time.Time
	Lines     []GRNLineInput
	ActorID   int64
}

// CreateGoodsReceipt records a DRAFT receipt against a purchase order. No
// stock moves until the receipt is posted.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput) (GoodsReceipt, []GRNLine, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	if _, _, err := s.repo.GetPO(ctx, input.POID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: purchase order %d not found", ErrValidation, input.POID)
		}
		return GoodsReceipt{}, nil, err
	}
	if input.InvoiceID != 0 {
		inv, _, err := s.repo.GetInvoice(ctx, input.InvoiceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return GoodsReceipt{}, nil, fmt.Errorf("%w: invoice %d not found", ErrValidation, input.InvoiceID)
			}
			return GoodsReceipt{}, nil, err
		}
		if inv.POID != 0 && inv.POID != input.POID {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: invoice %d belongs to another purchase order", ErrValidation, input.InvoiceID)
		}
	}

	lines := make([]GRNLine, 0, len(input.Lines))
	for i, in := range input.Lines {
		if in.ReceivedQty < 0 {
			return GoodsReceipt{}, nil, fmt.Errorf("%w: line %d received qty must not be negative", ErrValidation, i+1)
		}
		lines = append(lines, GRNLine{
			Product:       catalog.ProductRef{ProductID: in.ProductID, DraftID: in.DraftID},
			POLineID:      in.POLineID,
			InvoiceLineID: in.InvoiceLineID,
			Name:          strings.TrimSpace(in.Name),
			Unit:          strings.TrimSpace(in.Unit),
			ReceivedQty:   in.ReceivedQty,
			UnitPrice:     in.UnitPrice,
		})
	}

	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	grn := GoodsReceipt{
		Number:    generateNumber("GRN"),
		POID:      input.POID,
		InvoiceID: input.InvoiceID,
		Date:      date,
		Status:    GRNStatusDraft,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateGRN(ctx, grn)
		if err != nil {
			return err
		}
		grn.ID = id
		for i := range lines {
			lines[i].GRNID = id
			lineID, err := tx.InsertGRNLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, nil, err
	}

	s.recordAudit(ctx, input.ActorID, "GRN_CREATE", "goods_receipt", grn.ID, map[string]any{"number": grn.Number, "po_id": grn.POID})
	return grn, lines, nil
}

// PostGoodsReceipt applies a receipt to stock. Every effect — ledger entries,
// on-hand updates, the GRN flip, and the purchase order fulfillment recompute —
// commits in one transaction or not at all. Re-posting an already POSTED
// receipt succeeds without further effect.
func (s *Service) PostGoodsReceipt(ctx context.Context, grnID, actorID int64) error {
	grn, lines, err := s.repo.GetGRN(ctx, grnID)
	if err != nil {
		return err
	}
	if grn.Status == GRNStatusPosted {
		return nil
	}

	po, poLines, err := s.repo.GetPO(ctx, grn.POID)
	if err != nil {
		return err
	}
	if po.Status == POStatusDraft || po.Status == POStatusClosed {
		return fmt.Errorf("%w: cannot post receipt against %s purchase order", ErrInvalidStatus, po.Status)
	}

	// Resolve every referenced product up front. Any line still pointing at
	// an unpromoted draft blocks the whole posting, zero quantity included.
	refs := make([]catalog.ProductRef, 0, len(lines)+len(poLines))
	for _, line := range lines {
		refs = append(refs, line.Product)
	}
	for _, line := range poLines {
		refs = append(refs, line.Product)
	}
	resolutions, err := s.catalog.Resolve(ctx, refs)
	if err != nil {
		return err
	}
	for _, line := range lines {
		res := resolutions[line.Product]
		if !res.Resolved() {
			return fmt.Errorf("%w: line %q has no promoted product", ErrPostingBlocked, line.Name)
		}
	}

	insertedKey := false
	key := fmt.Sprintf("GRN:%s", grn.Number)
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				// A concurrent or earlier attempt holds the key. Posted means
				// done; anything else is a conflict the caller should retry.
				current, _, readErr := s.repo.GetGRN(ctx, grnID)
				if readErr == nil && current.Status == GRNStatusPosted {
					return nil
				}
			}
			return err
		}
		insertedKey = true
	}

	event := GRNPostedEvent{GRNID: grn.ID, Number: grn.Number, POID: po.ID, PONumber: po.Number}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetGRNForUpdate(ctx, grnID)
		if err != nil {
			return err
		}
		if current.Status == GRNStatusPosted {
			return nil
		}

		for _, line := range lines {
			if line.ReceivedQty <= 0 {
				continue
			}
			res := resolutions[line.Product]
			if _, err := tx.ApplyStock(ctx, inventory.LedgerEntry{
				ProductID:  res.ProductID,
				SourceType: inventory.SourceGRN,
				SourceID:   grn.ID,
				QtyChange:  line.ReceivedQty,
				Memo:       fmt.Sprintf("receipt %s", grn.Number),
			}); err != nil {
				return err
			}
			// Pin the resolved product so posted history buckets by real id
			// even when the line was captured against a draft.
			if line.Product.ProductID == 0 {
				if err := tx.SetGRNLineProduct(ctx, line.ID, res.ProductID); err != nil {
					return err
				}
			}
			event.LineCount++
			event.TotalQty += line.ReceivedQty
		}

		if err := tx.UpdateGRNStatus(ctx, grnID, GRNStatusPosted); err != nil {
			return err
		}

		lockedPO, err := tx.GetPOForUpdate(ctx, grn.POID)
		if err != nil {
			return err
		}
		target, err := s.recomputeFulfillment(ctx, tx, poLines, resolutions, grn.POID)
		if err != nil {
			return err
		}
		if target != "" && target != lockedPO.Status && lockedPO.Status != POStatusClosed {
			if err := tx.UpdatePOStatus(ctx, grn.POID, target); err != nil {
				return err
			}
			lockedPO.Status = target
		}
		event.POStatus = string(lockedPO.Status)
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}

	s.recordAudit(ctx, actorID, "GRN_POST", "goods_receipt", grn.ID, map[string]any{"number": grn.Number, "po_id": grn.POID, "total_qty": event.TotalQty})
	if s.notifier != nil {
		if err := s.notifier.GRNPosted(ctx, event); err != nil {
			s.logger.Warn("enqueue grn posted notification", slog.Any("error", err), slog.Int64("grn_id", grn.ID))
		}
	}
	return nil
}

// recomputeFulfillment derives the PO receipt status from every POSTED receipt
// line of the order, seen through the current transaction. Receipt lines with
// a PO line back-reference credit that line alone; untraced lines pool by
// resolved product id and the pool is allocated across the order lines in
// order, so a quantity is never counted twice.
func (s *Service) recomputeFulfillment(ctx context.Context, tx TxRepository, poLines []POLine, resolutions map[catalog.ProductRef]catalog.Resolution, poID int64) (POStatus, error) {
	posted, err := tx.ListPostedGRNLines(ctx, poID)
	if err != nil {
		return "", err
	}

	byLine := make(map[int64]float64)
	byProduct := make(map[int64]float64)
	anyReceived := false
	for _, line := range posted {
		if line.ReceivedQty <= 0 {
			continue
		}
		anyReceived = true
		if line.POLineID != 0 {
			byLine[line.POLineID] += line.ReceivedQty
		} else {
			byProduct[line.Product.ProductID] += line.ReceivedQty
		}
	}
	if !anyReceived {
		return "", nil
	}

	full := true
	for _, line := range poLines {
		received := byLine[line.ID]
		if res, ok := resolutions[line.Product]; ok && res.Resolved() {
			if missing := line.Qty - received; missing > 0 && byProduct[res.ProductID] > 0 {
				take := missing
				if pool := byProduct[res.ProductID]; pool < take {
					take = pool
				}
				received += take
				byProduct[res.ProductID] -= take
			}
		}
		if received < line.Qty-qtyEpsilon {
			full = false
		}
	}
	if full {
		return POStatusReceived, nil
	}
	return POStatusPartiallyReceived, nil
}

// Match runs the three-way reconciliation for a purchase order. A missing or
// unknown purchase order yields an empty report; invoice and receipt are
// optional sides. Identical concurrent reports are computed once.
func (s *Service) Match(ctx context.Context, poID, invoiceID, grnID int64) ([]MatchRow, error) {
	key := fmt.Sprintf("%d:%d:%d", poID, invoiceID, grnID)
	rows, err, _ := s.matchGroup.Do(key, func() (any, error) {
		return s.match(ctx, poID, invoiceID, grnID)
	})
	if err != nil {
		return nil, err
	}
	return rows.([]MatchRow), nil
}

func (s *Service) match(ctx context.Context, poID, invoiceID, grnID int64) ([]MatchRow, error) {
	if poID == 0 {
		return []MatchRow{}, nil
	}
	_, poLines, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []MatchRow{}, nil
		}
		return nil, err
	}

	var invLines []InvoiceLine
	if invoiceID != 0 {
		_, invLines, err = s.repo.GetInvoice(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
	}
	var grnLines []GRNLine
	if grnID != 0 {
		_, grnLines, err = s.repo.GetGRN(ctx, grnID)
		if err != nil {
			return nil, err
		}
	}

	refs := make([]catalog.ProductRef, 0, len(poLines)+len(invLines)+len(grnLines))
	for _, line := range poLines {
		refs = append(refs, line.Product)
	}
	for _, line := range invLines {
		refs = append(refs, line.Product)
	}
	for _, line := range grnLines {
		refs = append(refs, line.Product)
	}
	resolutions, err := s.catalog.Resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	for i := range poLines {
		applyResolution(&poLines[i].SKU, &poLines[i].Name, &poLines[i].Unit, resolutions[poLines[i].Product])
	}
	for i := range invLines {
		applyResolution(&invLines[i].SKU, &invLines[i].Name, &invLines[i].Unit, resolutions[invLines[i].Product])
	}
	for i := range grnLines {
		applyResolution(&grnLines[i].SKU, &grnLines[i].Name, &grnLines[i].Unit, resolutions[grnLines[i].Product])
	}

	return MatchDocuments(poLines, invLines, grnLines), nil
}

// GetInvoice returns an invoice with lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetGoodsReceipt returns a receipt with lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return s.repo.GetGRN(ctx, id)
}

func (s *Service) enrichPOLines(ctx context.Context, lines []POLine) error {
	if len(lines) == 0 {
		return nil
	}
	refs := make([]catalog.ProductRef, 0, len(lines))
	for _, line := range lines {
		refs = append(refs, line.Product)
	}
	resolutions, err := s.catalog.Resolve(ctx, refs)
	if err != nil {
		return err
	}
	for i := range lines {
		applyResolution(&lines[i].SKU, &lines[i].Name, &lines[i].Unit, resolutions[lines[i].Product])
	}
	return nil
}

// applyResolution overlays catalog identity onto a document line's display
// fields, keeping the stored text when the catalog knows nothing better.
func applyResolution(sku, name, unit *string, res catalog.Resolution) {
	if res.SKU != "" {
		*sku = res.SKU
	}
	if res.Name != "" {
		*name = res.Name
	}
	if res.Unit != "" && *unit == "" {
		*unit = res.Unit
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit", slog.Any("error", err), slog.String("action", action))
	}
}

// generateNumber produces a human-scannable document number.
func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

// approvalRef derives a stable uuid for approval history on integer-keyed
// documents.
func approvalRef(entity string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", entity, id)))
}
