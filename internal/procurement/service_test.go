package procurement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/procura-erp/procura/internal/catalog"
	"github.com/procura-erp/procura/internal/inventory"
	"github.com/procura-erp/procura/internal/shared"
)

type memoryState struct {
	pos      map[int64]PurchaseOrder
	poLines  map[int64][]POLine
	invoices map[int64]Invoice
	invLines map[int64][]InvoiceLine
	payments []Payment
	grns     map[int64]GoodsReceipt
	grnLines map[int64][]GRNLine
	ledger   []inventory.LedgerEntry
	onHand   map[int64]inventory.OnHand
	nextID   int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		pos:      make(map[int64]PurchaseOrder),
		poLines:  make(map[int64][]POLine),
		invoices: make(map[int64]Invoice),
		invLines: make(map[int64][]InvoiceLine),
		grns:     make(map[int64]GoodsReceipt),
		grnLines: make(map[int64][]GRNLine),
		onHand:   make(map[int64]inventory.OnHand),
	}
}

func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	out.nextID = s.nextID
	for id, po := range s.pos {
		out.pos[id] = po
	}
	for id, lines := range s.poLines {
		out.poLines[id] = append([]POLine(nil), lines...)
	}
	for id, inv := range s.invoices {
		out.invoices[id] = inv
	}
	for id, lines := range s.invLines {
		out.invLines[id] = append([]InvoiceLine(nil), lines...)
	}
	out.payments = append([]Payment(nil), s.payments...)
	for id, grn := range s.grns {
		out.grns[id] = grn
	}
	for id, lines := range s.grnLines {
		out.grnLines[id] = append([]GRNLine(nil), lines...)
	}
	out.ledger = append([]inventory.LedgerEntry(nil), s.ledger...)
	for id, balance := range s.onHand {
		out.onHand[id] = balance
	}
	return out
}

// memoryRepo implements RepositoryPort with snapshot-based rollback so a
// failing transaction leaves no partial state behind.
type memoryRepo struct {
	state *memoryState

	// failOnApply makes the n-th ApplyStock call of the next transaction fail.
	failOnApply int
	applyCalls  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: newMemoryState()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.state.clone()
	r.applyCalls = 0
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.state.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POLine(nil), r.state.poLines[id]...), nil
}

func (r *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, nil, ErrNotFound
	}
	return inv, append([]InvoiceLine(nil), r.state.invLines[id]...), nil
}

func (r *memoryRepo) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	grn, ok := r.state.grns[id]
	if !ok {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	return grn, append([]GRNLine(nil), r.state.grnLines[id]...), nil
}

func (r *memoryRepo) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	var items []POListItem
	for _, po := range r.state.pos {
		if filters.Status != "" && string(po.Status) != filters.Status {
			continue
		}
		items = append(items, POListItem{ID: po.ID, Number: po.Number, SupplierID: po.SupplierID, Status: po.Status, Total: po.Total})
	}
	return items, len(items), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) nextID() int64 {
	t.repo.state.nextID++
	return t.repo.state.nextID
}

func (t *memoryTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	po.ID = t.nextID()
	t.repo.state.pos[po.ID] = po
	return po.ID, nil
}

func (t *memoryTx) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	line.ID = t.nextID()
	t.repo.state.poLines[line.POID] = append(t.repo.state.poLines[line.POID], line)
	return line.ID, nil
}

func (t *memoryTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	po, ok := t.repo.state.pos[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	t.repo.state.pos[id] = po
	return nil
}

func (t *memoryTx) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := t.repo.state.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (t *memoryTx) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	inv.ID = t.nextID()
	t.repo.state.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryTx) InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error) {
	line.ID = t.nextID()
	t.repo.state.invLines[line.InvoiceID] = append(t.repo.state.invLines[line.InvoiceID], line)
	return line.ID, nil
}

func (t *memoryTx) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := t.repo.state.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	t.repo.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) SetInvoiceBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus) error {
	inv, ok := t.repo.state.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.BalanceRemaining = balance
	inv.Status = status
	t.repo.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	payment.ID = t.nextID()
	t.repo.state.payments = append(t.repo.state.payments, payment)
	return payment.ID, nil
}

func (t *memoryTx) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := t.repo.state.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (t *memoryTx) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	grn.ID = t.nextID()
	t.repo.state.grns[grn.ID] = grn
	return grn.ID, nil
}

func (t *memoryTx) InsertGRNLine(ctx context.Context, line GRNLine) (int64, error) {
	line.ID = t.nextID()
	t.repo.state.grnLines[line.GRNID] = append(t.repo.state.grnLines[line.GRNID], line)
	return line.ID, nil
}

func (t *memoryTx) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	grn, ok := t.repo.state.grns[id]
	if !ok {
		return ErrNotFound
	}
	grn.Status = status
	t.repo.state.grns[id] = grn
	return nil
}

func (t *memoryTx) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	grn, ok := t.repo.state.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	return grn, nil
}

func (t *memoryTx) SetGRNLineProduct(ctx context.Context, lineID, productID int64) error {
	for grnID, lines := range t.repo.state.grnLines {
		for i := range lines {
			if lines[i].ID == lineID {
				lines[i].Product.ProductID = productID
				t.repo.state.grnLines[grnID] = lines
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memoryTx) ListPostedGRNLines(ctx context.Context, poID int64) ([]GRNLine, error) {
	var out []GRNLine
	for id, grn := range t.repo.state.grns {
		if grn.POID != poID || grn.Status != GRNStatusPosted {
			continue
		}
		out = append(out, t.repo.state.grnLines[id]...)
	}
	return out, nil
}

func (t *memoryTx) ApplyStock(ctx context.Context, entry inventory.LedgerEntry) (inventory.OnHand, error) {
	t.repo.applyCalls++
	if t.repo.failOnApply > 0 && t.repo.applyCalls == t.repo.failOnApply {
		return inventory.OnHand{}, errors.New("injected stock failure")
	}
	return inventory.Apply(ctx, &memoryStockTx{state: t.repo.state}, entry, false)
}

// memoryStockTx implements inventory.TxRepository over the shared state so
// posting exercises the same funnel as the real store.
type memoryStockTx struct {
	state *memoryState
}

func (t *memoryStockTx) GetOnHandForUpdate(ctx context.Context, productID int64) (inventory.OnHand, error) {
	balance, ok := t.state.onHand[productID]
	if !ok {
		return inventory.OnHand{ProductID: productID}, inventory.ErrOnHandNotFound
	}
	return balance, nil
}

func (t *memoryStockTx) UpsertOnHand(ctx context.Context, balance inventory.OnHand) error {
	t.state.onHand[balance.ProductID] = balance
	return nil
}

func (t *memoryStockTx) AppendEntry(ctx context.Context, entry inventory.LedgerEntry) (int64, error) {
	entry.ID = int64(len(t.state.ledger) + 1)
	t.state.ledger = append(t.state.ledger, entry)
	return entry.ID, nil
}

type memoryCatalog struct {
	products  map[int64]catalog.Product
	drafts    map[int64]catalog.DraftProduct
	suppliers map[int64]catalog.Supplier
	nextID    int64
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		products:  make(map[int64]catalog.Product),
		drafts:    make(map[int64]catalog.DraftProduct),
		suppliers: make(map[int64]catalog.Supplier),
	}
}

func (c *memoryCatalog) CreateDraft(ctx context.Context, input catalog.DraftInput) (catalog.DraftProduct, error) {
	c.nextID++
	draft := catalog.DraftProduct{ID: c.nextID, Name: input.Name, Unit: input.Unit}
	c.drafts[draft.ID] = draft
	return draft, nil
}

func (c *memoryCatalog) Resolve(ctx context.Context, refs []catalog.ProductRef) (map[catalog.ProductRef]catalog.Resolution, error) {
	out := make(map[catalog.ProductRef]catalog.Resolution, len(refs))
	for _, ref := range refs {
		res := catalog.Resolution{Ref: ref}
		if p, ok := c.products[ref.ProductID]; ok {
			res.ProductID = p.ID
			res.SKU, res.Name, res.Unit = p.SKU, p.Name, p.Unit
		} else if d, ok := c.drafts[ref.DraftID]; ok {
			res.Name, res.Unit = d.Name, d.Unit
			if p, ok := c.products[d.PromotedTo]; ok {
				res.ProductID = p.ID
				res.SKU, res.Name, res.Unit = p.SKU, p.Name, p.Unit
			}
		} else if !ref.IsZero() {
			return nil, fmt.Errorf("%w: product ref %+v", catalog.ErrNotFound, ref)
		}
		out[ref] = res
	}
	return out, nil
}

func (c *memoryCatalog) GetSupplier(ctx context.Context, id int64) (catalog.Supplier, error) {
	supplier, ok := c.suppliers[id]
	if !ok {
		return catalog.Supplier{}, catalog.ErrNotFound
	}
	return supplier, nil
}

type capturingNotifier struct {
	events []GRNPostedEvent
}

func (n *capturingNotifier) GRNPosted(ctx context.Context, event GRNPostedEvent) error {
	n.events = append(n.events, event)
	return nil
}

type capturingAudit struct {
	logs []shared.AuditLog
}

func (a *capturingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type capturingApprovals struct {
	logs []shared.ApprovalLog
}

func (a *capturingApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *capturingApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var trail []shared.ApprovalLog
	for _, log := range a.logs {
		if log.Module == module && log.RefID == ref {
			trail = append(trail, log)
		}
	}
	return trail, nil
}

type fixture struct {
	service   *Service
	repo      *memoryRepo
	catalog   *memoryCatalog
	notifier  *capturingNotifier
	audit     *capturingAudit
	approvals *capturingApprovals
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	cat := newMemoryCatalog()
	cat.suppliers[1] = catalog.Supplier{ID: 1, Name: "Acme Supply", Email: "orders@acme.test"}
	cat.products[101] = catalog.Product{ID: 101, SKU: "SKU-1", Name: "Widget", Unit: "pcs"}
	cat.products[102] = catalog.Product{ID: 102, SKU: "SKU-2", Name: "Gadget", Unit: "pcs"}
	cat.nextID = 200

	notifier := &capturingNotifier{}
	audit := &capturingAudit{}
	approvals := &capturingApprovals{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := NewService(logger, repo, cat, audit, approvals, notifier, nil)
	return &fixture{service: service, repo: repo, catalog: cat, notifier: notifier, audit: audit, approvals: approvals}
}

func (f *fixture) createPO(t *testing.T, lines ...POLineInput) (PurchaseOrder, []POLine) {
	t.Helper()
	po, poLines, err := f.service.CreatePurchaseOrder(context.Background(), CreatePOInput{
		SupplierID: 1,
		Lines:      lines,
		ActorID:    7,
	})
	require.NoError(t, err)
	return po, poLines
}

func (f *fixture) sendPO(t *testing.T, id int64) {
	t.Helper()
	_, err := f.service.UpdatePurchaseOrderStatus(context.Background(), id, POStatusApproved, 7, "")
	require.NoError(t, err)
	_, err = f.service.UpdatePurchaseOrderStatus(context.Background(), id, POStatusSent, 7, "")
	require.NoError(t, err)
}

func (f *fixture) createGRN(t *testing.T, poID int64, lines ...GRNLineInput) GoodsReceipt {
	t.Helper()
	grn, _, err := f.service.CreateGoodsReceipt(context.Background(), CreateGRNInput{POID: poID, Lines: lines, ActorID: 7})
	require.NoError(t, err)
	return grn
}

func TestCreatePurchaseOrderTotalsAndDraft(t *testing.T) {
	f := newFixture(t)
	po, lines := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5},
		POLineInput{Name: "Mystery Part", Unit: "pcs", Qty: 4, UnitPrice: 2.5},
	)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, 60.0, po.Subtotal)
	require.Equal(t, 60.0, po.Total)
	require.NotEmpty(t, po.Number)
	require.Len(t, lines, 2)
	require.Equal(t, int64(101), lines[0].Product.ProductID)
	require.Equal(t, "SKU-1", lines[0].SKU)
	// The ref-less line raised a draft product.
	require.NotZero(t, lines[1].Product.DraftID)
	require.Zero(t, lines[1].Product.ProductID)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.service.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.service.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 99, Lines: []POLineInput{{ProductID: 101, Qty: 1, UnitPrice: 1}}})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.service.CreatePurchaseOrder(ctx, CreatePOInput{SupplierID: 1, Lines: []POLineInput{{ProductID: 101, Qty: 0, UnitPrice: 1}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdatePOStatusAllowList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, _ := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})

	_, err := f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusSent, 7, "")
	require.ErrorIs(t, err, ErrInvalidStatus)

	updated, err := f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusApproved, 7, "")
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, updated.Status)

	// Posting-engine-owned targets are never reachable from outside.
	_, err = f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusReceived, 7, "")
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusPartiallyReceived, 7, "")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApprovalTrailRecordedAndListed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, _ := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})

	trail, err := f.service.ListApprovals(ctx, po.ID)
	require.NoError(t, err)
	require.Empty(t, trail)

	_, err = f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusApproved, 7, "looks good")
	require.NoError(t, err)

	trail, err = f.service.ListApprovals(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	require.Equal(t, shared.ApprovalApprove, trail[0].Action)
	require.Equal(t, int64(7), trail[0].ActorID)
	require.Equal(t, "looks good", trail[0].Note)
	require.False(t, trail[0].At.IsZero())

	_, err = f.service.ListApprovals(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostGoodsReceiptFullDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})
	f.sendPO(t, po.ID)
	grn := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10})

	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))

	posted, _, err := f.repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusPosted, posted.Status)

	updatedPO, _, err := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, updatedPO.Status)

	require.Len(t, f.repo.state.ledger, 1)
	require.Equal(t, inventory.SourceGRN, f.repo.state.ledger[0].SourceType)
	require.Equal(t, 10.0, f.repo.state.ledger[0].QtyChange)
	require.Equal(t, 10.0, f.repo.state.onHand[101].Qty)

	require.Len(t, f.notifier.events, 1)
	require.Equal(t, grn.ID, f.notifier.events[0].GRNID)
	require.Equal(t, string(POStatusReceived), f.notifier.events[0].POStatus)
}

func TestPostGoodsReceiptIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})
	f.sendPO(t, po.ID)
	grn := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10})

	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))
	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))
	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))

	require.Len(t, f.repo.state.ledger, 1)
	require.Equal(t, 10.0, f.repo.state.onHand[101].Qty)
	require.Len(t, f.notifier.events, 1)
}

func TestPostGoodsReceiptBlockedByDraftOnlyLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5},
		POLineInput{Name: "Mystery Part", Unit: "pcs", Qty: 4, UnitPrice: 2.5},
	)
	f.sendPO(t, po.ID)
	grn := f.createGRN(t, po.ID,
		GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10},
		GRNLineInput{DraftID: poLines[1].Product.DraftID, POLineID: poLines[1].ID, Name: "Mystery Part", ReceivedQty: 4},
	)

	err := f.service.PostGoodsReceipt(ctx, grn.ID, 7)
	require.ErrorIs(t, err, ErrPostingBlocked)

	// Nothing moved, for either line.
	require.Empty(t, f.repo.state.ledger)
	require.Empty(t, f.repo.state.onHand)
	current, _, err := f.repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, current.Status)
	require.Empty(t, f.notifier.events)
}

func TestPostGoodsReceiptBlockedByZeroQtyDraftOnlyLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5},
		POLineInput{Name: "Mystery Part", Unit: "pcs", Qty: 4, UnitPrice: 2.5},
	)
	f.sendPO(t, po.ID)
	// The draft-only line carries no quantity, yet it still has no real
	// product identity and must block the posting.
	grn := f.createGRN(t, po.ID,
		GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10},
		GRNLineInput{DraftID: poLines[1].Product.DraftID, POLineID: poLines[1].ID, Name: "Mystery Part", ReceivedQty: 0},
	)

	err := f.service.PostGoodsReceipt(ctx, grn.ID, 7)
	require.ErrorIs(t, err, ErrPostingBlocked)

	require.Empty(t, f.repo.state.ledger)
	require.Empty(t, f.repo.state.onHand)
	current, _, err := f.repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, GRNStatusDraft, current.Status)
}

func TestPostGoodsReceiptAfterPromotionSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{Name: "Mystery Part", Unit: "pcs", Qty: 4, UnitPrice: 2.5})
	f.sendPO(t, po.ID)
	draftID := poLines[0].Product.DraftID
	grn := f.createGRN(t, po.ID, GRNLineInput{DraftID: draftID, POLineID: poLines[0].ID, Name: "Mystery Part", ReceivedQty: 4})

	require.ErrorIs(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7), ErrPostingBlocked)

	// Promote the draft and retry.
	f.catalog.products[300] = catalog.Product{ID: 300, SKU: "SKU-300", Name: "Mystery Part", Unit: "pcs", DraftID: draftID}
	draft := f.catalog.drafts[draftID]
	draft.PromotedTo = 300
	f.catalog.drafts[draftID] = draft

	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))
	require.Equal(t, 4.0, f.repo.state.onHand[300].Qty)

	// The posted line is pinned to the real product.
	_, lines, err := f.repo.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, int64(300), lines[0].Product.ProductID)

	updatedPO, _, err := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, updatedPO.Status)
}

func TestPartialThenFullReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})
	f.sendPO(t, po.ID)

	first := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 6})
	require.NoError(t, f.service.PostGoodsReceipt(ctx, first.ID, 7))
	current, _, err := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, current.Status)

	second := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 4})
	require.NoError(t, f.service.PostGoodsReceipt(ctx, second.ID, 7))
	current, _, err = f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, current.Status)

	require.Equal(t, 10.0, f.repo.state.onHand[101].Qty)
	require.Len(t, f.repo.state.ledger, 2)
}

func TestFulfillmentAllocatesUntracedReceiptsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Two order lines for the same product; receipts carry no line
	// back-reference, so quantities come out of a shared product pool.
	po, _ := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 5, UnitPrice: 5},
		POLineInput{ProductID: 101, Qty: 5, UnitPrice: 5},
	)
	f.sendPO(t, po.ID)

	first := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, ReceivedQty: 5})
	require.NoError(t, f.service.PostGoodsReceipt(ctx, first.ID, 7))
	current, _, err := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	// Five pieces cover one line, not both.
	require.Equal(t, POStatusPartiallyReceived, current.Status)

	second := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, ReceivedQty: 5})
	require.NoError(t, f.service.PostGoodsReceipt(ctx, second.ID, 7))
	current, _, err = f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, current.Status)
}

func TestPostGoodsReceiptAtomicUnderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5},
		POLineInput{ProductID: 102, Qty: 3, UnitPrice: 2},
	)
	f.sendPO(t, po.ID)
	grn := f.createGRN(t, po.ID,
		GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10},
		GRNLineInput{ProductID: 102, POLineID: poLines[1].ID, ReceivedQty: 3},
	)

	f.repo.failOnApply = 2
	err := f.service.PostGoodsReceipt(ctx, grn.ID, 7)
	require.Error(t, err)

	// The first line's effects rolled back with everything else.
	require.Empty(t, f.repo.state.ledger)
	require.Empty(t, f.repo.state.onHand)
	current, _, getErr := f.repo.GetGRN(ctx, grn.ID)
	require.NoError(t, getErr)
	require.Equal(t, GRNStatusDraft, current.Status)
	currentPO, _, getErr := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, getErr)
	require.Equal(t, POStatusSent, currentPO.Status)

	// A clean retry succeeds end to end.
	f.repo.failOnApply = 0
	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))
	require.Len(t, f.repo.state.ledger, 2)
	require.Equal(t, POStatusReceived, func() POStatus { p, _, _ := f.repo.GetPO(ctx, po.ID); return p.Status }())
}

func TestPostGoodsReceiptRejectsDraftAndClosedPO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})
	grn := f.createGRN(t, po.ID, GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10})

	err := f.service.PostGoodsReceipt(ctx, grn.ID, 7)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusApproved, 7, "")
	require.NoError(t, err)
	_, err = f.service.UpdatePurchaseOrderStatus(ctx, po.ID, POStatusClosed, 7, "")
	require.NoError(t, err)

	err = f.service.PostGoodsReceipt(ctx, grn.ID, 7)
	require.ErrorIs(t, err, ErrInvalidStatus)
	require.Empty(t, f.repo.state.ledger)
}

func TestPostGoodsReceiptSkipsZeroQtyLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t,
		POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5},
		POLineInput{ProductID: 102, Qty: 3, UnitPrice: 2},
	)
	f.sendPO(t, po.ID)
	grn := f.createGRN(t, po.ID,
		GRNLineInput{ProductID: 101, POLineID: poLines[0].ID, ReceivedQty: 10},
		GRNLineInput{ProductID: 102, POLineID: poLines[1].ID, ReceivedQty: 0},
	)

	require.NoError(t, f.service.PostGoodsReceipt(ctx, grn.ID, 7))
	require.Len(t, f.repo.state.ledger, 1)
	current, _, err := f.repo.GetPO(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, current.Status)
}

func TestCreateInvoiceAndPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{ProductID: 101, Qty: 10, UnitPrice: 5})

	inv, lines, err := f.service.CreateInvoice(ctx, CreateInvoiceInput{
		Number:     "INV-1001",
		SupplierID: 1,
		POID:       po.ID,
		Lines:      []InvoiceLineInput{{ProductID: 101, POLineID: poLines[0].ID, Qty: 10, UnitPrice: 5}},
		ActorID:    7,
	})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPending, inv.Status)
	require.Equal(t, 50.0, inv.Amount)
	require.Equal(t, 50.0, inv.BalanceRemaining)
	require.Len(t, lines, 1)

	// Overpayment is rejected.
	_, err = f.service.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 60, ActorID: 7})
	require.ErrorIs(t, err, ErrValidation)

	paid, err := f.service.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 20, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPending, paid.Status)
	require.Equal(t, 30.0, paid.BalanceRemaining)

	paid, err = f.service.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 30, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, paid.Status)
	require.Zero(t, paid.BalanceRemaining)

	// A settled invoice takes no further payments.
	_, err = f.service.RegisterPayment(ctx, PaymentInput{InvoiceID: inv.ID, Amount: 1, ActorID: 7})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateInvoiceStatusAllowList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv, _, err := f.service.CreateInvoice(ctx, CreateInvoiceInput{
		Number:     "INV-1002",
		SupplierID: 1,
		Lines:      []InvoiceLineInput{{ProductID: 101, Qty: 1, UnitPrice: 5}},
	})
	require.NoError(t, err)

	// PAID is reached through payments only.
	_, err = f.service.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusPaid, 7)
	require.ErrorIs(t, err, ErrInvalidStatus)

	overdue, err := f.service.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusOverdue, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusOverdue, overdue.Status)

	void, err := f.service.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusVoid, 7)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusVoid, void.Status)

	_, err = f.service.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatusPending, 7)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMatchServiceJoinsAcrossPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, poLines := f.createPO(t, POLineInput{Name: "Mystery Part", Unit: "pcs", Qty: 4, UnitPrice: 2.5})
	draftID := poLines[0].Product.DraftID

	// Promote, then bill and receive against the real product.
	f.catalog.products[300] = catalog.Product{ID: 300, SKU: "SKU-300", Name: "Mystery Part", Unit: "pcs", DraftID: draftID}
	draft := f.catalog.drafts[draftID]
	draft.PromotedTo = 300
	f.catalog.drafts[draftID] = draft

	inv, _, err := f.service.CreateInvoice(ctx, CreateInvoiceInput{
		Number:     "INV-1003",
		SupplierID: 1,
		POID:       po.ID,
		Lines:      []InvoiceLineInput{{ProductID: 300, Qty: 4, UnitPrice: 2.5}},
	})
	require.NoError(t, err)
	grn := f.createGRN(t, po.ID, GRNLineInput{ProductID: 300, ReceivedQty: 4})

	rows, err := f.service.Match(ctx, po.ID, inv.ID, grn.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].LineOK, "notes: %v", rows[0].Notes)
	require.Equal(t, "sku-300", rows[0].Key)
}

func TestMatchServiceUnknownPOYieldsEmptyReport(t *testing.T) {
	f := newFixture(t)
	rows, err := f.service.Match(context.Background(), 9999, 0, 0)
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = f.service.Match(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}
