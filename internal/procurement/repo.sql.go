package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procura-erp/procura/internal/inventory"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Stock mutations run through
// the same transaction so a receipt can never post partially.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) (int64, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	SetInvoiceBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus) error
	CreatePayment(ctx context.Context, payment Payment) (int64, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLine(ctx context.Context, line GRNLine) (int64, error)
	UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error
	GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	SetGRNLineProduct(ctx context.Context, lineID, productID int64) error
	ListPostedGRNLines(ctx context.Context, poID int64) ([]GRNLine, error)
	ApplyStock(ctx context.Context, entry inventory.LedgerEntry) (inventory.OnHand, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Fetch helpers

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, status, order_date, COALESCE(due_date, order_date), subtotal, tax, total, notes
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.OrderDate, &po.DueDate, &po.Subtotal, &po.Tax, &po.Total, &po.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, COALESCE(product_id,0), COALESCE(draft_id,0), name, unit, qty, unit_price, line_total
FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.Product.ProductID, &line.Product.DraftID, &line.Name, &line.Unit, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// GetInvoice returns invoice and lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, []InvoiceLine, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, po_id, issued_at, COALESCE(due_at, issued_at), amount, balance_remaining, status
FROM invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.POID, &inv.Date, &inv.DueDate, &inv.Amount, &inv.BalanceRemaining, &inv.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, nil, ErrNotFound
		}
		return Invoice{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, COALESCE(product_id,0), COALESCE(draft_id,0), COALESCE(po_line_id,0), name, unit, qty, unit_price, line_total
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return Invoice{}, nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.Product.ProductID, &line.Product.DraftID, &line.POLineID, &line.Name, &line.Unit, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return Invoice{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, nil, err
	}
	return inv, lines, nil
}

// GetGRN returns goods receipt and lines.
func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	var grn GoodsReceipt
	err := r.pool.QueryRow(ctx, `SELECT id, number, po_id, COALESCE(invoice_id,0), received_at, status FROM grns WHERE id=$1`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.InvoiceID, &grn.Date, &grn.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, ErrNotFound
		}
		return GoodsReceipt{}, nil, err
	}
	lines, err := scanGRNLines(ctx, r.pool, `SELECT id, grn_id, COALESCE(product_id,0), COALESCE(draft_id,0), COALESCE(po_line_id,0), COALESCE(invoice_line_id,0), name, unit, received_qty, unit_price
FROM grn_lines WHERE grn_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, err
	}
	return grn, lines, nil
}

// ListPOs returns purchase orders with supplier name and computed totals.
func (r *Repository) ListPOs(ctx context.Context, limit, offset int, filters ListFilters) ([]POListItem, int, error) {
	countSQL := `SELECT COUNT(*) FROM purchase_orders p WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.Status != "" {
		countSQL += ` AND p.status = $` + itoa(argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierID > 0 {
		countSQL += ` AND p.supplier_id = $` + itoa(argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	if filters.Search != "" {
		countSQL += ` AND p.number ILIKE $` + itoa(argNum)
		args = append(args, "%"+filters.Search+"%")
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT p.id, p.number, p.supplier_id, COALESCE(s.name, '') AS supplier_name,
		p.status, p.order_date, COALESCE(p.due_date, p.order_date), p.total, p.created_at
	FROM purchase_orders p
	LEFT JOIN suppliers s ON s.id = p.supplier_id
	WHERE 1=1`

	args2 := []any{}
	argNum2 := 1
	if filters.Status != "" {
		dataSQL += ` AND p.status = $` + itoa(argNum2)
		args2 = append(args2, filters.Status)
		argNum2++
	}
	if filters.SupplierID > 0 {
		dataSQL += ` AND p.supplier_id = $` + itoa(argNum2)
		args2 = append(args2, filters.SupplierID)
		argNum2++
	}
	if filters.Search != "" {
		dataSQL += ` AND p.number ILIKE $` + itoa(argNum2)
		args2 = append(args2, "%"+filters.Search+"%")
		argNum2++
	}

	orderBy := sortOrderPO(filters.SortBy, filters.SortDir)
	dataSQL += ` ORDER BY ` + orderBy + ` LIMIT $` + itoa(argNum2) + ` OFFSET $` + itoa(argNum2+1)
	args2 = append(args2, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args2...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []POListItem
	for rows.Next() {
		var item POListItem
		if err := rows.Scan(&item.ID, &item.Number, &item.SupplierID, &item.SupplierName,
			&item.Status, &item.OrderDate, &item.DueDate, &item.Total, &item.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, status, order_date, due_date, subtotal, tax, total, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.Status, po.OrderDate, nullDate(po.DueDate), po.Subtotal, po.Tax, po.Total, po.Notes).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPOLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO po_lines (po_id, product_id, draft_id, name, unit, qty, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.POID, nullInt(line.Product.ProductID), nullInt(line.Product.DraftID), line.Name, line.Unit, line.Qty, line.UnitPrice, line.LineTotal).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := tx.tx.QueryRow(ctx, `SELECT id, number, supplier_id, status, order_date, COALESCE(due_date, order_date), subtotal, tax, total, notes
FROM purchase_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.OrderDate, &po.DueDate, &po.Subtotal, &po.Tax, &po.Total, &po.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (tx *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO invoices (number, supplier_id, po_id, issued_at, due_at, amount, balance_remaining, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		inv.Number, inv.SupplierID, inv.POID, inv.Date, nullDate(inv.DueDate), inv.Amount, inv.BalanceRemaining, inv.Status).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertInvoiceLine(ctx context.Context, line InvoiceLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO invoice_lines (invoice_id, product_id, draft_id, po_line_id, name, unit, qty, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		line.InvoiceID, nullInt(line.Product.ProductID), nullInt(line.Product.DraftID), nullInt(line.POLineID), line.Name, line.Unit, line.Qty, line.UnitPrice, line.LineTotal).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE invoices SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) SetInvoiceBalance(ctx context.Context, id int64, balance float64, status InvoiceStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE invoices SET balance_remaining=$1, status=$2 WHERE id=$3`, balance, status, id)
	return err
}

func (tx *txRepo) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO invoice_payments (invoice_id, amount, paid_at) VALUES ($1,$2,COALESCE($3,NOW())) RETURNING id`,
		payment.InvoiceID, payment.Amount, nullDate(payment.PaidAt)).Scan(&id)
	return id, err
}

func (tx *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	var inv Invoice
	err := tx.tx.QueryRow(ctx, `SELECT id, number, supplier_id, po_id, issued_at, COALESCE(due_at, issued_at), amount, balance_remaining, status
FROM invoices WHERE id=$1 FOR UPDATE`, id).
		Scan(&inv.ID, &inv.Number, &inv.SupplierID, &inv.POID, &inv.Date, &inv.DueDate, &inv.Amount, &inv.BalanceRemaining, &inv.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grns (number, po_id, invoice_id, received_at, status, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		grn.Number, grn.POID, nullInt(grn.InvoiceID), grn.Date, grn.Status).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertGRNLine(ctx context.Context, line GRNLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grn_lines (grn_id, product_id, draft_id, po_line_id, invoice_line_id, name, unit, received_qty, unit_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		line.GRNID, nullInt(line.Product.ProductID), nullInt(line.Product.DraftID), nullInt(line.POLineID), nullInt(line.InvoiceLineID), line.Name, line.Unit, line.ReceivedQty, line.UnitPrice).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grns SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	var grn GoodsReceipt
	err := tx.tx.QueryRow(ctx, `SELECT id, number, po_id, COALESCE(invoice_id,0), received_at, status FROM grns WHERE id=$1 FOR UPDATE`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.InvoiceID, &grn.Date, &grn.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, ErrNotFound
		}
		return GoodsReceipt{}, err
	}
	return grn, nil
}

func (tx *txRepo) SetGRNLineProduct(ctx context.Context, lineID, productID int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grn_lines SET product_id=$1 WHERE id=$2`, productID, lineID)
	return err
}

func (tx *txRepo) ListPostedGRNLines(ctx context.Context, poID int64) ([]GRNLine, error) {
	return scanGRNLines(ctx, tx.tx, `SELECT l.id, l.grn_id, COALESCE(l.product_id,0), COALESCE(l.draft_id,0), COALESCE(l.po_line_id,0), COALESCE(l.invoice_line_id,0), l.name, l.unit, l.received_qty, l.unit_price
FROM grn_lines l JOIN grns g ON g.id = l.grn_id
WHERE g.po_id=$1 AND g.status='POSTED' ORDER BY l.id`, poID)
}

func (tx *txRepo) ApplyStock(ctx context.Context, entry inventory.LedgerEntry) (inventory.OnHand, error) {
	return inventory.Apply(ctx, inventory.NewPgTxStore(tx.tx), entry, false)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanGRNLines(ctx context.Context, q queryer, sql string, args ...any) ([]GRNLine, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var line GRNLine
		if err := rows.Scan(&line.ID, &line.GRNID, &line.Product.ProductID, &line.Product.DraftID, &line.POLineID, &line.InvoiceLineID, &line.Name, &line.Unit, &line.ReceivedQty, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}

// sortOrderPO returns a safe ORDER BY clause for PO queries.
func sortOrderPO(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "p.number " + dir
	case "supplier":
		return "supplier_name " + dir
	case "order_date":
		return "p.order_date " + dir
	case "total":
		return "p.total " + dir
	case "status":
		return "p.status " + dir
	default:
		return "p.created_at DESC"
	}
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
