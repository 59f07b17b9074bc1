package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional ledger operations. The goods receipt
// posting transaction in the procurement package runs against the same
// interface so stock increments and ledger appends share its transaction.
type TxRepository interface {
	GetOnHandForUpdate(ctx context.Context, productID int64) (OnHand, error)
	UpsertOnHand(ctx context.Context, balance OnHand) error
	AppendEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

// PgTxStore implements TxRepository on an open pgx transaction.
type PgTxStore struct {
	tx pgx.Tx
}

// NewPgTxStore binds ledger operations to an existing transaction.
func NewPgTxStore(tx pgx.Tx) *PgTxStore {
	return &PgTxStore{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := NewPgTxStore(tx)
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetOnHand returns the current projection for a product.
func (r *Repository) GetOnHand(ctx context.Context, productID int64) (OnHand, error) {
	var b OnHand
	err := r.pool.QueryRow(ctx, `SELECT product_id, qty, updated_at FROM stock_on_hand WHERE product_id=$1`, productID).
		Scan(&b.ProductID, &b.Qty, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OnHand{ProductID: productID}, ErrOnHandNotFound
		}
		return OnHand{}, err
	}
	return b, nil
}

// ListLedger returns entries newest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, product_id, source_type, source_id, qty_change, memo, created_at
FROM stock_ledger WHERE product_id=$1`
	args := []any{filter.ProductID}
	if filter.SourceType != "" {
		query += ` AND source_type=$2`
		args = append(args, string(filter.SourceType))
	}
	query += ` ORDER BY id DESC LIMIT ` + itoa(limit) + ` OFFSET ` + itoa(filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var src string
		if err := rows.Scan(&e.ID, &e.ProductID, &src, &e.SourceID, &e.QtyChange, &e.Memo, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceType = SourceType(src)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// SumLedger returns the ledger running sum for a product, used by the
// conservation check against the projection.
func (r *Repository) SumLedger(ctx context.Context, productID int64) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_change),0) FROM stock_ledger WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

func (s *PgTxStore) GetOnHandForUpdate(ctx context.Context, productID int64) (OnHand, error) {
	var b OnHand
	err := s.tx.QueryRow(ctx, `SELECT product_id, qty, updated_at FROM stock_on_hand WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&b.ProductID, &b.Qty, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OnHand{ProductID: productID}, ErrOnHandNotFound
		}
		return OnHand{}, err
	}
	return b, nil
}

func (s *PgTxStore) UpsertOnHand(ctx context.Context, balance OnHand) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_on_hand (product_id, qty, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (product_id) DO UPDATE SET qty=EXCLUDED.qty, updated_at=NOW()`, balance.ProductID, balance.Qty)
	return err
}

func (s *PgTxStore) AppendEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_ledger (product_id, source_type, source_id, qty_change, memo, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, entry.ProductID, string(entry.SourceType), entry.SourceID, entry.QtyChange, entry.Memo).Scan(&id)
	return id, err
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
