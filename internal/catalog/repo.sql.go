package catalog

import (
	"context"
	"errors"

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

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertDraft(ctx context.Context, draft DraftProduct) (int64, error)
	InsertProduct(ctx context.Context, product Product) (int64, error)
	MarkDraftPromoted(ctx context.Context, draftID, productID int64) error
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

// GetProducts returns products by id, keyed by id.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	products := make(map[int64]Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, unit, COALESCE(draft_id,0) FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.DraftID); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// GetDrafts returns draft products by id, keyed by id.
func (r *Repository) GetDrafts(ctx context.Context, ids []int64) (map[int64]DraftProduct, error) {
	drafts := make(map[int64]DraftProduct, len(ids))
	if len(ids) == 0 {
		return drafts, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, unit, COALESCE(promoted_to,0) FROM draft_products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d DraftProduct
		if err := rows.Scan(&d.ID, &d.Name, &d.Unit, &d.PromotedTo); err != nil {
			return nil, err
		}
		drafts[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drafts, nil
}

// GetDraft returns a single draft product.
func (r *Repository) GetDraft(ctx context.Context, id int64) (DraftProduct, error) {
	var d DraftProduct
	err := r.pool.QueryRow(ctx, `SELECT id, name, unit, COALESCE(promoted_to,0) FROM draft_products WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Unit, &d.PromotedTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DraftProduct{}, ErrNotFound
		}
		return DraftProduct{}, err
	}
	return d, nil
}

// GetSupplier returns a supplier by id.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, COALESCE(email,'') FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

func (tx *txRepo) InsertDraft(ctx context.Context, draft DraftProduct) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO draft_products (name, unit, created_at) VALUES ($1,$2,NOW()) RETURNING id`,
		draft.Name, draft.Unit).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertProduct(ctx context.Context, product Product) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO products (sku, name, unit, draft_id, created_at) VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		product.SKU, product.Name, product.Unit, nullInt(product.DraftID)).Scan(&id)
	return id, err
}

func (tx *txRepo) MarkDraftPromoted(ctx context.Context, draftID, productID int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE draft_products SET promoted_to=$1 WHERE id=$2`, productID, draftID)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
