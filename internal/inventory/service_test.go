package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStockRepo struct {
	ledger []LedgerEntry
	onHand map[int64]OnHand
}

func newMemoryStockRepo() *memoryStockRepo {
	return &memoryStockRepo{onHand: make(map[int64]OnHand)}
}

func (r *memoryStockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshotLedger := append([]LedgerEntry(nil), r.ledger...)
	snapshotOnHand := make(map[int64]OnHand, len(r.onHand))
	for id, balance := range r.onHand {
		snapshotOnHand[id] = balance
	}
	if err := fn(ctx, r); err != nil {
		r.ledger = snapshotLedger
		r.onHand = snapshotOnHand
		return err
	}
	return nil
}

func (r *memoryStockRepo) GetOnHand(ctx context.Context, productID int64) (OnHand, error) {
	balance, ok := r.onHand[productID]
	if !ok {
		return OnHand{}, ErrOnHandNotFound
	}
	return balance, nil
}

func (r *memoryStockRepo) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, entry := range r.ledger {
		if entry.ProductID != filter.ProductID {
			continue
		}
		if filter.SourceType != "" && entry.SourceType != filter.SourceType {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *memoryStockRepo) SumLedger(ctx context.Context, productID int64) (float64, error) {
	sum := 0.0
	for _, entry := range r.ledger {
		if entry.ProductID == productID {
			sum += entry.QtyChange
		}
	}
	return sum, nil
}

func (r *memoryStockRepo) GetOnHandForUpdate(ctx context.Context, productID int64) (OnHand, error) {
	return r.GetOnHand(ctx, productID)
}

func (r *memoryStockRepo) UpsertOnHand(ctx context.Context, balance OnHand) error {
	r.onHand[balance.ProductID] = balance
	return nil
}

func (r *memoryStockRepo) AppendEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	entry.ID = int64(len(r.ledger) + 1)
	r.ledger = append(r.ledger, entry)
	return entry.ID, nil
}

func newStockService(repo *memoryStockRepo) *Service {
	return NewService(repo, nil, nil, ServiceConfig{})
}

func TestApplyKeepsLedgerAndProjectionTogether(t *testing.T) {
	repo := newMemoryStockRepo()
	ctx := context.Background()

	balance, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceGRN, SourceID: 10, QtyChange: 6}, false)
	require.NoError(t, err)
	require.Equal(t, 6.0, balance.Qty)

	balance, err = Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceGRN, SourceID: 11, QtyChange: 4}, false)
	require.NoError(t, err)
	require.Equal(t, 10.0, balance.Qty)

	sum, err := repo.SumLedger(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 10.0, sum)
	require.Equal(t, 10.0, repo.onHand[1].Qty)
}

func TestApplyRejectsZeroDeltaAndMissingProduct(t *testing.T) {
	repo := newMemoryStockRepo()
	ctx := context.Background()

	_, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceAdjustment, QtyChange: 0}, false)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Apply(ctx, repo, LedgerEntry{SourceType: SourceAdjustment, QtyChange: 1}, false)
	require.Error(t, err)
	require.Empty(t, repo.ledger)
}

func TestApplyNegativeStockGuard(t *testing.T) {
	repo := newMemoryStockRepo()
	ctx := context.Background()

	_, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceAdjustment, QtyChange: -5}, false)
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Empty(t, repo.ledger)

	// The same delta passes when negative stock is allowed.
	balance, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceAdjustment, QtyChange: -5}, true)
	require.NoError(t, err)
	require.Equal(t, -5.0, balance.Qty)
}

func TestGetOnHandDefaultsToZero(t *testing.T) {
	service := newStockService(newMemoryStockRepo())

	balance, err := service.GetOnHand(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), balance.ProductID)
	require.Zero(t, balance.Qty)

	_, err = service.GetOnHand(context.Background(), 0)
	require.Error(t, err)
}

func TestPostReversalCompensates(t *testing.T) {
	repo := newMemoryStockRepo()
	service := newStockService(repo)
	ctx := context.Background()

	_, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceGRN, SourceID: 10, QtyChange: 10}, false)
	require.NoError(t, err)

	balance, err := service.PostReversal(ctx, ReversalInput{ProductID: 1, SourceID: 10, Qty: 10, Memo: "wrong receipt"})
	require.NoError(t, err)
	require.Zero(t, balance.Qty)

	// The original entry is untouched; the reversal is a new negative row.
	require.Len(t, repo.ledger, 2)
	require.Equal(t, SourceGRN, repo.ledger[0].SourceType)
	require.Equal(t, 10.0, repo.ledger[0].QtyChange)
	require.Equal(t, SourceReversal, repo.ledger[1].SourceType)
	require.Equal(t, -10.0, repo.ledger[1].QtyChange)

	ok, err := service.CheckConservation(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPostReversalValidation(t *testing.T) {
	service := newStockService(newMemoryStockRepo())

	_, err := service.PostReversal(context.Background(), ReversalInput{ProductID: 1, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = service.PostReversal(context.Background(), ReversalInput{ProductID: 1, Qty: -3})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPostReversalCannotOvershoot(t *testing.T) {
	repo := newMemoryStockRepo()
	service := newStockService(repo)
	ctx := context.Background()

	_, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceGRN, SourceID: 10, QtyChange: 5}, false)
	require.NoError(t, err)

	_, err = service.PostReversal(ctx, ReversalInput{ProductID: 1, SourceID: 10, Qty: 8})
	require.ErrorIs(t, err, ErrNegativeStock)

	// Rolled back: nothing beyond the original receipt remains.
	require.Len(t, repo.ledger, 1)
	require.Equal(t, 5.0, repo.onHand[1].Qty)
}

func TestPostAdjustmentSignedCorrection(t *testing.T) {
	repo := newMemoryStockRepo()
	service := newStockService(repo)
	ctx := context.Background()

	balance, err := service.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 7, Memo: "stocktake surplus"})
	require.NoError(t, err)
	require.Equal(t, 7.0, balance.Qty)

	balance, err = service.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: -2, Memo: "breakage"})
	require.NoError(t, err)
	require.Equal(t, 5.0, balance.Qty)

	ok, err := service.CheckConservation(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListLedgerFiltersBySource(t *testing.T) {
	repo := newMemoryStockRepo()
	service := newStockService(repo)
	ctx := context.Background()

	_, err := Apply(ctx, repo, LedgerEntry{ProductID: 1, SourceType: SourceGRN, SourceID: 10, QtyChange: 5}, false)
	require.NoError(t, err)
	_, err = service.PostAdjustment(ctx, AdjustmentInput{ProductID: 1, Qty: 2})
	require.NoError(t, err)

	entries, err := service.ListLedger(ctx, LedgerFilter{ProductID: 1, SourceType: SourceGRN})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = service.ListLedger(ctx, LedgerFilter{})
	require.Error(t, err)
}
