package inventory

import (
	"context"
	"errors"
	"fmt"
)

// Apply appends one ledger entry and moves the on-hand projection by the same
// delta, inside the caller's transaction. Every stock mutation in the system
// funnels through here so an entry and its projection update can never be
// observed apart.
func Apply(ctx context.Context, tx TxRepository, entry LedgerEntry, allowNegative bool) (OnHand, error) {
	if entry.QtyChange == 0 {
		return OnHand{}, ErrInvalidQuantity
	}
	if entry.ProductID == 0 {
		return OnHand{}, fmt.Errorf("inventory: product required")
	}
	balance, err := tx.GetOnHandForUpdate(ctx, entry.ProductID)
	if err != nil && !errors.Is(err, ErrOnHandNotFound) {
		return OnHand{}, err
	}
	newQty := balance.Qty + entry.QtyChange
	if !allowNegative && newQty < -0.0001 {
		return OnHand{}, ErrNegativeStock
	}
	if _, err := tx.AppendEntry(ctx, entry); err != nil {
		return OnHand{}, err
	}
	balance.Qty = newQty
	if err := tx.UpsertOnHand(ctx, balance); err != nil {
		return OnHand{}, err
	}
	return balance, nil
}
