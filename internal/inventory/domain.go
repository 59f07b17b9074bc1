package inventory

import (
	"errors"
	"time"
)

// SourceType tags a ledger entry with the document kind that produced it.
type SourceType string

const (
	// SourceGRN marks entries appended by goods receipt posting.
	SourceGRN SourceType = "GRN"
	// SourceReversal marks compensating entries for wrongly posted receipts.
	SourceReversal SourceType = "REVERSAL"
	// SourceAdjustment marks manual stock corrections.
	SourceAdjustment SourceType = "ADJUSTMENT"
)

// LedgerEntry is one immutable signed quantity delta. The running sum of
// QtyChange per product equals current on-hand stock.
type LedgerEntry struct {
	ID         int64
	ProductID  int64
	SourceType SourceType
	SourceID   int64
	QtyChange  float64
	Memo       string
	CreatedAt  time.Time
}

// OnHand is the current stock projection for one product, derived from the
// ledger and maintained in the same transaction as each append.
type OnHand struct {
	ProductID int64
	Qty       float64
	UpdatedAt time.Time
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ProductID  int64
	SourceType SourceType
	Limit      int
	Offset     int
}

// ReversalInput describes a compensating entry against a posted receipt.
type ReversalInput struct {
	ProductID int64
	SourceID  int64
	Qty       float64
	Memo      string
	Ref       string
	ActorID   int64
}

// AdjustmentInput describes a manual signed correction.
type AdjustmentInput struct {
	ProductID int64
	Qty       float64
	Memo      string
	Ref       string
	ActorID   int64
}

var (
	// ErrNegativeStock triggered when a movement would drive stock below zero.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates a zero or malformed quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")
	// ErrOnHandNotFound indicates no projection row exists yet for a product.
	ErrOnHandNotFound = errors.New("inventory: on-hand not found")
)
