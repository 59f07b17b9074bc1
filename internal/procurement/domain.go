package procurement

import (
	"errors"
	"time"

	"github.com/procura-erp/procura/internal/catalog"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusApproved          POStatus = "APPROVED"
	POStatusSent              POStatus = "SENT"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusReceived          POStatus = "RECEIVED"
	POStatusClosed            POStatus = "CLOSED"
)

// Supplier invoice statuses.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft  GRNStatus = "DRAFT"
	GRNStatusPosted GRNStatus = "POSTED"
)

// poTransitions is the allow-list for externally requested PO moves.
// PARTIALLY_RECEIVED and RECEIVED are reserved for the posting engine and
// deliberately absent as targets here.
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusApproved},
	POStatusApproved:          {POStatusSent, POStatusClosed},
	POStatusSent:              {POStatusClosed},
	POStatusPartiallyReceived: {POStatusClosed},
	POStatusReceived:          {POStatusClosed},
}

// invoiceTransitions is the allow-list for externally requested invoice moves.
// PAID is reached through payments only.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusPending: {InvoiceStatusOverdue, InvoiceStatusVoid},
	InvoiceStatusOverdue: {InvoiceStatusVoid},
}

// CanTransitionPO reports whether an external action may move a PO from one
// status to another.
func CanTransitionPO(from, to POStatus) bool {
	for _, allowed := range poTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionInvoice reports whether an external action may move an invoice
// from one status to another.
func CanTransitionInvoice(from, to InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PurchaseOrder domain model. Subtotal is the sum of line totals and
// Total = Subtotal + Tax.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	Status     POStatus
	OrderDate  time.Time
	DueDate    time.Time
	Subtotal   float64
	Tax        float64
	Total      float64
	Notes      string
}

// POLine represents one ordered item. SKU/Name/Unit display fields are
// enriched from the catalog before matching and DTO mapping.
type POLine struct {
	ID        int64
	POID      int64
	Product   catalog.ProductRef
	SKU       string
	Name      string
	Unit      string
	Qty       float64
	UnitPrice float64
	LineTotal float64
}

// Invoice domain model. BalanceRemaining decreases with payments; the status
// flips to PAID when it reaches zero.
type Invoice struct {
	ID               int64
	Number           string
	SupplierID       int64
	POID             int64
	Date             time.Time
	DueDate          time.Time
	Amount           float64
	BalanceRemaining float64
	Status           InvoiceStatus
}

// InvoiceLine represents one billed item. POLineID is a non-owning
// back-reference used for reconciliation.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	Product   catalog.ProductRef
	POLineID  int64
	SKU       string
	Name      string
	Unit      string
	Qty       float64
	UnitPrice float64
	LineTotal float64
}

// GoodsReceipt domain model.
type GoodsReceipt struct {
	ID        int64
	Number    string
	POID      int64
	InvoiceID int64
	Date      time.Time
	Status    GRNStatus
}

// GRNLine describes received goods. POLineID and InvoiceLineID are
// non-owning back-references.
type GRNLine struct {
	ID            int64
	GRNID         int64
	Product       catalog.ProductRef
	POLineID      int64
	InvoiceLineID int64
	SKU           string
	Name          string
	Unit          string
	ReceivedQty   float64
	UnitPrice     float64
}

// Payment records an amount applied against an invoice balance.
type Payment struct {
	ID        int64
	InvoiceID int64
	Amount    float64
	PaidAt    time.Time
}

// POListItem is the flattened row returned by PO listings.
type POListItem struct {
	ID           int64
	Number       string
	SupplierID   int64
	SupplierName string
	Status       POStatus
	OrderDate    time.Time
	DueDate      time.Time
	Total        float64
	CreatedAt    time.Time
}

// ListFilters narrows PO listings.
type ListFilters struct {
	Status     string
	SupplierID int64
	Search     string
	SortBy     string
	SortDir    string
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrInvalidStatus occurs when a requested transition is not in the allow-list.
	ErrInvalidStatus = errors.New("procurement: invalid status transition")
	// ErrPostingBlocked occurs when a receipt line's product is still draft-only.
	ErrPostingBlocked = errors.New("procurement: posting blocked")
)
