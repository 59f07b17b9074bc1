package procurement

import "context"

// GRNPostedEvent is emitted after a posting transaction commits.
type GRNPostedEvent struct {
	GRNID     int64   `json:"grn_id"`
	Number    string  `json:"number"`
	POID      int64   `json:"po_id"`
	PONumber  string  `json:"po_number"`
	POStatus  string  `json:"po_status"`
	LineCount int     `json:"line_count"`
	TotalQty  float64 `json:"total_qty"`
}

// NotifierPort dispatches post-commit notifications. Implementations must not
// participate in the posting transaction.
type NotifierPort interface {
	GRNPosted(ctx context.Context, event GRNPostedEvent) error
}
