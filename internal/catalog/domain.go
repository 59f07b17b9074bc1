package catalog

import (
	"errors"
	"fmt"
)

// Product is a real catalog entry with a stable identity. DraftID points back
// to the originating draft when the product was created via promotion.
type Product struct {
	ID      int64
	SKU     string
	Name    string
	Unit    string
	DraftID int64
}

// DraftProduct is a provisional entry raised during ordering, before formal
// onboarding. PromotedTo carries the real product id once promoted.
type DraftProduct struct {
	ID         int64
	Name       string
	Unit       string
	PromotedTo int64
}

// Supplier identity with the display fields the document layer flattens.
type Supplier struct {
	ID    int64
	Name  string
	Email string
}

// ProductRef references a product by real id, draft id, or both. Document
// lines carry this value object instead of two separately handled ids.
type ProductRef struct {
	ProductID int64 `json:"product_id,omitempty"`
	DraftID   int64 `json:"draft_id,omitempty"`
}

// IsZero reports whether the ref points at nothing.
func (r ProductRef) IsZero() bool {
	return r.ProductID == 0 && r.DraftID == 0
}

// Resolution is the catalog's answer for one ProductRef. ProductID is zero
// while the ref is still draft-only.
type Resolution struct {
	Ref       ProductRef
	ProductID int64
	SKU       string
	Name      string
	Unit      string
}

// Resolved reports whether the ref maps to a real product identity.
func (r Resolution) Resolved() bool {
	return r.ProductID != 0
}

// BucketKey returns the stable aggregation key for quantity sums: the real
// product id when present, else the draft id. Both sides of a promotion
// land in the same bucket.
func (r Resolution) BucketKey() string {
	if r.ProductID != 0 {
		return fmt.Sprintf("p:%d", r.ProductID)
	}
	return fmt.Sprintf("d:%d", r.Ref.DraftID)
}

var (
	// ErrNotFound indicates a missing catalog record.
	ErrNotFound = errors.New("catalog: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("catalog: invalid input")
	// ErrAlreadyPromoted indicates the draft already has a real product.
	ErrAlreadyPromoted = errors.New("catalog: draft already promoted")
)
