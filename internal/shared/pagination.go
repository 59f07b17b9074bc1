package shared

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination clamps page inputs and derives the page count. Defaults to 20
// rows per page.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	pages := (total + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// Offset is the row offset of the page for LIMIT/OFFSET queries.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
