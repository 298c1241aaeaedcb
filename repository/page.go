package repository

// Page is one slice of a paginated listing. Previous and Next hold the
// neighbouring page numbers, or nil at either end.
type Page[T any] struct {
	Results  []T  `json:"results"`
	Count    int  `json:"count"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	Previous *int `json:"previous"`
	Next     *int `json:"next"`
}

// NewPage assembles a Page from the rows of one page and the total count.
func NewPage[T any](results []T, count, page, pageSize int) Page[T] {
	p := Page[T]{
		Results:  results,
		Count:    count,
		Page:     page,
		PageSize: pageSize,
	}
	if p.Results == nil {
		p.Results = []T{}
	}
	if page > 1 {
		prev := page - 1
		p.Previous = &prev
	}
	if page*pageSize < count {
		next := page + 1
		p.Next = &next
	}
	return p
}

// Pages returns the number of pages needed for Count records.
func (p Page[T]) Pages() int {
	if p.PageSize <= 0 || p.Count == 0 {
		return 0
	}
	return (p.Count + p.PageSize - 1) / p.PageSize
}
