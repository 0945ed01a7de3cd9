package shared

import (
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Page is a resolved page window for list queries.
type Page struct {
	Page    int
	PerPage int
	Limit   int
	Offset  int
}

// NewPage clamps page and perPage and derives limit/offset.
func NewPage(page, perPage int) Page {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return Page{Page: page, PerPage: perPage, Limit: perPage, Offset: (page - 1) * perPage}
}

// ParsePagination reads page/per_page query values. Blank values use defaults.
func ParsePagination(page, perPage string) (Page, error) {
	p, pp := 0, 0
	var err error
	if page != "" {
		if p, err = strconv.Atoi(page); err != nil {
			return Page{}, Invalid("invalid page")
		}
	}
	if perPage != "" {
		if pp, err = strconv.Atoi(perPage); err != nil {
			return Page{}, Invalid("invalid per_page")
		}
	}
	return NewPage(p, pp), nil
}
