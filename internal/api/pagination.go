package api

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// PaginationParams is the page window requested by a list call.
type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page from the query string. Missing or
// non-positive values fall back to page 1 and 25 per page; per_page is capped
// at 100.
func ParsePagination(r *http.Request) PaginationParams {
	q := r.URL.Query()
	return PaginationParams{
		Page:    positiveParam(q, "page", 1),
		PerPage: min(positiveParam(q, "per_page", defaultPerPage), maxPerPage),
	}
}

func positiveParam(q url.Values, key string, fallback int) int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Offset is the number of rows skipped before this page.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// TotalPages returns how many pages total rows span.
func (p PaginationParams) TotalPages(total int64) int {
	if p.PerPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// Meta builds the pagination block of a list response.
func (p PaginationParams) Meta(total int64) PaginationMeta {
	return PaginationMeta{
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      total,
		TotalPages: p.TotalPages(total),
	}
}
