package common

import (
	"net/http"
	"strconv"
)

// MaxPerPage caps the page size clients may request.
const MaxPerPage = 100

// Page describes one page of a list response.
type Page struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// ParsePage reads ?page= and ?limit= with defaults, clamping the size to MaxPerPage.
func ParsePage(r *http.Request, defaultPerPage int) Page {
	p := Page{Page: 1, PerPage: defaultPerPage}
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.PerPage = v
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset is the number of rows preceding the page.
func (p Page) Offset() int { return (p.Page - 1) * p.PerPage }

// WithTotal returns p with the total item and page counts filled in.
func (p Page) WithTotal(total int) Page {
	p.TotalItems = total
	if p.PerPage > 0 {
		p.TotalPages = (total + p.PerPage - 1) / p.PerPage
	}
	return p
}
