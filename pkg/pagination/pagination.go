// Package pagination extracts first/max result windows from requests,
// the same vocabulary the search criteria use.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultMax = 50
	MaxMax     = 1000
)

// Params holds the result window extracted from a request.
type Params struct {
	First int
	Max   int
}

// FromContext extracts the result window from the echo context. "first"
// is the zero-based index of the first result, "max" the page size.
func FromContext(c echo.Context) Params {
	first, _ := strconv.Atoi(c.QueryParam("first"))
	if first < 0 {
		first = 0
	}

	max, _ := strconv.Atoi(c.QueryParam("max"))
	if max <= 0 {
		max = DefaultMax
	}
	if max > MaxMax {
		max = MaxMax
	}

	return Params{First: first, Max: max}
}

// Next returns the window for the page after this one.
func (p Params) Next() Params {
	return Params{First: p.First + p.Max, Max: p.Max}
}

// HasMore reports whether a page of the given length filled the window,
// meaning another page may follow.
func (p Params) HasMore(pageLen int) bool {
	return pageLen == p.Max
}
