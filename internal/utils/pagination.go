// Package utils provides small helpers shared by the HTTP and service layers
// that carry no domain knowledge.
package utils

import "strconv"

// Page bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// AtoiDefault parses s, returning def when s is empty or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads raw query values and clamps them into range.
func ParsePage(rawPage, rawSize string) Page {
	return ClampPage(AtoiDefault(rawPage, 1), AtoiDefault(rawSize, DefaultPageSize))
}

// ClampPage forces number >= 1 and size into [1, MaxPageSize]; a
// non-positive size means the default.
func ClampPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows before this page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is ceil(total/size).
func (p Page) TotalPages(total int64) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether rows exist after this page.
func (p Page) HasNext(total int64) bool { return p.Number < p.TotalPages(total) }
