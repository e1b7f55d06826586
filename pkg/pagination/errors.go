package pagination

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPageCancelled marks pages that were never fetched or never awaited
// because the collection was cancelled.
var ErrPageCancelled = errors.New("page not collected: cancelled")

// NoPagesFoundError is returned when a listing yields no records at all.
type NoPagesFoundError struct {
	URL   string
	Pages int
}

// Error implements the error interface.
func (e *NoPagesFoundError) Error() string {
	return fmt.Sprintf("no records found at %s (%d page(s))", e.URL, e.Pages)
}

// PageLimitError is returned when a base page announces more pages than the
// collector's MaxPages. No page beyond the base page is requested.
type PageLimitError struct {
	URL   string
	Pages int
	Limit int
}

// Error implements the error interface.
func (e *PageLimitError) Error() string {
	return fmt.Sprintf("%s announces %d pages, limit is %d", e.URL, e.Pages, e.Limit)
}

// PartialCollectionError is returned when some pages failed or were
// cancelled. Records holds everything merged from the successful pages.
type PartialCollectionError[R any] struct {
	Records []R

	// Missing lists the failed page indices in ascending order.
	Missing []int

	Total     int
	Cancelled bool

	// Errs maps a missing page index to its failure.
	Errs map[int]error
}

// Error implements the error interface.
func (e *PartialCollectionError[R]) Error() string {
	pages := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		pages[i] = fmt.Sprint(p)
	}
	reason := "failed"
	if e.Cancelled {
		reason = "cancelled"
	}
	return fmt.Sprintf("partial collection (%s): %d of %d pages missing [%s]",
		reason, len(e.Missing), e.Total, strings.Join(pages, " "))
}

// Unwrap returns the page errors so errors.Is finds causes such as
// ErrPageCancelled or a *client.StatusError.
func (e *PartialCollectionError[R]) Unwrap() []error {
	idx := make([]int, 0, len(e.Errs))
	for p := range e.Errs {
		idx = append(idx, p)
	}
	sort.Ints(idx)
	out := make([]error, 0, len(idx))
	for _, p := range idx {
		out = append(out, e.Errs[p])
	}
	return out
}
