// Package pagination infers collection sizes from paging metadata. All
// values are estimates, not authoritative counts.
package pagination

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/tomnomnom/linkheader"
)

// PageSize is the page size used against every backend
const PageSize = 100

// PageForCursor returns the 1-based page that contains the item at cursor
func PageForCursor(cursor, perPage int) int {
	if cursor < 0 {
		cursor = 0
	}
	return cursor/perPage + 1
}

// LastPage returns the page number of the rel="last" link, or 0 when absent
func LastPage(header http.Header) int {
	raw := header.Get("Link")
	if raw == "" {
		return 0
	}

	for _, link := range linkheader.Parse(raw).FilterByRel("last") {
		u, err := url.Parse(link.URL)
		if err != nil {
			continue
		}
		if page, err := strconv.Atoi(u.Query().Get("page")); err == nil && page > 0 {
			return page
		}
	}
	return 0
}

// Estimate returns lastPage*perPage when the Link header names a last page,
// otherwise fallback (usually the number of items on the current page).
func Estimate(header http.Header, perPage, fallback int) int {
	if last := LastPage(header); last > 0 {
		return last * perPage
	}
	return fallback
}

// FromTotal uses a backend-reported total when there is one
func FromTotal(total, fallback int) int {
	if total > 0 {
		return total
	}
	return fallback
}
