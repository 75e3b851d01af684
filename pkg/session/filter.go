package session

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// FilterServices returns the names containing query, compared under Unicode
// case folding. A blank query matches everything. The result is sorted and
// never aliases names.
func FilterServices(names []string, query string) []string {
	fold := cases.Fold()
	q := fold.String(strings.TrimSpace(query))

	out := make([]string, 0, len(names))
	for _, name := range names {
		if q == "" || strings.Contains(fold.String(name), q) {
			out = append(out, name)
		}
	}
	sortServices(out)
	return out
}

// sortServices orders names case-insensitively, ties broken bytewise.
func sortServices(names []string) {
	fold := cases.Fold()
	keys := make(map[string]string, len(names))
	for _, n := range names {
		keys[n] = fold.String(n)
	}
	sort.SliceStable(names, func(i, j int) bool {
		ki, kj := keys[names[i]], keys[names[j]]
		if ki != kj {
			return ki < kj
		}
		return names[i] < names[j]
	})
}
