package store

import (
	"sort"

	"marketpulse/internal/domain"
)

// Dedup returns the canonical form of the concatenated bar groups: one bar
// per date, ascending. On a date collision the bar that appears later in the
// argument order wins, so Dedup(stored, incoming) lets revisions overwrite
// history. Inputs are not modified.
func Dedup(groups ...[]domain.Bar) domain.Series {
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	all := make([]domain.Bar, 0, n)
	for _, g := range groups {
		all = append(all, g...)
	}

	// Stable sort keeps arrival order among equal dates.
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date < all[j].Date })

	out := make(domain.Series, 0, len(all))
	for _, b := range all {
		if k := len(out); k > 0 && out[k-1].Date == b.Date {
			out[k-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
