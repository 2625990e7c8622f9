package domain

import (
	"sort"
	"strings"
)

// NormalizeAssets upper-cases, trims and de-duplicates asset tickers preserving order.
func NormalizeAssets(assets []string) []string {
	seen := make(map[string]bool, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// MergeWatchlist returns the sorted union of the all-time list and the active list.
// The all-time list only ever grows.
func MergeWatchlist(allTime, active []string) []string {
	merged := NormalizeAssets(append(append([]string(nil), allTime...), active...))
	sort.Strings(merged)
	return merged
}

// Markets builds the pairs for assets priced in quote, skipping the quote itself.
func Markets(assets []string, quote string) []Pair {
	pairs := make([]Pair, 0, len(assets))
	for _, a := range NormalizeAssets(assets) {
		p := NewPair(a, quote)
		if p.From == p.To {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs
}
