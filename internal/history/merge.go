package history

import (
	"sort"

	"MarginSync/internal/venue"
)

// Merge combines an already-normalized sequence with incoming fills into one
// deduplicated sequence ordered by timestamp descending, newest first. When
// the same dedup key appears in both inputs the existing fill wins; duplicate
// keys within incoming keep the first occurrence. Pure: neither input is
// mutated.
func Merge(existing, incoming []venue.Fill) []venue.Fill {
	merged := make([]venue.Fill, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	for _, f := range existing {
		key := f.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, normalize(f))
	}
	for _, f := range incoming {
		key := f.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, normalize(f))
	}

	// Stable so that equal timestamps keep existing-before-incoming order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}

// normalize fills in fields the feeds leave blank. The historical REST feed
// carries a market name; the live feed only carries the currency pair.
func normalize(f venue.Fill) venue.Fill {
	if f.Market == "" && f.BaseCurrency != "" && f.QuoteCurrency != "" {
		f.Market = f.BaseCurrency + "/" + f.QuoteCurrency
	}
	return f
}
