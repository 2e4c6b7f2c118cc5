package contact

import (
	"sort"

	"sosapp/contact-server/internal/model"
)

// Pair is an ordered pair of users evaluated within one pass.
type Pair struct {
	First  model.User
	Second model.User
}

// Pairs returns every combination of two distinct users, after sorting by ID.
// First always precedes Second in the sorted order, so each unordered pair appears once
// and keeps the same direction from one pass to the next.
func Pairs(users []model.User) []Pair {
	sorted := make([]model.User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	if len(sorted) < 2 {
		return nil
	}

	pairs := make([]Pair, 0, len(sorted)*(len(sorted)-1)/2)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairs = append(pairs, Pair{First: sorted[i], Second: sorted[j]})
		}
	}
	return pairs
}
