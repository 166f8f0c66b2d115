package engine

import (
	"slices"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// TurnOrder sorts teams for the draft: highest balance first, then name.
// Names compare under Korean collation so mixed Hangul and Latin team names
// order the way organizers read them.
func TurnOrder(teams []Team) []uuid.UUID {
	sorted := slices.Clone(teams)
	col := collate.New(language.Korean)

	slices.SortStableFunc(sorted, func(a, b Team) int {
		if a.PointBalance != b.PointBalance {
			return b.PointBalance - a.PointBalance
		}
		return col.CompareString(a.Name, b.Name)
	})

	order := make([]uuid.UUID, len(sorted))
	for i, t := range sorted {
		order[i] = t.ID
	}
	return order
}
