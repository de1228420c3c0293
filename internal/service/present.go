package service

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tournament-registry/internal/domain"
)

// SortKey names a sortable player column
type SortKey string

const (
	SortByLastName         SortKey = "lastName"
	SortByFirstName        SortKey = "firstName"
	SortByRegistrationDate SortKey = "registrationDate"
)

// ParseSortKey validates a sort key, defaulting to last name
func ParseSortKey(s string) (SortKey, bool) {
	switch SortKey(s) {
	case "":
		return SortByLastName, true
	case SortByLastName, SortByFirstName, SortByRegistrationDate:
		return SortKey(s), true
	}
	return "", false
}

// SortPlayers returns a sorted copy. Names compare with French collation.
func SortPlayers(players []domain.Player, key SortKey, descending bool) []domain.Player {
	out := append([]domain.Player(nil), players...)
	col := collate.New(language.French, collate.Loose)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if descending {
			a, b = b, a
		}
		switch key {
		case SortByFirstName:
			return col.CompareString(a.FirstName, b.FirstName) < 0
		case SortByRegistrationDate:
			return a.RegistrationDate.Before(b.RegistrationDate)
		default:
			return col.CompareString(a.LastName, b.LastName) < 0
		}
	})
	return out
}

// FilterByCategory keeps players registered in the category
func FilterByCategory(players []domain.Player, id domain.CategoryID) []domain.Player {
	out := make([]domain.Player, 0, len(players))
	for _, p := range players {
		if p.HasCategory(id) {
			out = append(out, p)
		}
	}
	return out
}

// CategoryGroup is the player list of one category
type CategoryGroup struct {
	CategoryID domain.CategoryID `json:"categoryId"`
	Label      string            `json:"label"`
	Players    []domain.Player   `json:"players"`
}

// GroupByCategory lists every category in rank order, empty ones included.
// A player registered in several categories appears in each.
func GroupByCategory(players []domain.Player) []CategoryGroup {
	groups := make([]CategoryGroup, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		groups = append(groups, CategoryGroup{
			CategoryID: c.ID,
			Label:      c.Label,
			Players:    FilterByCategory(players, c.ID),
		})
	}
	return groups
}
