package records

import (
	"slices"
	"strings"

	"github.com/luyichen/pikapost/internal/models"
	"github.com/luyichen/pikapost/internal/names"
)

// MergeWithFriends combines the grouped projection with the current friend
// list so that every friend appears exactly once, friends without exchanges
// included. Identity fields always come from the friend list, because the
// copies embedded in exchange records may be stale. Groups whose key matches no
// current friend are dropped.
func MergeWithFriends(friends []models.Friend, groups []models.GroupedRecord) []models.GroupedRecord {
	byKey := make(map[string]models.GroupedRecord, len(groups))
	byName := make(map[string]models.GroupedRecord, len(groups))
	for _, g := range groups {
		byKey[g.FriendKey] = g
		byName[g.FriendName] = g
	}

	out := make([]models.GroupedRecord, 0, len(friends))
	for _, f := range friends {
		// Formal records carry the friend id; manual ones only ever carried
		// a name, so fall back to the name index.
		g, ok := byKey[f.ID]
		if !ok {
			g, ok = byName[f.Name]
		}

		merged := models.GroupedRecord{
			FriendKey:    f.ID,
			FriendName:   f.Name,
			FriendAvatar: f.AvatarURL,
			IsFavorite:   f.IsFavorite,
		}
		if ok {
			merged.Postcards = make([]models.PostcardSummary, len(g.Postcards))
			copy(merged.Postcards, g.Postcards)
			slices.SortStableFunc(merged.Postcards, func(a, b models.PostcardSummary) int {
				return names.Compare(a.Title, b.Title)
			})
		}
		out = append(out, merged)
	}
	return out
}

// SortGroups orders merged groups by friend name with the shared comparator,
// so the records view and the friends view agree.
func SortGroups(groups []models.GroupedRecord) {
	slices.SortStableFunc(groups, func(a, b models.GroupedRecord) int {
		return names.Compare(a.FriendName, b.FriendName)
	})
}

// FilterGroups narrows merged groups to favorites and/or a case-insensitive
// name search term.
func FilterGroups(groups []models.GroupedRecord, favoritesOnly bool, search string) []models.GroupedRecord {
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]models.GroupedRecord, 0, len(groups))
	for _, g := range groups {
		if favoritesOnly && !g.IsFavorite {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(g.FriendName), search) {
			continue
		}
		out = append(out, g)
	}
	return out
}
