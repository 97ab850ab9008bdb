package transit

import (
	"sort"
	"strings"

	"hustbus.dev/transit/model"
)

// Key used to match lines by name.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Groups line rows by normalized long name, so that the forward and
// backward rows of a line end up together. Lines without a long name
// are left out.
//
// The representative of a group is its first forward row, or its
// first row if none is forward. Directions list forward rows first,
// then by ID. Groups are ordered by key.
func MergeLines(lines []*model.Line) []*model.LineGroup {
	byKey := map[string]*model.LineGroup{}
	groups := []*model.LineGroup{}

	for _, l := range lines {
		key := normalizeName(l.LongName)
		if key == "" {
			continue
		}

		g, found := byKey[key]
		if !found {
			g = &model.LineGroup{Key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Directions = append(g.Directions, l)

		if g.Representative == nil || (l.Forward && !g.Representative.Forward) {
			g.Representative = l
		}
	}

	for _, g := range groups {
		g.Name = strings.TrimSpace(g.Representative.LongName)
		sort.SliceStable(g.Directions, func(i, j int) bool {
			a, b := g.Directions[i], g.Directions[j]
			if a.Forward != b.Forward {
				return a.Forward
			}
			return a.ID < b.ID
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})

	return groups
}

// Case insensitive substring match on long name, short name or ID
// of any direction. query must be normalized.
func groupMatches(group *model.LineGroup, query string) bool {
	if query == "" {
		return true
	}
	for _, l := range group.Directions {
		if strings.Contains(strings.ToLower(l.LongName), query) ||
			strings.Contains(strings.ToLower(l.ShortName), query) ||
			strings.Contains(strings.ToLower(l.ID), query) {
			return true
		}
	}
	return false
}
