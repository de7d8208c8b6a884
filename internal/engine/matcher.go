package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/pimsync/internal/link"
	"github.com/roach88/pimsync/internal/model"
)

// TieBreak chooses between one-sided links competing for the same item.
type TieBreak string

const (
	// TieBreakEarliestCreated keeps the earliest-created counterpart.
	TieBreakEarliestCreated TieBreak = "earliest-created"
	// TieBreakLatestModified keeps the most recently modified counterpart.
	TieBreakLatestModified TieBreak = "latest-modified"
)

// ParseTieBreak validates a tie-break name. Empty selects the default.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "":
		return TieBreakEarliestCreated, nil
	case TieBreakEarliestCreated, TieBreakLatestModified:
		return TieBreak(s), nil
	}
	return "", fmt.Errorf("unknown dedupe tie-break %q", s)
}

// Matcher pairs the items of both stores into Matches.
//
// Every item lands in exactly one Match. Link edges are taken first,
// reciprocal before one-sided; competing one-sided edges are settled by the
// tie-break and the losers are demoted. Items without any link are paired
// heuristically by identity key. Whatever is left becomes a singleton.
type Matcher struct {
	TieBreak TieBreak
}

// NewMatcher creates a matcher. An empty tie-break uses earliest-created.
func NewMatcher(tb TieBreak) *Matcher {
	if tb == "" {
		tb = TieBreakEarliestCreated
	}
	return &Matcher{TieBreak: tb}
}

type edge struct {
	p, s       *model.Item
	reciprocal bool
}

// Match partitions primaries and secondaries. The result is ordered by
// Match key and is the same for the same input regardless of input order.
func (m *Matcher) Match(primaries, secondaries []model.Item) []*model.Match {
	ps := cloneSorted(primaries)
	ss := cloneSorted(secondaries)
	pByID := indexByID(ps)
	sByID := indexByID(ss)

	edges := m.edges(ps, ss, pByID, sByID)

	matchedP := make(map[string]bool)
	matchedS := make(map[string]bool)
	var out []*model.Match

	for _, e := range edges {
		if matchedP[e.p.ID] || matchedS[e.s.ID] {
			continue
		}
		matchedP[e.p.ID] = true
		matchedS[e.s.ID] = true
		out = append(out, &model.Match{Primary: e.p, Secondary: e.s, NeedsLink: !e.reciprocal})
	}

	// Items whose edges all lost, and items linking outside the listing.
	var unlinkedP, unlinkedS []*model.Item
	for _, p := range ps {
		if matchedP[p.ID] {
			continue
		}
		id, linked := link.Resolve(model.Primary, p)
		switch {
		case !linked:
			unlinkedP = append(unlinkedP, p)
		case sByID[id] != nil:
			out = append(out, &model.Match{Primary: p, Demoted: true})
		default:
			out = append(out, &model.Match{Primary: p, LinkExisted: true})
		}
	}
	for _, s := range ss {
		if matchedS[s.ID] {
			continue
		}
		id, linked := link.Resolve(model.Secondary, s)
		switch {
		case !linked:
			unlinkedS = append(unlinkedS, s)
		case pByID[id] != nil:
			out = append(out, &model.Match{Secondary: s, Demoted: true})
		default:
			out = append(out, &model.Match{Secondary: s, LinkExisted: true})
		}
	}

	out = append(out, pairHeuristically(unlinkedP, unlinkedS)...)

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// edges collects every link edge between listed items, in acceptance order.
func (m *Matcher) edges(ps, ss []*model.Item, pByID, sByID map[string]*model.Item) []edge {
	seen := make(map[[2]string]bool)
	var edges []edge
	add := func(p, s *model.Item) {
		key := [2]string{p.ID, s.ID}
		if seen[key] || p.Kind != s.Kind {
			return
		}
		seen[key] = true
		edges = append(edges, edge{p: p, s: s, reciprocal: link.Reciprocal(p, s)})
	}
	for _, p := range ps {
		if id, ok := link.Resolve(model.Primary, p); ok {
			if s := sByID[id]; s != nil {
				add(p, s)
			}
		}
	}
	for _, s := range ss {
		if id, ok := link.Resolve(model.Secondary, s); ok {
			if p := pByID[id]; p != nil {
				add(p, s)
			}
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.reciprocal != b.reciprocal {
			return a.reciprocal
		}
		if c := m.compare(a.s, b.s); c != 0 {
			return c < 0
		}
		return m.compare(a.p, b.p) < 0
	})
	return edges
}

// compare orders two items on the same side by preference: negative when a
// should win. Ties fall back to the lowest ID.
func (m *Matcher) compare(a, b *model.Item) int {
	if a.ID == b.ID {
		return 0
	}
	switch m.TieBreak {
	case TieBreakLatestModified:
		if !a.Modified.Equal(b.Modified) {
			if a.Modified.After(b.Modified) {
				return -1
			}
			return 1
		}
	default:
		if !a.Created.Equal(b.Created) {
			if a.Created.Before(b.Created) {
				return -1
			}
			return 1
		}
	}
	if a.ID < b.ID {
		return -1
	}
	return 1
}

// pairHeuristically pairs unlinked items by identity key, then contacts by
// display name. Pairs need linking; the rest become singletons.
func pairHeuristically(ps, ss []*model.Item) []*model.Match {
	var out []*model.Match
	matchedP := make(map[string]bool)
	matchedS := make(map[string]bool)

	for _, keyOf := range []func(*model.Item) string{model.IdentityKey, model.FallbackKey} {
		pool := make(map[string][]*model.Item)
		for _, s := range ss {
			if matchedS[s.ID] {
				continue
			}
			if k := keyOf(s); k != "" {
				pool[k] = append(pool[k], s)
			}
		}
		for _, p := range ps {
			if matchedP[p.ID] {
				continue
			}
			k := keyOf(p)
			if k == "" || len(pool[k]) == 0 {
				continue
			}
			s := pool[k][0]
			pool[k] = pool[k][1:]
			matchedP[p.ID] = true
			matchedS[s.ID] = true
			out = append(out, &model.Match{Primary: p, Secondary: s, NeedsLink: true})
		}
	}

	for _, p := range ps {
		if !matchedP[p.ID] {
			out = append(out, &model.Match{Primary: p})
		}
	}
	for _, s := range ss {
		if !matchedS[s.ID] {
			out = append(out, &model.Match{Secondary: s})
		}
	}
	return out
}

func cloneSorted(items []model.Item) []*model.Item {
	out := make([]*model.Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func indexByID(items []*model.Item) map[string]*model.Item {
	m := make(map[string]*model.Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
