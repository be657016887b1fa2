package kamilata

// frontierItem is one candidate peer waiting to be queried, carrying its
// per-query distance vector from the last filter stack we saw for it.
type frontierItem struct {
	route ProviderRoute
}

// speedBest returns the smallest distance across every query frontierItem
// has a hit for, tie-broken by the lower query index — candidates "closer"
// to any result sort first under Speed priority.
func (it frontierItem) speedBest() (dist Distance, queryIdx int, ok bool) {
	queryIdx = -1
	for i, d := range it.route.Distances {
		if d == NoDistance {
			continue
		}
		if queryIdx == -1 || d < dist || (d == dist && i < queryIdx) {
			dist, queryIdx, ok = d, i, true
		}
	}
	return
}

// relevanceBest returns the lowest query index frontierItem has any hit
// for, plus its distance — candidates that can answer the best-ranked
// query sort first under Relevance priority, regardless of distance.
func (it frontierItem) relevanceBest() (queryIdx int, dist Distance, ok bool) {
	for i, d := range it.route.Distances {
		if d != NoDistance {
			return i, d, true
		}
	}
	return 0, 0, false
}

// frontierHeap is a container/heap of frontierItem, ordered by mode. The
// caller must call heap.Init after changing mode (spec §4.7 "Search
// priority"; ports search.rs's QueryList Ord implementation).
type frontierHeap struct {
	items []frontierItem
	mode  FixedSearchPriority
}

func (h *frontierHeap) Len() int { return len(h.items) }

func (h *frontierHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	switch h.mode {
	case PriorityRelevance:
		qa, da, oka := a.relevanceBest()
		qb, db_, okb := b.relevanceBest()
		if !oka {
			return false
		}
		if !okb {
			return true
		}
		if qa != qb {
			return qa < qb
		}
		return da < db_
	default: // PrioritySpeed
		da, qa, oka := a.speedBest()
		db_, qb, okb := b.speedBest()
		if !oka {
			return false
		}
		if !okb {
			return true
		}
		if da != db_ {
			return da < db_
		}
		return qa < qb
	}
}

func (h *frontierHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *frontierHeap) Push(x any) { h.items = append(h.items, x.(frontierItem)) }

func (h *frontierHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
