package kamilata

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrontierHeapSpeedPriority(t *testing.T) {
	near := frontierItem{route: ProviderRoute{Distances: []Distance{3, NoDistance}}}
	far := frontierItem{route: ProviderRoute{Distances: []Distance{7, 1}}}
	none := frontierItem{route: ProviderRoute{Distances: []Distance{NoDistance, NoDistance}}}

	h := &frontierHeap{mode: PrioritySpeed}
	heap.Push(h, far)
	heap.Push(h, none)
	heap.Push(h, near)

	first := heap.Pop(h).(frontierItem)
	require.Equal(t, Distance(1), mustDist(first))
}

func mustDist(it frontierItem) Distance {
	d, _, _ := it.speedBest()
	return d
}

func TestFrontierHeapRelevancePriority(t *testing.T) {
	// q0 is the best-ranked query: any hit on q0, however distant, beats a
	// closer hit that only satisfies q1.
	onQ0 := frontierItem{route: ProviderRoute{Distances: []Distance{5, NoDistance}}}
	onQ1 := frontierItem{route: ProviderRoute{Distances: []Distance{NoDistance, 0}}}

	h := &frontierHeap{mode: PriorityRelevance}
	heap.Push(h, onQ1)
	heap.Push(h, onQ0)

	first := heap.Pop(h).(frontierItem)
	q, _, _ := first.relevanceBest()
	require.Equal(t, 0, q)
}

func TestFrontierHeapDrainsInOrder(t *testing.T) {
	items := []frontierItem{
		{route: ProviderRoute{Distances: []Distance{4}}},
		{route: ProviderRoute{Distances: []Distance{1}}},
		{route: ProviderRoute{Distances: []Distance{2}}},
	}
	h := &frontierHeap{mode: PrioritySpeed}
	for _, it := range items {
		heap.Push(h, it)
	}
	var order []Distance
	for h.Len() > 0 {
		it := heap.Pop(h).(frontierItem)
		order = append(order, it.route.Distances[0])
	}
	require.Equal(t, []Distance{1, 2, 4}, order)
}
