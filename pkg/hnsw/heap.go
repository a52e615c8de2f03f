package hnsw

// heapItem is a (distance, node) pair used by both the min-heap (candidate
// frontier) and the max-heap (bounded result set W) of SEARCH-LAYER (spec
// §4.2.2). Reusing one item type for both heaps, distinguished only by the
// comparator each heap wrapper implements, keeps the two symmetric.
type heapItem struct {
	id   NodeID
	dist float64
}

// minHeap pops the smallest distance first; used as the SEARCH-LAYER
// candidate frontier C.
type minHeap []heapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap pops the largest distance first; used as the bounded result set W
// so the worst member is always at the root for O(log ef) eviction.
type maxHeap []heapItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
