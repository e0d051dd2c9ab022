package searcher

// resultHeap is a bounded min-heap over scored slots. It keeps the k best
// results seen so far: the root is the current worst, so a better candidate
// replaces it in O(log k). Ties on score are broken toward the lower slot,
// which makes result sets deterministic across scan orders.
type resultHeap struct {
	items []Result
	k     int
}

func newResultHeap(k int) *resultHeap {
	return &resultHeap{items: make([]Result, 0, k), k: k}
}

// worse reports whether a ranks below b: lower score, or equal score with a
// higher slot.
func worse(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Slot > b.Slot
}

// push offers a candidate. When the heap is full, the candidate replaces the
// root only if it ranks above it.
func (h *resultHeap) push(r Result) {
	if len(h.items) < h.k {
		h.items = append(h.items, r)
		h.siftUp(len(h.items) - 1)
		return
	}
	if worse(r, h.items[0]) {
		return
	}
	h.items[0] = r
	h.siftDown(0)
}

func (h *resultHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !worse(h.items[i], h.items[parent]) {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *resultHeap) siftDown(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && worse(h.items[right], h.items[left]) {
			child = right
		}
		if !worse(h.items[child], h.items[i]) {
			break
		}
		h.items[i], h.items[child] = h.items[child], h.items[i]
		i = child
	}
}
