// Package queue provides a small binary heap for top-k candidate selection.
package queue

// Item represents a search candidate in the queue.
type Item struct {
	Position uint32  // Position of the vector inside the index
	Distance float32 // Distance is the priority of the item
}

// Max is a bounded max-heap keyed on distance. Keeping the k best (smallest)
// candidates means evicting the current worst, which sits at the root.
type Max struct {
	items []Item
}

// NewMax creates a max-heap with the given capacity hint.
func NewMax(capacity int) *Max {
	return &Max{items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the heap.
func (q *Max) Len() int { return len(q.items) }

// Top returns the worst (farthest) candidate without removing it.
func (q *Max) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (q *Max) Push(item Item) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// Pop removes and returns the worst candidate.
func (q *Max) Pop() (Item, bool) {
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}
	root := q.items[0]
	last := q.items[n-1]
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root, true
}

func (q *Max) less(i, j int) bool {
	return q.items[i].Distance > q.items[j].Distance
}

func (q *Max) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !q.less(i, p) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *Max) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && q.less(r, l) {
			best = r
		}
		if !q.less(best, i) {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
