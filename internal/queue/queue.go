// Package queue provides a stable priority queue keyed by item id.
//
// Items with a higher priority pop first. Items with equal priority pop in
// insertion order. Any item can be removed by id in O(log n).
package queue

// item is stored by value in the heap slice.
type item[K comparable, V any] struct {
	id       K
	priority int
	seq      uint64
	value    V
}

// PriorityQueue is a max-priority, FIFO-stable heap. It is not safe for
// concurrent use; callers hold their own lock.
type PriorityQueue[K comparable, V any] struct {
	items []item[K, V]
	pos   map[K]int
	seq   uint64
}

// New returns an empty queue with room for capacity items.
func New[K comparable, V any](capacity int) *PriorityQueue[K, V] {
	return &PriorityQueue[K, V]{
		items: make([]item[K, V], 0, capacity),
		pos:   make(map[K]int, capacity),
	}
}

// Len returns the number of queued items.
func (pq *PriorityQueue[K, V]) Len() int { return len(pq.items) }

// Contains reports whether id is queued.
func (pq *PriorityQueue[K, V]) Contains(id K) bool {
	_, ok := pq.pos[id]
	return ok
}

// Push adds v under id. Pushing an id that is already queued replaces its
// value and priority but keeps its original insertion order.
func (pq *PriorityQueue[K, V]) Push(id K, priority int, v V) {
	if i, ok := pq.pos[id]; ok {
		pq.items[i].value = v
		pq.items[i].priority = priority
		pq.fix(i)
		return
	}
	pq.seq++
	pq.items = append(pq.items, item[K, V]{id: id, priority: priority, seq: pq.seq, value: v})
	i := len(pq.items) - 1
	pq.pos[id] = i
	pq.siftUp(i)
}

// Peek returns the next item without removing it.
func (pq *PriorityQueue[K, V]) Peek() (K, V, bool) {
	if len(pq.items) == 0 {
		var k K
		var v V
		return k, v, false
	}
	it := pq.items[0]
	return it.id, it.value, true
}

// Pop removes and returns the highest-priority, oldest item.
func (pq *PriorityQueue[K, V]) Pop() (K, V, bool) {
	if len(pq.items) == 0 {
		var k K
		var v V
		return k, v, false
	}
	it := pq.removeAt(0)
	return it.id, it.value, true
}

// Remove deletes id from the queue.
func (pq *PriorityQueue[K, V]) Remove(id K) (V, bool) {
	i, ok := pq.pos[id]
	if !ok {
		var v V
		return v, false
	}
	return pq.removeAt(i).value, true
}

// RemoveFunc deletes every item for which match returns true and returns
// their values in pop order.
func (pq *PriorityQueue[K, V]) RemoveFunc(match func(id K, v V) bool) []V {
	var ids []K
	for _, it := range pq.items {
		if match(it.id, it.value) {
			ids = append(ids, it.id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	removed := make([]item[K, V], 0, len(ids))
	for _, id := range ids {
		removed = append(removed, pq.removeAt(pq.pos[id]))
	}
	sortItems(removed)
	out := make([]V, len(removed))
	for i, it := range removed {
		out[i] = it.value
	}
	return out
}

// Drain removes all items and returns their values in pop order.
func (pq *PriorityQueue[K, V]) Drain() []V {
	out := make([]V, 0, len(pq.items))
	for len(pq.items) > 0 {
		_, v, _ := pq.Pop()
		out = append(out, v)
	}
	return out
}

func (pq *PriorityQueue[K, V]) removeAt(i int) item[K, V] {
	n := len(pq.items) - 1
	it := pq.items[i]
	if i != n {
		pq.swap(i, n)
	}
	pq.items[n] = item[K, V]{}
	pq.items = pq.items[:n]
	delete(pq.pos, it.id)
	if i < n {
		pq.fix(i)
	}
	return it
}

func (pq *PriorityQueue[K, V]) less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (pq *PriorityQueue[K, V]) swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.pos[pq.items[i].id] = i
	pq.pos[pq.items[j].id] = j
}

func (pq *PriorityQueue[K, V]) fix(i int) {
	if !pq.siftDown(i) {
		pq.siftUp(i)
	}
}

func (pq *PriorityQueue[K, V]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.swap(i, p)
		i = p
	}
}

// siftDown reports whether the item moved.
func (pq *PriorityQueue[K, V]) siftDown(i int) bool {
	start := i
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			break
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			break
		}
		pq.swap(i, best)
		i = best
	}
	return i > start
}

// sortItems orders a small slice by pop order (insertion sort).
func sortItems[K comparable, V any](items []item[K, V]) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0; j-- {
			a, b := items[j], items[j-1]
			if a.priority > b.priority || (a.priority == b.priority && a.seq < b.seq) {
				items[j], items[j-1] = b, a
				continue
			}
			break
		}
	}
}
