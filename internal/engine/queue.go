package engine

import "container/list"

// orderQueue is a bounded FIFO of open order ids. Removal is by id so
// out-of-order fills leave the remaining entries in submission order.
type orderQueue struct {
	capacity int
	items    *list.List
	index    map[string]*list.Element
}

func newOrderQueue(capacity int) *orderQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &orderQueue{
		capacity: capacity,
		items:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// push appends id; it returns ErrQueueFull at capacity.
func (q *orderQueue) push(id string) error {
	if _, ok := q.index[id]; ok {
		return nil
	}
	if q.items.Len() >= q.capacity {
		return ErrQueueFull
	}
	q.index[id] = q.items.PushBack(id)
	return nil
}

func (q *orderQueue) remove(id string) bool {
	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.items.Remove(el)
	delete(q.index, id)
	return true
}

func (q *orderQueue) contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

func (q *orderQueue) len() int {
	return q.items.Len()
}

// each visits ids oldest first until fn returns false.
func (q *orderQueue) each(fn func(id string) bool) {
	for el := q.items.Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(string)) {
			return
		}
	}
}

// ids returns the queue contents oldest first.
func (q *orderQueue) ids() []string {
	out := make([]string, 0, q.items.Len())
	q.each(func(id string) bool {
		out = append(out, id)
		return true
	})
	return out
}
