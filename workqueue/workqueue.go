// workqueue package

package workqueue

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultCapacity is the capacity used between capture and recognition
const DefaultCapacity = 101

// Stats contains the overload counters of a Queue
type Stats struct {
	Capacity    int
	Len         int
	Compactions int
	Evicted     int
}

// Queue is a bounded FIFO that thins out its backlog instead of blocking the producer.
// When a push finds the queue full, every other item is dropped starting with the
// second oldest, so the survivors keep their order and their spread in time.
type Queue[T any] struct {
	name        string
	list        []T
	capacity    int
	guard       sync.Mutex
	readyChan   chan bool
	onEvict     func(T)
	compactions int
	evicted     int
}

// New creates a new Queue. Capacity must be odd and at least 3.
func New[T any](name string, capacity int) *Queue[T] {
	if capacity < 3 || capacity%2 == 0 {
		panic(fmt.Sprintf("workqueue: capacity must be odd and >= 3, got %d", capacity))
	}
	q := &Queue[T]{
		name:      name,
		list:      make([]T, 0, capacity),
		capacity:  capacity,
		guard:     sync.Mutex{},
		readyChan: make(chan bool, 1),
	}
	return q
}

// OnEvict sets a callback called for every item dropped by compaction
func (q *Queue[T]) OnEvict(callback func(T)) {
	q.guard.Lock()
	defer q.guard.Unlock()
	q.onEvict = callback
}

// Push appends the item. It never blocks and never fails.
func (q *Queue[T]) Push(item T) {
	q.guard.Lock()
	var dropped []T
	if len(q.list) >= q.capacity {
		dropped = q.compact()
	}
	q.list = append(q.list, item)
	onEvict := q.onEvict
	q.guard.Unlock()

	select {
	case q.readyChan <- true:
	default:
	}

	if len(dropped) > 0 {
		log.Infoln("Queue", q.name, "reached its maximum size", q.capacity, "dropped", len(dropped))
		if onEvict != nil {
			for _, cur := range dropped {
				onEvict(cur)
			}
		}
	}
}

// compact keeps the items at even positions, must hold guard
func (q *Queue[T]) compact() (dropped []T) {
	kept := make([]T, 0, q.capacity)
	dropped = make([]T, 0, len(q.list)/2)
	for index, cur := range q.list {
		if index%2 == 0 {
			kept = append(kept, cur)
		} else {
			dropped = append(dropped, cur)
		}
	}
	q.list = kept
	q.compactions++
	q.evicted += len(dropped)
	return
}

// TryPop removes the oldest item. ok is false when the queue is empty.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.guard.Lock()
	defer q.guard.Unlock()
	if len(q.list) == 0 {
		return
	}
	item = q.list[0]
	var zero T
	q.list[0] = zero
	q.list = q.list[1:]
	ok = true
	return
}

// Drain removes and returns all items in order
func (q *Queue[T]) Drain() (items []T) {
	q.guard.Lock()
	defer q.guard.Unlock()
	items = q.list
	q.list = make([]T, 0, q.capacity)
	return
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.guard.Lock()
	defer q.guard.Unlock()
	return len(q.list)
}

// Ready is signaled after every push
func (q *Queue[T]) Ready() <-chan bool {
	return q.readyChan
}

// Stats returns the current counters
func (q *Queue[T]) Stats() Stats {
	q.guard.Lock()
	defer q.guard.Unlock()
	return Stats{
		Capacity:    q.capacity,
		Len:         len(q.list),
		Compactions: q.compactions,
		Evicted:     q.evicted,
	}
}
