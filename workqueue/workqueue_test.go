package workqueue

import (
	"testing"
)

func TestCapacityValidation(t *testing.T) {
	for _, capacity := range []int{-1, 0, 1, 2, 4, 100} {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("capacity %d did not panic\n", capacity)
				}
			}()
			New[int]("invalid", capacity)
		}()
	}
	q := New[int]("valid", DefaultCapacity)
	if q.Stats().Capacity != 101 {
		t.Fatalf("capacity = %d, expected 101\n", q.Stats().Capacity)
	}
}

func TestPopEmpty(t *testing.T) {
	q := New[int]("empty", 3)
	if _, ok := q.TryPop(); ok {
		t.Fatalf("pop on empty queue returned an item\n")
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d, expected 0\n", q.Len())
	}
}

func TestBoundAfterCompaction(t *testing.T) {
	for _, capacity := range []int{3, 5, 7, 101} {
		q := New[int]("bound", capacity)
		compactions := 0
		for i := 0; i < capacity*20; i++ {
			q.Push(i)
			stats := q.Stats()
			if stats.Len > capacity {
				t.Fatalf("len = %d exceeds capacity %d\n", stats.Len, capacity)
			}
			if stats.Compactions != compactions {
				compactions = stats.Compactions
				expected := (capacity+1)/2 + 1
				if stats.Len != expected {
					t.Fatalf("capacity %d: len after compaction = %d, expected %d\n", capacity, stats.Len, expected)
				}
			}
		}
		if compactions == 0 {
			t.Fatalf("capacity %d: no compaction happened\n", capacity)
		}
		t.Logf("capacity %d: compactions = %d\n", capacity, compactions)
	}
}

func TestCompactionPattern(t *testing.T) {
	q := New[int]("pattern", 7)
	for i := 0; i <= 7; i++ {
		q.Push(i)
	}
	expected := []int{0, 2, 4, 6, 7}
	items := q.Drain()
	if len(items) != len(expected) {
		t.Fatalf("items = %v, expected %v\n", items, expected)
	}
	for i := range expected {
		if items[i] != expected[i] {
			t.Fatalf("items = %v, expected %v\n", items, expected)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len after drain = %d, expected 0\n", q.Len())
	}
}

func TestOrderPreserved(t *testing.T) {
	q := New[int]("order", 5)
	last := -1
	popped := 0
	for i := 0; i < 1000; i++ {
		q.Push(i)
		if i%3 == 0 {
			item, ok := q.TryPop()
			if !ok {
				t.Fatalf("pop failed on non-empty queue\n")
			}
			if item <= last {
				t.Fatalf("popped %d after %d\n", item, last)
			}
			last = item
			popped++
		}
	}
	for {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		if item <= last {
			t.Fatalf("popped %d after %d\n", item, last)
		}
		last = item
		popped++
	}
	if last != 999 {
		t.Fatalf("newest item = %d, expected 999\n", last)
	}
	t.Logf("popped %d of 1000\n", popped)
}

func TestEvictCallback(t *testing.T) {
	q := New[int]("evict", 3)
	var evicted []int
	q.OnEvict(func(item int) {
		evicted = append(evicted, item)
	})
	for i := 0; i < 4; i++ {
		q.Push(i)
	}
	if len(evicted) != 1 || evicted[0] != 1 {
		t.Fatalf("evicted = %v, expected [1]\n", evicted)
	}
	stats := q.Stats()
	if stats.Evicted != 1 || stats.Compactions != 1 {
		t.Fatalf("stats = %+v, expected one compaction evicting one item\n", stats)
	}
}

func TestReadySignal(t *testing.T) {
	q := New[int]("ready", 3)
	q.Push(1)
	q.Push(2)
	select {
	case <-q.Ready():
	default:
		t.Fatalf("ready not signaled after push\n")
	}
	select {
	case <-q.Ready():
		t.Fatalf("ready signaled twice for a single slot\n")
	default:
	}
}
