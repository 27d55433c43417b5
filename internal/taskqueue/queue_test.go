package taskqueue

import "testing"

type countingWaker struct{ n int }

func (w *countingWaker) Signal() error { w.n++; return nil }

func TestScheduleFIFOOrder(t *testing.T) {
	w := &countingWaker{}
	q := New(w)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.Schedule(func() { order = append(order, i) })
	}

	q.Drain()

	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
	if w.n != 5 {
		t.Fatalf("expected 5 wakeups, got %d", w.n)
	}
}

func TestDrainEmptyIsNoop(t *testing.T) {
	q := New(&countingWaker{})
	q.Drain() // must not panic or block
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestScheduleBeforeAnyDrain(t *testing.T) {
	q := New(&countingWaker{})
	ran := false
	q.Schedule(func() { ran = true })
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending task")
	}
	q.Drain()
	if !ran {
		t.Fatalf("expected task to run")
	}
}
