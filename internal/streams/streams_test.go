package streams

import (
	"errors"
	"testing"
)

// recordingSub records every event and leaves demand under manual control.
type recordingSub[T any] struct {
	items     []T
	completed int
	errs      []error
	source    Subscription
}

func (r *recordingSub[T]) OnSubscribe(s Subscription) { r.source = s }
func (r *recordingSub[T]) OnNext(t T)                 { r.items = append(r.items, t) }
func (r *recordingSub[T]) OnComplete()                { r.completed++ }
func (r *recordingSub[T]) OnError(err error)          { r.errs = append(r.errs, err) }

func collectOrFail[T any](t *testing.T, p Publisher[T]) []T {
	t.Helper()
	items, err := Collect(p)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	return items
}

func TestOfEmitsAllValues(t *testing.T) {
	items := collectOrFail(t, Of(1, 2, 3))
	if len(items) != 3 || items[0] != 1 || items[1] != 2 || items[2] != 3 {
		t.Errorf("Of emitted %v, want [1 2 3]", items)
	}
}

func TestEmptyCompletesImmediately(t *testing.T) {
	sub := &recordingSub[int]{}
	Empty[int]().Subscribe(sub)
	if sub.completed != 1 {
		t.Errorf("completed %d times, want 1", sub.completed)
	}
	if len(sub.items) != 0 {
		t.Errorf("Empty emitted items: %v", sub.items)
	}
}

func TestFailErrorsImmediately(t *testing.T) {
	boom := errors.New("boom")
	sub := &recordingSub[int]{}
	Fail[int](boom).Subscribe(sub)
	if len(sub.errs) != 1 || !errors.Is(sub.errs[0], boom) {
		t.Errorf("errors = %v, want [boom]", sub.errs)
	}
	if sub.completed != 0 {
		t.Error("Fail also completed")
	}
}

func TestRangeHalfOpen(t *testing.T) {
	items := collectOrFail(t, Range(3, 7))
	want := []int64{3, 4, 5, 6}
	if len(items) != len(want) {
		t.Fatalf("Range(3,7) emitted %v, want %v", items, want)
	}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i], v)
		}
	}
}

func TestSingleUseSecondSubscriberErrors(t *testing.T) {
	p := Of(1, 2)
	first := &recordingSub[int]{}
	p.Subscribe(first)
	second := &recordingSub[int]{}
	p.Subscribe(second)
	if len(second.errs) != 1 || !errors.Is(second.errs[0], ErrAlreadySubscribed) {
		t.Errorf("second subscriber errors = %v, want ErrAlreadySubscribed", second.errs)
	}
}

func TestDemandNeverExceeded(t *testing.T) {
	sub := &recordingSub[int]{}
	Of(1, 2, 3, 4, 5).Subscribe(sub)

	sub.source.Request(2)
	if len(sub.items) != 2 {
		t.Fatalf("after Request(2): %d items, want 2", len(sub.items))
	}
	if sub.completed != 0 {
		t.Fatal("completed before demand exhausted the sequence")
	}

	sub.source.Request(1)
	if len(sub.items) != 3 {
		t.Fatalf("after Request(1): %d items, want 3", len(sub.items))
	}

	sub.source.Request(100)
	if len(sub.items) != 5 {
		t.Fatalf("after Request(100): %d items, want 5", len(sub.items))
	}
	if sub.completed != 1 {
		t.Errorf("completed %d times, want 1", sub.completed)
	}
}

// reentrantSub requests more demand from inside OnNext.
type reentrantSub struct {
	recordingSub[int64]
	limit int
}

func (r *reentrantSub) OnNext(v int64) {
	r.items = append(r.items, v)
	if len(r.items) < r.limit {
		r.source.Request(1)
	}
}

func TestReentrantRequestStaysFIFO(t *testing.T) {
	sub := &reentrantSub{limit: 4}
	Range(0, 100).Subscribe(sub)
	sub.source.Request(1)

	want := []int64{0, 1, 2, 3}
	if len(sub.items) != len(want) {
		t.Fatalf("emitted %v, want %v", sub.items, want)
	}
	for i, v := range want {
		if sub.items[i] != v {
			t.Errorf("items[%d] = %d, want %d", i, sub.items[i], v)
		}
	}
}

func TestAsyncDropsPastDemand(t *testing.T) {
	var obs Observer[int]
	p := Async(func(o Observer[int]) { obs = o })
	sub := &recordingSub[int]{}
	p.Subscribe(sub)

	sub.source.Request(2)
	obs.OnNext(1)
	obs.OnNext(2)
	obs.OnNext(3) // no demand left: dropped
	obs.OnNext(4) // dropped

	if len(sub.items) != 2 {
		t.Errorf("delivered %d items, want 2", len(sub.items))
	}
	if p.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", p.Dropped())
	}

	sub.source.Request(1)
	obs.OnNext(5)
	if len(sub.items) != 3 || sub.items[2] != 5 {
		t.Errorf("items = %v, want [... 5]", sub.items)
	}
}

func TestAsyncTerminalStopsDelivery(t *testing.T) {
	var obs Observer[int]
	p := Async(func(o Observer[int]) { obs = o })
	sub := &recordingSub[int]{}
	p.Subscribe(sub)

	sub.source.Request(10)
	obs.OnNext(1)
	obs.OnComplete()
	obs.OnNext(2)
	obs.OnComplete()

	if len(sub.items) != 1 {
		t.Errorf("delivered %d items after complete, want 1", len(sub.items))
	}
	if sub.completed != 1 {
		t.Errorf("completed %d times, want 1", sub.completed)
	}
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	merged := Merge(Of(1, 2), Of(3), Of(4, 5))
	items := collectOrFail(t, merged)
	want := []int{1, 2, 3, 4, 5}
	if len(items) != len(want) {
		t.Fatalf("Merge emitted %v, want %v", items, want)
	}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i], v)
		}
	}
}

func TestGenerateBoundedByDemand(t *testing.T) {
	calls := 0
	p := Generate(
		func() *int { v := 0; return &v },
		func(s *int, n int, sink Observer[int]) {
			calls++
			for i := 0; i < n; i++ {
				sink.OnNext(*s)
				*s++
			}
		})

	sub := &recordingSub[int]{}
	p.Subscribe(sub)
	sub.source.Request(3)
	if len(sub.items) != 3 {
		t.Errorf("emitted %d items, want 3", len(sub.items))
	}
	sub.source.Cancel()
	sub.source.Request(5)
	if len(sub.items) != 3 {
		t.Errorf("emitted after cancel: %v", sub.items)
	}
}
