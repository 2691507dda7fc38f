package streams

import "sync/atomic"

// Empty returns a publisher that completes immediately on subscribe.
func Empty[T any]() Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(noopSubscription{})
		s.OnComplete()
	})
}

// Fail returns a publisher that errors immediately on subscribe.
func Fail[T any](err error) Publisher[T] {
	return publisherFunc[T](func(s Subscriber[T]) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(err)
	})
}

// Of returns a deterministic finite sequence of the given values.
func Of[T any](values ...T) Publisher[T] {
	type state struct {
		data []T
		idx  int
	}
	return Generate(
		func() *state { return &state{data: values} },
		func(s *state, n int, sink Observer[T]) {
			for i := 0; i < n && s.idx < len(s.data); i++ {
				v := s.data[s.idx]
				s.idx++
				sink.OnNext(v)
			}
			if s.idx == len(s.data) {
				sink.OnComplete()
			}
		})
}

// Range returns the half-open integer interval [from, to).
func Range(from, to int64) Publisher[int64] {
	return Generate(
		func() *int64 { v := from; return &v },
		func(s *int64, n int, sink Observer[int64]) {
			for i := 0; i < n && *s < to; i++ {
				v := *s
				*s++
				sink.OnNext(v)
			}
			if *s >= to {
				sink.OnComplete()
			}
		})
}

// Merge combines the given publishers into one through FlatMap. Each
// input is subscribed only after the previous one completes, so the
// result is the inputs concatenated in argument order; a later input
// is never read while an earlier one is still running.
func Merge[T any](publishers ...Publisher[T]) Publisher[T] {
	return FlatMap(Of(publishers...), func(p Publisher[T]) Publisher[T] { return p })
}

// publisherFunc adapts a subscribe function into a Publisher.
type publisherFunc[T any] func(Subscriber[T])

func (f publisherFunc[T]) Subscribe(s Subscriber[T]) { f(s) }

// Generate builds a stateful publisher. create produces the generator
// state; gen is called with the state, the pending demand and an
// observer, and emits up to demand items. gen signals the end of the
// sequence by calling OnComplete (or OnError) on the observer.
func Generate[S, T any](create func() *S, gen func(state *S, demand int, sink Observer[T])) Publisher[T] {
	return &generatorPublisher[S, T]{create: create, gen: gen}
}

type generatorPublisher[S, T any] struct {
	create     func() *S
	gen        func(*S, int, Observer[T])
	subscribed bool
}

func (p *generatorPublisher[S, T]) Subscribe(s Subscriber[T]) {
	if p.subscribed {
		s.OnSubscribe(noopSubscription{})
		s.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	sub := &generatorSub[S, T]{
		gen:    p.gen,
		sink:   s,
		state:  p.create(),
		active: true,
	}
	s.OnSubscribe(sub)
}

// generatorSub drives the generator. Demand accumulates in outstanding;
// the drain loop keeps stack depth constant under re-entrant Request
// calls from inside OnNext.
type generatorSub[S, T any] struct {
	gen   func(*S, int, Observer[T])
	sink  Subscriber[T]
	state *S

	active      bool
	inDrain     bool
	outstanding int
}

func (g *generatorSub[S, T]) Request(n int) {
	if !g.active {
		return
	}
	g.outstanding += n
	g.drain()
}

func (g *generatorSub[S, T]) drain() {
	if g.inDrain {
		// re-entrant call; the outer loop observes the new demand
		return
	}
	g.inDrain = true
	for g.active && g.outstanding > 0 {
		g.gen(g.state, g.outstanding, g)
	}
	g.inDrain = false
	if !g.active {
		g.release()
	}
}

func (g *generatorSub[S, T]) Cancel() {
	g.active = false
	if !g.inDrain {
		g.release()
	}
}

func (g *generatorSub[S, T]) OnNext(t T) {
	g.outstanding--
	g.sink.OnNext(t)
}

func (g *generatorSub[S, T]) OnComplete() {
	g.active = false
	g.sink.OnComplete()
}

func (g *generatorSub[S, T]) OnError(err error) {
	g.active = false
	g.sink.OnError(err)
}

func (g *generatorSub[S, T]) release() {
	g.state = nil
	g.sink = nil
}

// Async builds a single-subscriber publisher fed out-of-band: init
// captures the observer and may emit from bus or timer callbacks.
// Emissions past pending demand are dropped, not buffered; live sources
// prefer latency over completeness. Dropped reports how many items were
// discarded this way.
func Async[T any](init func(Observer[T])) *AsyncPublisher[T] {
	return &AsyncPublisher[T]{init: init}
}

// AsyncPublisher is the publisher returned by Async.
type AsyncPublisher[T any] struct {
	init       func(Observer[T])
	subscribed bool
	sub        *asyncSub[T]
}

func (p *AsyncPublisher[T]) Subscribe(s Subscriber[T]) {
	if p.subscribed {
		s.OnSubscribe(noopSubscription{})
		s.OnError(ErrAlreadySubscribed)
		return
	}
	p.subscribed = true
	p.sub = &asyncSub[T]{sink: s, active: true}
	p.init(p.sub)
	s.OnSubscribe(p.sub)
}

// Dropped returns the number of items discarded because no demand was
// pending at emission time.
func (p *AsyncPublisher[T]) Dropped() uint64 {
	if p.sub == nil {
		return 0
	}
	return p.sub.dropped.Load()
}

type asyncSub[T any] struct {
	sink        Subscriber[T]
	active      bool
	outstanding int
	dropped     atomic.Uint64
}

func (a *asyncSub[T]) Request(n int) { a.outstanding += n }

func (a *asyncSub[T]) Cancel() {
	a.active = false
	a.sink = nil
}

func (a *asyncSub[T]) OnNext(t T) {
	if !a.active {
		return
	}
	if a.outstanding <= 0 {
		a.dropped.Add(1)
		return
	}
	a.outstanding--
	a.sink.OnNext(t)
}

func (a *asyncSub[T]) OnComplete() {
	if !a.active {
		return
	}
	a.active = false
	a.sink.OnComplete()
	a.sink = nil
}

func (a *asyncSub[T]) OnError(err error) {
	if !a.active {
		return
	}
	a.active = false
	a.sink.OnError(err)
	a.sink = nil
}
