package streams

// Map transforms each item with f. Demand passes through untouched.
func Map[S, T any](source Publisher[S], f func(S) T) Publisher[T] {
	return publisherFunc[T](func(sink Subscriber[T]) {
		source.Subscribe(&mapInstance[S, T]{fn: f, sink: sink})
	})
}

type mapInstance[S, T any] struct {
	fn     func(S) T
	sink   Subscriber[T]
	source Subscription
}

func (m *mapInstance[S, T]) OnSubscribe(s Subscription) {
	m.source = s
	m.sink.OnSubscribe(m)
}

func (m *mapInstance[S, T]) OnNext(s S) { m.sink.OnNext(m.fn(s)) }

func (m *mapInstance[S, T]) OnComplete() {
	m.sink.OnComplete()
	m.release()
}

func (m *mapInstance[S, T]) OnError(err error) {
	m.sink.OnError(err)
	m.release()
}

func (m *mapInstance[S, T]) Request(n int) { m.source.Request(n) }

func (m *mapInstance[S, T]) Cancel() {
	m.source.Cancel()
	m.release()
}

func (m *mapInstance[S, T]) release() {
	m.source = noopSubscription{}
}

// FlatMap maps each upstream item to a publisher and concatenates the
// results in order. At most one inner subscription is active at a time;
// the next upstream item is requested only after the inner publisher
// completes, so outer demand is honored end-to-end.
func FlatMap[S, T any](source Publisher[S], f func(S) Publisher[T]) Publisher[T] {
	return publisherFunc[T](func(sink Subscriber[T]) {
		source.Subscribe(&flatMapInstance[S, T]{fn: f, sink: sink, active: true})
	})
}

type flatMapInstance[S, T any] struct {
	fn   func(S) Publisher[T]
	sink Subscriber[T]

	source         Subscription
	inner          *flatMapInner[S, T]
	active         bool
	inDrain        bool
	sourceComplete bool
	requestedNext  bool
	outstanding    int
	innerRequested int
}

func (i *flatMapInstance[S, T]) OnSubscribe(s Subscription) {
	i.source = s
	i.sink.OnSubscribe(i)
}

func (i *flatMapInstance[S, T]) OnNext(s S) {
	i.requestedNext = false
	inner := &flatMapInner[S, T]{parent: i}
	i.inner = inner
	i.innerRequested = 0
	i.fn(s).Subscribe(inner)
	i.drain()
}

func (i *flatMapInstance[S, T]) OnComplete() {
	i.sourceComplete = true
	if i.inner == nil {
		i.active = false
		i.sink.OnComplete()
	} else {
		i.drain()
	}
}

func (i *flatMapInstance[S, T]) OnError(err error) {
	i.active = false
	i.sink.OnError(err)
}

func (i *flatMapInstance[S, T]) Request(n int) {
	i.outstanding += n
	i.drain()
}

func (i *flatMapInstance[S, T]) drain() {
	if !i.active || i.outstanding == 0 || i.inDrain {
		return
	}
	i.inDrain = true
	for i.active && i.outstanding > 0 {
		if i.inner == nil {
			if i.sourceComplete {
				i.active = false
				i.sink.OnComplete()
				break
			}
			i.requestedNext = true
			i.source.Request(1)
			if i.inner == nil && i.requestedNext {
				// next upstream item has not arrived yet
				break
			}
		} else {
			pending := i.outstanding - i.innerRequested
			if pending <= 0 {
				// all current demand already forwarded to the inner
				break
			}
			i.innerRequested += pending
			i.inner.Request(pending)
		}
	}
	i.inDrain = false
}

func (i *flatMapInstance[S, T]) Cancel() {
	i.active = false
	i.source.Cancel()
	if i.inner != nil {
		i.inner.Cancel()
		i.inner = nil
	}
}

// innerComplete is called when the current inner publisher finishes;
// the drain loop then asks the source for the next item.
func (i *flatMapInstance[S, T]) innerComplete() {
	i.inner = nil
	i.innerRequested = 0
	i.drain()
}

type flatMapInner[S, T any] struct {
	parent *flatMapInstance[S, T]
	source Subscription
}

func (f *flatMapInner[S, T]) OnSubscribe(s Subscription) { f.source = s }

func (f *flatMapInner[S, T]) OnNext(t T) {
	p := f.parent
	p.outstanding--
	p.innerRequested--
	p.sink.OnNext(t)
}

func (f *flatMapInner[S, T]) OnComplete() { f.parent.innerComplete() }

func (f *flatMapInner[S, T]) OnError(err error) {
	p := f.parent
	p.active = false
	p.sink.OnError(err)
}

func (f *flatMapInner[S, T]) Request(n int) { f.source.Request(n) }

func (f *flatMapInner[S, T]) Cancel() {
	if f.source != nil {
		f.source.Cancel()
	}
}

// Take forwards the first n items, then cancels upstream and completes
// downstream. Demand to upstream is capped at n minus what was already
// emitted.
func Take[T any](source Publisher[T], n int) Publisher[T] {
	return publisherFunc[T](func(sink Subscriber[T]) {
		source.Subscribe(&takeInstance[T]{remaining: n, sink: sink})
	})
}

// Head forwards only the first item of the stream.
func Head[T any](source Publisher[T]) Publisher[T] { return Take(source, 1) }

type takeInstance[T any] struct {
	remaining   int
	outstanding int
	sink        Subscriber[T]
	source      Subscription
	done        bool
}

func (t *takeInstance[T]) OnSubscribe(s Subscription) {
	t.source = s
	t.sink.OnSubscribe(t)
	if t.remaining <= 0 && !t.done {
		t.done = true
		t.source.Cancel()
		t.sink.OnComplete()
	}
}

func (t *takeInstance[T]) OnNext(v T) {
	if t.done {
		return
	}
	t.sink.OnNext(v)
	t.remaining--
	t.outstanding--
	if t.remaining == 0 {
		t.done = true
		t.source.Cancel()
		t.sink.OnComplete()
	}
}

func (t *takeInstance[T]) OnComplete() {
	if t.done {
		return
	}
	t.done = true
	t.sink.OnComplete()
}

func (t *takeInstance[T]) OnError(err error) {
	if t.done {
		return
	}
	t.done = true
	t.sink.OnError(err)
}

func (t *takeInstance[T]) Request(n int) {
	if t.done {
		return
	}
	actual := n
	if limit := t.remaining - t.outstanding; actual > limit {
		actual = limit
	}
	if actual <= 0 {
		return
	}
	t.outstanding += actual
	t.source.Request(actual)
}

func (t *takeInstance[T]) Cancel() {
	if t.done {
		return
	}
	t.done = true
	t.source.Cancel()
}

// DoFinally runs f exactly once when the subscription terminates, on any
// path: complete, error or downstream cancel. The terminal event is
// forwarded before f runs.
func DoFinally[T any](source Publisher[T], f func()) Publisher[T] {
	return publisherFunc[T](func(sink Subscriber[T]) {
		source.Subscribe(&doFinallyInstance[T]{fn: f, sink: sink})
	})
}

type doFinallyInstance[T any] struct {
	fn     func()
	sink   Subscriber[T]
	source Subscription
	done   bool
}

func (d *doFinallyInstance[T]) OnSubscribe(s Subscription) {
	d.source = s
	d.sink.OnSubscribe(d)
}

func (d *doFinallyInstance[T]) OnNext(v T) { d.sink.OnNext(v) }

func (d *doFinallyInstance[T]) OnComplete() {
	if d.done {
		return
	}
	d.done = true
	d.sink.OnComplete()
	d.fn()
}

func (d *doFinallyInstance[T]) OnError(err error) {
	if d.done {
		return
	}
	d.done = true
	d.sink.OnError(err)
	d.fn()
}

func (d *doFinallyInstance[T]) Request(n int) { d.source.Request(n) }

func (d *doFinallyInstance[T]) Cancel() {
	if d.done {
		return
	}
	d.done = true
	d.source.Cancel()
	d.fn()
}

// RepeatIf retains the last item matching pred and re-emits it before
// every subsequent non-matching item. max caps the number of
// re-injections; max == 0 means unlimited. Used to re-inject infrequent
// codec metadata for late subscribers.
func RepeatIf[T any](source Publisher[T], max int, pred func(T) bool) Publisher[T] {
	return publisherFunc[T](func(sink Subscriber[T]) {
		source.Subscribe(&repeatIfInstance[T]{max: max, pred: pred, sink: sink, active: true})
	})
}

type repeatIfInstance[T any] struct {
	pred func(T) bool
	max  int
	sink Subscriber[T]

	source          Subscription
	retained        *T
	reinjected      int
	queue           []T
	outstanding     int
	inDrain         bool
	active          bool
	upstreamPending bool
	sourceComplete  bool
}

func (r *repeatIfInstance[T]) OnSubscribe(s Subscription) {
	r.source = s
	r.sink.OnSubscribe(r)
}

func (r *repeatIfInstance[T]) OnNext(v T) {
	r.upstreamPending = false
	if r.pred(v) {
		retained := v
		r.retained = &retained
		r.reinjected = 0
		r.queue = append(r.queue, v)
	} else {
		if r.retained != nil && (r.max == 0 || r.reinjected < r.max) {
			r.queue = append(r.queue, *r.retained)
			r.reinjected++
		}
		r.queue = append(r.queue, v)
	}
	r.drain()
}

func (r *repeatIfInstance[T]) OnComplete() {
	r.sourceComplete = true
	r.drain()
	if len(r.queue) == 0 && r.active {
		r.active = false
		r.sink.OnComplete()
	}
}

func (r *repeatIfInstance[T]) OnError(err error) {
	r.active = false
	r.queue = nil
	r.sink.OnError(err)
}

func (r *repeatIfInstance[T]) Request(n int) {
	r.outstanding += n
	r.drain()
}

func (r *repeatIfInstance[T]) drain() {
	if r.inDrain || !r.active {
		return
	}
	r.inDrain = true
	for r.active && r.outstanding > 0 {
		if len(r.queue) > 0 {
			v := r.queue[0]
			r.queue = r.queue[1:]
			r.outstanding--
			r.sink.OnNext(v)
			continue
		}
		if r.sourceComplete {
			r.active = false
			r.sink.OnComplete()
			break
		}
		if r.upstreamPending {
			break
		}
		r.upstreamPending = true
		r.source.Request(1)
		if r.upstreamPending {
			// waiting for an out-of-band upstream item
			break
		}
	}
	r.inDrain = false
}

func (r *repeatIfInstance[T]) Cancel() {
	r.active = false
	r.queue = nil
	r.source.Cancel()
}

// Lift splices a publisher transformer into a chain. It is the escape
// hatch for operators assembled outside this package.
func Lift[S, T any](source Publisher[S], op Op[S, T]) Publisher[T] {
	return op(source)
}
