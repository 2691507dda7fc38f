package streams

// Process subscribes to p with a sink that requests one item at a time,
// invoking onNext per item and exactly one of onComplete or onError at
// the end. It is the standard way to terminate a pipeline.
func Process[T any](p Publisher[T], onNext func(T), onComplete func(), onError func(error)) {
	p.Subscribe(&processSub[T]{onNext: onNext, onComplete: onComplete, onError: onError})
}

type processSub[T any] struct {
	onNext     func(T)
	onComplete func()
	onError    func(error)
	source     Subscription
}

func (p *processSub[T]) OnSubscribe(s Subscription) {
	p.source = s
	p.source.Request(1)
}

func (p *processSub[T]) OnNext(t T) {
	p.onNext(t)
	p.source.Request(1)
}

func (p *processSub[T]) OnComplete() {
	if p.onComplete != nil {
		p.onComplete()
	}
	p.source = nil
}

func (p *processSub[T]) OnError(err error) {
	if p.onError != nil {
		p.onError(err)
	}
	p.source = nil
}

// Collect drains a synchronous publisher into a slice. It returns the
// collected items and the stream error, if any.
func Collect[T any](p Publisher[T]) ([]T, error) {
	var (
		items  []T
		outErr error
	)
	Process(p,
		func(t T) { items = append(items, t) },
		nil,
		func(err error) { outErr = err })
	return items, outErr
}
