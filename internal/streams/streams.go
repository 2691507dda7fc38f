// Package streams implements the pull-based reactive pipeline primitives
// that every video pipeline in this repository is built from.
//
// A Publisher produces a lazy, single-use sequence of items. A Subscriber
// consumes it. The Subscription is the back-channel carrying demand:
//
//	Publisher ── OnSubscribe/OnNext/OnComplete/OnError ──▶ Subscriber
//	Publisher ◀─────────── Request(n) / Cancel ─────────── Subscriber
//
// A publisher is quiescent until demand arrives and never emits past the
// accumulated demand. Demand is additive: multiple Request calls sum.
// Re-entrant Request calls (from inside OnNext) are supported; operators
// use a drain loop so that emission stays FIFO at constant stack depth.
//
// All subscription activity is expected to happen on a single goroutine,
// normally the reactor loop. Cancelling from another goroutine while a
// Request is in flight is not supported.
package streams

import "errors"

// ErrAlreadySubscribed is delivered to a second subscriber of a
// single-use publisher.
var ErrAlreadySubscribed = errors.New("publisher already subscribed")

// Subscription is the demand back-channel from a subscriber to the
// publisher it is subscribed to.
type Subscription interface {
	// Request adds n to the pending demand. The publisher may deliver
	// up to the accumulated demand and no more.
	Request(n int)

	// Cancel tears down the subscription. Cancellation propagates
	// upstream and is silent downstream: the caller receives no
	// terminal event.
	Cancel()
}

// Observer receives the data and terminal events of a stream.
type Observer[T any] interface {
	OnNext(t T)
	OnComplete()
	OnError(err error)
}

// Subscriber is a stream sink. After OnComplete or OnError no further
// events are delivered.
type Subscriber[T any] interface {
	Observer[T]

	// OnSubscribe is invoked exactly once, before any other event.
	OnSubscribe(s Subscription)
}

// Publisher is a lazy, single-use sequence of T. At most one subscriber
// may attach over its lifetime.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// Op is a publisher transformer, spliced into a chain with Lift.
type Op[S, T any] func(Publisher[S]) Publisher[T]

// noopSubscription is handed to subscribers of publishers that terminate
// on subscribe and therefore never honor demand.
type noopSubscription struct{}

func (noopSubscription) Request(int) {}
func (noopSubscription) Cancel()     {}
