// Package rtm provides the pub/sub bus client used by pipelines and the
// pool controller.
//
// The Bus interface is the narrow contract the core consumes; the
// default implementation speaks the RTM JSON protocol over a WebSocket
// (see client.go). An alternative Redis-backed implementation lives in
// internal/redisbus.
//
// All callbacks are delivered on the reactor loop; because execution is
// serial, Bus consumers need no locks.
package rtm

import "encoding/json"

// Subscription is an opaque handle identifying one channel subscription.
// The same handle passed to SubscribeChannel is later passed to
// Unsubscribe and presented in OnData callbacks.
type Subscription struct {
	// Channel is set by the client when the subscription is requested.
	Channel string
}

// History requests replay of retained messages on subscribe.
type History struct {
	// Age in seconds; zero means no age constraint.
	Age uint64
	// Count of most recent messages to replay; zero means none.
	Count uint64
}

// SubscriptionOptions carries optional subscribe parameters.
type SubscriptionOptions struct {
	History History
}

// SubscriptionCallbacks receives data and errors for one subscription.
type SubscriptionCallbacks interface {
	OnData(sub *Subscription, msg json.RawMessage)
	OnError(err error)
}

// ErrorCallbacks receives client-level errors.
type ErrorCallbacks interface {
	OnError(err error)
}

// Bus is the pub/sub transport contract consumed by the core.
type Bus interface {
	// Start opens the transport. Idempotent.
	Start() error

	// Stop closes the transport and drops all subscriptions. Idempotent.
	Stop() error

	// SubscribeChannel subscribes sub to a channel. Messages and
	// subscription errors arrive via callbacks on the reactor loop.
	SubscribeChannel(channel string, sub *Subscription, callbacks SubscriptionCallbacks, opts *SubscriptionOptions) error

	// Unsubscribe tears down a subscription previously established
	// with SubscribeChannel.
	Unsubscribe(sub *Subscription) error

	// Publish sends a message to a channel. The message is marshalled
	// to JSON.
	Publish(channel string, message any) error
}
