// Package redisbus provides a Redis Pub/Sub implementation of the bus
// contract. It lets the runtime ride an existing Redis deployment
// instead of an RTM endpoint; channel names map one-to-one to Redis
// channels.
//
// Redis Pub/Sub retains no history, so subscription history options are
// ignored: a subscriber that joins late sees codec metadata only when a
// publisher sends it again (the RepeatIf operator can re-inject it into
// a published stream).
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/rtm"
)

// ClientConfig holds configuration for the Redis bus client.
type ClientConfig struct {
	// URL is the Redis connection URL (redis://...)
	URL string

	// Password overrides the URL credential when set
	Password string

	// LogFn is an optional callback for logging (if nil, logs are dropped)
	LogFn func(level, msg string)
}

// Client is a Bus backed by Redis Pub/Sub. Message and error callbacks
// are posted onto the reactor loop.
type Client struct {
	cfg       ClientConfig
	loop      *reactor.Loop
	callbacks rtm.ErrorCallbacks

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	client  *redis.Client
	subs    map[string]*channelSub
	running bool
}

type channelSub struct {
	sub       *rtm.Subscription
	callbacks rtm.SubscriptionCallbacks
	pubsub    *redis.PubSub
}

// NewClient creates a Redis bus client. Start must be called before any
// subscribe or publish.
func NewClient(cfg ClientConfig, loop *reactor.Loop, callbacks rtm.ErrorCallbacks) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		loop:      loop,
		callbacks: callbacks,
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[string]*channelSub),
	}
}

func (c *Client) log(level, format string, args ...any) {
	if c.cfg.LogFn != nil {
		c.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Start connects to Redis and verifies the connection. Idempotent.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	opts, err := redis.ParseURL(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if c.cfg.Password != "" {
		opts.Password = c.cfg.Password
	}
	c.client = redis.NewClient(opts)

	if err := c.client.Ping(c.ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.running = true
	c.log("info", "Redis bus connected: %s", opts.Addr)
	return nil
}

// Stop closes every subscription and the connection. Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	c.cancel()
	for channel, s := range c.subs {
		s.pubsub.Close()
		delete(c.subs, channel)
	}
	return c.client.Close()
}

// SubscribeChannel subscribes to a Redis channel. History options are
// not supported and ignored.
func (c *Client) SubscribeChannel(channel string, sub *rtm.Subscription, callbacks rtm.SubscriptionCallbacks, opts *rtm.SubscriptionOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return rtm.ErrNotConnected
	}
	if opts != nil && (opts.History.Count > 0 || opts.History.Age > 0) {
		c.log("warning", "history requested for %s; Redis Pub/Sub retains no history", channel)
	}

	sub.Channel = channel
	pubsub := c.client.Subscribe(c.ctx, channel)
	s := &channelSub{sub: sub, callbacks: callbacks, pubsub: pubsub}
	c.subs[channel] = s

	go c.receive(s)
	c.log("info", "subscribed to %s", channel)
	return nil
}

func (c *Client) receive(s *channelSub) {
	for msg := range s.pubsub.Channel() {
		payload := json.RawMessage(msg.Payload)
		c.loop.Post(func() { s.callbacks.OnData(s.sub, payload) })
	}
}

// Unsubscribe tears down a channel subscription.
func (c *Client) Unsubscribe(sub *rtm.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.subs[sub.Channel]
	if !ok || s.sub != sub {
		return rtm.ErrUnsubscribeError
	}
	delete(c.subs, sub.Channel)
	return s.pubsub.Close()
}

// Publish sends a JSON-marshalled message to a channel.
func (c *Client) Publish(channel string, message any) error {
	c.mu.Lock()
	running := c.running
	client := c.client
	c.mu.Unlock()
	if !running {
		return rtm.ErrNotConnected
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", channel, err)
	}
	if err := client.Publish(c.ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

var _ rtm.Bus = (*Client)(nil)
