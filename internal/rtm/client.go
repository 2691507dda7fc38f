package rtm

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/satorivideo/videobot/internal/reactor"
)

const readBufferSize = 100000

type clientState int

const (
	stateStopped clientState = iota + 1
	stateRunning
	statePendingStopped
)

type subscriptionStatus int

const (
	statusPendingSubscribe subscriptionStatus = iota + 1
	statusCurrent
	statusPendingUnsubscribe
)

// ClientConfig holds configuration for the RTM WebSocket client.
type ClientConfig struct {
	// Endpoint is the RTM host, without scheme (e.g. "rtm.example.com")
	Endpoint string

	// Port is the TCP port to connect to
	Port string

	// AppKey authenticates the connection
	AppKey string

	// Insecure selects ws:// instead of wss://
	Insecure bool

	// LogFn is an optional callback for logging (if nil, logs are dropped)
	LogFn func(level, msg string)
}

// Client is the RTM bus client. It speaks the RTM JSON protocol over a
// single WebSocket connection. The read pump runs on its own goroutine
// and posts every callback onto the reactor loop.
type Client struct {
	cfg       ClientConfig
	loop      *reactor.Loop
	callbacks ErrorCallbacks

	writeMu sync.Mutex
	conn    *websocket.Conn

	stateMu sync.Mutex
	state   clientState

	subsMu        sync.Mutex
	requestID     uint64
	subscriptions map[string]*subscriptionState
}

type subscriptionState struct {
	sub              *Subscription
	callbacks        SubscriptionCallbacks
	status           subscriptionStatus
	pendingRequestID uint64
}

// NewClient creates an RTM client. Start must be called before any
// subscribe or publish.
func NewClient(cfg ClientConfig, loop *reactor.Loop, callbacks ErrorCallbacks) *Client {
	return &Client{
		cfg:           cfg,
		loop:          loop,
		callbacks:     callbacks,
		state:         stateStopped,
		subscriptions: make(map[string]*subscriptionState),
	}
}

func (c *Client) log(level, format string, args ...any) {
	if c.cfg.LogFn != nil {
		c.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Start dials the endpoint and begins the read pump. Idempotent.
func (c *Client) Start() error {
	c.stateMu.Lock()
	if c.state == stateRunning {
		c.stateMu.Unlock()
		return nil
	}
	c.stateMu.Unlock()

	scheme := "wss"
	if c.cfg.Insecure {
		scheme = "ws"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.cfg.Endpoint + ":" + c.cfg.Port,
		Path:     "/v2",
		RawQuery: "appkey=" + url.QueryEscape(c.cfg.AppKey),
	}
	c.log("info", "Starting RTM client: %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.Host, err)
	}
	conn.SetReadLimit(readBufferSize)
	c.conn = conn

	c.stateMu.Lock()
	c.state = stateRunning
	c.stateMu.Unlock()
	c.log("info", "Websocket open")

	go c.readPump()
	return nil
}

// Stop closes the connection and drops all subscriptions. Idempotent.
func (c *Client) Stop() error {
	c.stateMu.Lock()
	if c.state != stateRunning {
		c.stateMu.Unlock()
		return nil
	}
	c.state = statePendingStopped
	c.stateMu.Unlock()

	c.log("info", "Stopping RTM client")
	return c.conn.Close()
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.stateMu.Lock()
			pendingStop := c.state == statePendingStopped
			c.state = stateStopped
			c.stateMu.Unlock()

			if pendingStop {
				c.log("info", "Read loop stopped")
				c.subsMu.Lock()
				c.subscriptions = make(map[string]*subscriptionState)
				c.subsMu.Unlock()
				return
			}
			c.log("error", "Websocket read failed: %v", err)
			c.loop.Post(func() { c.callbacks.OnError(ErrNotConnected) })
			return
		}

		var p pdu
		if err := json.Unmarshal(data, &p); err != nil {
			c.loop.Post(func() { c.callbacks.OnError(ErrResponseParsing) })
			continue
		}
		c.loop.Post(func() { c.processPDU(&p) })
	}
}

type pdu struct {
	Action string          `json:"action"`
	ID     uint64          `json:"id,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type subscribeBody struct {
	Channel        string       `json:"channel"`
	SubscriptionID string       `json:"subscription_id"`
	History        *historyBody `json:"history,omitempty"`
}

type historyBody struct {
	Age   uint64 `json:"age,omitempty"`
	Count uint64 `json:"count,omitempty"`
}

type unsubscribeBody struct {
	SubscriptionID string `json:"subscription_id"`
}

type dataBody struct {
	SubscriptionID string            `json:"subscription_id"`
	Messages       []json.RawMessage `json:"messages"`
}

type publishBody struct {
	Channel string `json:"channel"`
	Message any    `json:"message"`
}

type outgoingPDU struct {
	Action string `json:"action"`
	ID     uint64 `json:"id,omitempty"`
	Body   any    `json:"body"`
}

func (c *Client) writePDU(p *outgoingPDU) error {
	c.stateMu.Lock()
	running := c.state == stateRunning
	c.stateMu.Unlock()
	if !running {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(p)
}

// SubscribeChannel requests a subscription. The channel name doubles as
// the subscription id, matching the RTM protocol convention.
func (c *Client) SubscribeChannel(channel string, sub *Subscription, callbacks SubscriptionCallbacks, opts *SubscriptionOptions) error {
	sub.Channel = channel
	c.subsMu.Lock()
	c.requestID++
	requestID := c.requestID
	c.subscriptions[channel] = &subscriptionState{
		sub:              sub,
		callbacks:        callbacks,
		status:           statusPendingSubscribe,
		pendingRequestID: requestID,
	}
	c.subsMu.Unlock()

	body := subscribeBody{Channel: channel, SubscriptionID: channel}
	if opts != nil && (opts.History.Age > 0 || opts.History.Count > 0) {
		body.History = &historyBody{Age: opts.History.Age, Count: opts.History.Count}
	}
	if err := c.writePDU(&outgoingPDU{Action: "rtm/subscribe", ID: requestID, Body: body}); err != nil {
		c.subsMu.Lock()
		delete(c.subscriptions, channel)
		c.subsMu.Unlock()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c.log("info", "requested subscribe for %s", channel)
	return nil
}

// Unsubscribe requests teardown of a subscription.
func (c *Client) Unsubscribe(sub *Subscription) error {
	c.subsMu.Lock()
	state, ok := c.subscriptions[sub.Channel]
	if !ok || state.sub != sub {
		c.subsMu.Unlock()
		return ErrUnsubscribeError
	}
	c.requestID++
	requestID := c.requestID
	state.pendingRequestID = requestID
	state.status = statusPendingUnsubscribe
	c.subsMu.Unlock()

	body := unsubscribeBody{SubscriptionID: sub.Channel}
	if err := c.writePDU(&outgoingPDU{Action: "rtm/unsubscribe", ID: requestID, Body: body}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.Channel, err)
	}
	c.log("info", "requested unsubscribe for %s", sub.Channel)
	return nil
}

// Publish sends a message to a channel.
func (c *Client) Publish(channel string, message any) error {
	p := &outgoingPDU{
		Action: "rtm/publish",
		Body:   publishBody{Channel: channel, Message: message},
	}
	if err := c.writePDU(p); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// processPDU handles one incoming protocol unit on the reactor loop.
func (c *Client) processPDU(p *pdu) {
	switch p.Action {
	case "rtm/subscription/data":
		var body dataBody
		if err := json.Unmarshal(p.Body, &body); err != nil {
			c.callbacks.OnError(ErrResponseParsing)
			return
		}
		c.subsMu.Lock()
		state, ok := c.subscriptions[body.SubscriptionID]
		c.subsMu.Unlock()
		if !ok {
			c.log("error", "data for unknown subscription %s", body.SubscriptionID)
			c.callbacks.OnError(ErrInvalidResponse)
			return
		}
		if state.status == statusPendingUnsubscribe {
			c.log("info", "data for subscription pending deletion: %s", body.SubscriptionID)
			return
		}
		for _, m := range body.Messages {
			state.callbacks.OnData(state.sub, m)
		}

	case "rtm/subscribe/ok":
		state, channel := c.findPending(p.ID)
		if state == nil {
			c.log("error", "unexpected subscribe confirmation, id %d", p.ID)
			c.callbacks.OnError(ErrInvalidResponse)
			return
		}
		c.log("info", "got subscribe confirmation for %s", channel)
		state.pendingRequestID = 0
		state.status = statusCurrent

	case "rtm/subscribe/error":
		state, channel := c.findPending(p.ID)
		if state == nil {
			c.log("error", "unexpected subscribe error, id %d", p.ID)
			c.callbacks.OnError(ErrInvalidResponse)
			return
		}
		c.log("error", "subscribe failed for %s", channel)
		c.dropSubscription(channel)
		state.callbacks.OnError(ErrSubscribeError)

	case "rtm/unsubscribe/ok":
		state, channel := c.findPending(p.ID)
		if state == nil {
			c.log("error", "unexpected unsubscribe confirmation, id %d", p.ID)
			c.callbacks.OnError(ErrInvalidResponse)
			return
		}
		c.log("info", "got unsubscribe confirmation for %s", channel)
		c.dropSubscription(channel)

	case "rtm/unsubscribe/error":
		state, channel := c.findPending(p.ID)
		if state == nil {
			c.log("error", "unexpected unsubscribe error, id %d", p.ID)
			c.callbacks.OnError(ErrInvalidResponse)
			return
		}
		c.log("error", "unsubscribe failed for %s", channel)
		c.dropSubscription(channel)
		state.callbacks.OnError(ErrUnsubscribeError)

	case "rtm/subscription/error":
		c.log("error", "subscription error: %s", string(p.Body))
		c.callbacks.OnError(ErrSubscriptionError)

	default:
		c.log("error", "unhandled action %s", p.Action)
		c.callbacks.OnError(ErrInvalidResponse)
	}
}

func (c *Client) findPending(requestID uint64) (*subscriptionState, string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for channel, state := range c.subscriptions {
		if state.pendingRequestID == requestID {
			return state, channel
		}
	}
	return nil, ""
}

func (c *Client) dropSubscription(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
}

var _ Bus = (*Client)(nil)
