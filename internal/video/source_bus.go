package video

import (
	"encoding/json"

	"github.com/satorivideo/videobot/internal/rtm"
	"github.com/satorivideo/videobot/internal/streams"
)

// BusSource publishes packets arriving over the bus for one stream: a
// metadata subscription with history count 1 (so the latest codec
// metadata is replayed to late joiners) plus the frames subscription.
// Emissions past pending demand are dropped.
type BusSource struct {
	bus     rtm.Bus
	channel string
	pub     *streams.AsyncPublisher[EncodedPacket]

	metaSub   rtm.Subscription
	framesSub rtm.Subscription
	obs       streams.Observer[EncodedPacket]

	// ParseErrors counts messages that could not be decoded.
	ParseErrors uint64

	closed bool
}

// NewBusSource creates a bus source for the given stream channel. The
// subscriptions are established when the publisher is subscribed.
func NewBusSource(bus rtm.Bus, channel string) *BusSource {
	s := &BusSource{bus: bus, channel: channel}
	s.pub = streams.Async(func(obs streams.Observer[EncodedPacket]) {
		s.obs = obs
		s.subscribe()
	})
	return s
}

// Publisher returns the packet stream. Single use.
func (s *BusSource) Publisher() streams.Publisher[EncodedPacket] { return s.pub }

// Dropped returns the number of packets discarded for lack of demand.
func (s *BusSource) Dropped() uint64 { return s.pub.Dropped() }

// Close unsubscribes both channels. Idempotent; the bot runtime calls it
// when the pipeline terminates and again from Pipeline.Cancel.
func (s *BusSource) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.bus.Unsubscribe(&s.metaSub)
	s.bus.Unsubscribe(&s.framesSub)
}

func (s *BusSource) subscribe() {
	opts := &rtm.SubscriptionOptions{}
	opts.History.Count = 1
	if err := s.bus.SubscribeChannel(MetadataChannel(s.channel), &s.metaSub, (*busSourceCallbacks)(s), opts); err != nil {
		s.obs.OnError(NewError(StreamInitializationError, err))
		return
	}
	if err := s.bus.SubscribeChannel(s.channel, &s.framesSub, (*busSourceCallbacks)(s), nil); err != nil {
		s.bus.Unsubscribe(&s.metaSub)
		s.obs.OnError(NewError(StreamInitializationError, err))
	}
}

// busSourceCallbacks keeps the rtm callback methods off the BusSource
// API surface.
type busSourceCallbacks BusSource

func (c *busSourceCallbacks) OnData(sub *rtm.Subscription, msg json.RawMessage) {
	s := (*BusSource)(c)
	if s.closed {
		return
	}
	switch sub.Channel {
	case MetadataChannel(s.channel):
		meta, err := ParseMetadataMessage(msg)
		if err != nil {
			s.ParseErrors++
			return
		}
		s.obs.OnNext(meta)
	case s.channel:
		frame, err := ParseFrameMessage(msg)
		if err != nil {
			s.ParseErrors++
			return
		}
		s.obs.OnNext(frame)
	}
}

func (c *busSourceCallbacks) OnError(err error) {
	s := (*BusSource)(c)
	if s.closed {
		return
	}
	s.obs.OnError(err)
}
