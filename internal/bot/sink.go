package bot

import (
	"encoding/json"

	"github.com/satorivideo/videobot/internal/rtm"
	"github.com/satorivideo/videobot/internal/streams"
	"github.com/satorivideo/videobot/internal/video"
)

// imageSink terminates a frame pipeline: it populates the context,
// invokes the image callback, flushes the buffered messages to the
// derived bus channels and requests the next frame.
type imageSink struct {
	ctx     *Context
	desc    Descriptor
	bus     rtm.Bus
	channel string
	logFn   func(level, msg string)

	// onPublish is an optional per-kind publish hook (metrics).
	onPublish func(kind MessageKind)

	// onTerminal fires once when the pipeline ends; err is nil on
	// normal completion.
	onTerminal func(err error)

	source streams.Subscription
	done   bool
}

func (s *imageSink) OnSubscribe(sub streams.Subscription) {
	s.source = sub
	s.source.Request(1)
}

func (s *imageSink) OnNext(frame *video.ImageFrame) {
	meta := frame.Metadata()
	s.ctx.FrameMetadata = &meta
	s.desc.OnImage(s.ctx, frame)
	s.flush()
	s.source.Request(1)
}

func (s *imageSink) OnComplete() {
	if s.done {
		return
	}
	s.done = true
	s.flush()
	if s.onTerminal != nil {
		s.onTerminal(nil)
	}
}

func (s *imageSink) OnError(err error) {
	if s.done {
		return
	}
	s.done = true
	if s.logFn != nil {
		s.logFn("error", "pipeline failed: "+err.Error())
	}
	if s.onTerminal != nil {
		s.onTerminal(err)
	}
}

// flush publishes the buffered messages in order.
func (s *imageSink) flush() {
	for _, msg := range s.ctx.drain() {
		body := msg.Body
		if msg.ID != (video.FrameID{}) {
			body = injectFrameID(body, msg.ID)
		}
		if err := s.bus.Publish(s.channel+msg.Kind.ChannelSuffix(), json.RawMessage(body)); err != nil {
			if s.logFn != nil {
				s.logFn("warning", "failed to publish "+msg.Kind.String()+" message: "+err.Error())
			}
			continue
		}
		if s.onPublish != nil {
			s.onPublish(msg.Kind)
		}
	}
}

// injectFrameID adds the "i" epoch-range field to a JSON object body.
// Non-object bodies are passed through unchanged.
func injectFrameID(body json.RawMessage, id video.FrameID) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	idRaw, err := json.Marshal([2]int64{id.I1, id.I2})
	if err != nil {
		return body
	}
	obj["i"] = idRaw
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

// configureCommand is the synthetic bootstrap command delivered to the
// control callback at pipeline start.
const configureCommand = `{"action":"configure","body":{}}`

// controlSink subscribes to the control sub-channel and routes each
// command through the control callback, republishing non-empty replies.
type controlSink struct {
	ctx     *Context
	desc    Descriptor
	bus     rtm.Bus
	channel string
	logFn   func(level, msg string)

	sub rtm.Subscription
}

// startControl subscribes the control sink and delivers the synthetic
// configure command. The callback is therefore invoked at least once
// even when no command is pending.
func startControl(bus rtm.Bus, channel string, ctx *Context, desc Descriptor, logFn func(level, msg string)) (*controlSink, error) {
	s := &controlSink{ctx: ctx, desc: desc, bus: bus, channel: channel, logFn: logFn}
	if desc.OnControl == nil {
		return s, nil
	}
	if err := bus.SubscribeChannel(video.ControlChannel(channel), &s.sub, s, nil); err != nil {
		return nil, err
	}
	s.dispatch(json.RawMessage(configureCommand))
	return s, nil
}

func (s *controlSink) OnData(_ *rtm.Subscription, msg json.RawMessage) {
	s.dispatch(msg)
}

func (s *controlSink) OnError(err error) {
	if s.logFn != nil {
		s.logFn("error", "control subscription failed: "+err.Error())
	}
}

func (s *controlSink) dispatch(cmd json.RawMessage) {
	reply := s.desc.OnControl(s.ctx, cmd)
	if len(reply) == 0 {
		return
	}
	if err := s.bus.Publish(video.ControlChannel(s.channel), reply); err != nil && s.logFn != nil {
		s.logFn("warning", "failed to publish control response: "+err.Error())
	}
}

// stop unsubscribes the control channel.
func (s *controlSink) stop() {
	if s.desc.OnControl == nil {
		return
	}
	s.bus.Unsubscribe(&s.sub)
}
