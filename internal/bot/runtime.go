package bot

import (
	"encoding/json"
	"fmt"

	"github.com/satorivideo/videobot/internal/metrics"
	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/rtm"
	"github.com/satorivideo/videobot/internal/streams"
	"github.com/satorivideo/videobot/internal/video"
)

// RuntimeConfig holds configuration for the bot runtime.
type RuntimeConfig struct {
	// Channel is the default stream channel for single-bot mode.
	Channel string

	// ImageWidth and ImageHeight bound decoded frames; zero keeps the
	// source size.
	ImageWidth  int
	ImageHeight int

	// DecoderFactory creates decoders for new pipelines. Required.
	DecoderFactory video.DecoderFactory

	// LogFn is an optional callback for logging (if nil, logs are dropped)
	LogFn func(level, msg string)

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

// Runtime wires pipelines together: source, decode, image sink and
// control sink, all driven by one reactor loop and one bus client. It
// is built explicitly by the command that runs the bot, from the bot's
// Descriptor, rather than through global registration.
type Runtime struct {
	loop *reactor.Loop
	bus  rtm.Bus
	desc Descriptor
	cfg  RuntimeConfig
}

// NewRuntime creates a runtime for one bot descriptor.
func NewRuntime(loop *reactor.Loop, bus rtm.Bus, desc Descriptor, cfg RuntimeConfig) (*Runtime, error) {
	if desc.OnImage == nil {
		return nil, fmt.Errorf("bot descriptor has no image callback")
	}
	if cfg.DecoderFactory == nil {
		return nil, fmt.Errorf("runtime config has no decoder factory")
	}
	return &Runtime{loop: loop, bus: bus, desc: desc, cfg: cfg}, nil
}

// Loop returns the reactor loop driving the runtime.
func (r *Runtime) Loop() *reactor.Loop { return r.loop }

// Bus returns the bus client the runtime publishes and subscribes on.
func (r *Runtime) Bus() rtm.Bus { return r.bus }

func (r *Runtime) log(level, format string, args ...any) {
	if r.cfg.LogFn != nil {
		r.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Pipeline is one running frame pipeline plus its control sink. Cancel
// tears the whole chain down idempotently.
type Pipeline struct {
	ID string

	sink      *imageSink
	control   *controlSink
	closers   []func()
	cancelled bool
}

// Cancel cancels the root subscription, stops the control sink and runs
// the registered closers. Safe to call more than once; cancellation
// after a terminal event only runs the remaining cleanup.
func (p *Pipeline) Cancel() {
	if p.cancelled {
		return
	}
	p.cancelled = true
	if p.sink != nil && !p.sink.done {
		p.sink.done = true
		p.sink.source.Cancel()
	}
	if p.control != nil {
		p.control.stop()
	}
	for _, close := range p.closers {
		close()
	}
}

// StartPipeline assembles and starts a pipeline over an encoded-packet
// source. onTerminal fires once when the pipeline completes or fails;
// it does not fire on Cancel.
func (r *Runtime) StartPipeline(source streams.Publisher[video.EncodedPacket], channel string, onTerminal func(err error)) (*Pipeline, error) {
	ctx := &Context{}
	pipeline := &Pipeline{ID: channel}

	counted := source
	if r.cfg.Metrics != nil {
		counted = streams.Map(source, func(p video.EncodedPacket) video.EncodedPacket {
			if _, ok := p.(*video.EncodedFrame); ok {
				r.cfg.Metrics.FramesReceived.Inc()
			}
			return p
		})
	}

	decodeCfg := video.DecodeConfig{
		Factory:     r.cfg.DecoderFactory,
		Width:       r.cfg.ImageWidth,
		Height:      r.cfg.ImageHeight,
		PixelFormat: r.desc.PixelFormat,
	}
	if r.cfg.Metrics != nil {
		decodeCfg.OnFrameDropped = func() {
			r.cfg.Metrics.FramesDropped.WithLabelValues("no_metadata").Inc()
		}
		decodeCfg.OnFrameError = func(error) { r.cfg.Metrics.DecodeErrors.Inc() }
	}
	decoded := video.Decode(counted, decodeCfg)
	if r.cfg.Metrics != nil {
		decoded = streams.Map(decoded, func(f *video.ImageFrame) *video.ImageFrame {
			r.cfg.Metrics.FramesDecoded.Inc()
			return f
		})
	}

	sink := &imageSink{
		ctx:     ctx,
		desc:    r.desc,
		bus:     r.bus,
		channel: channel,
		logFn:   r.cfg.LogFn,
		onTerminal: func(err error) {
			if err != nil {
				r.log("error", "pipeline %s terminated: %v", channel, err)
			} else {
				r.log("info", "pipeline %s completed", channel)
			}
			if onTerminal != nil {
				onTerminal(err)
			}
		},
	}
	if r.cfg.Metrics != nil {
		sink.onPublish = func(kind MessageKind) {
			r.cfg.Metrics.MessagesPublished.WithLabelValues(kind.String()).Inc()
		}
	}
	pipeline.sink = sink

	control, err := startControl(r.bus, channel, ctx, r.desc, r.cfg.LogFn)
	if err != nil {
		return nil, fmt.Errorf("failed to start control sink for %s: %w", channel, err)
	}
	pipeline.control = control

	decoded.Subscribe(sink)
	return pipeline, nil
}

// jobDescriptor is the bus-dispatched job shape consumed in pool mode.
type jobDescriptor struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// StartJobPipeline builds a bus-sourced pipeline for a pool job. The
// job descriptor names the stream channel; it defaults to the job id.
func (r *Runtime) StartJobPipeline(id string, descriptor json.RawMessage, onTerminal func(err error)) (*Pipeline, error) {
	var job jobDescriptor
	if len(descriptor) > 0 {
		if err := json.Unmarshal(descriptor, &job); err != nil {
			return nil, fmt.Errorf("failed to parse job descriptor: %w", err)
		}
	}
	channel := job.Channel
	if channel == "" {
		channel = id
	}

	source := video.NewBusSource(r.bus, channel)
	pipeline, err := r.StartPipeline(source.Publisher(), channel, func(err error) {
		source.Close()
		if onTerminal != nil {
			onTerminal(err)
		}
	})
	if err != nil {
		return nil, err
	}
	pipeline.ID = id
	pipeline.closers = append(pipeline.closers, source.Close)
	return pipeline, nil
}
