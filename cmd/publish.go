// cmd/publish.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/rtm"
	"github.com/satorivideo/videobot/internal/streams"
	"github.com/satorivideo/videobot/internal/video"
)

var (
	publishInputFile string
	publishFPS       int
	publishLoop      bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a recorded stream onto a channel",
	Long: `Read a recorded stream and publish it: the codec metadata onto the
metadata sub-channel, then the frames onto the base channel at the
configured rate. Useful for feeding bots without a live source.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishInputFile, "input-file", "", "recorded stream file to publish")
	publishCmd.Flags().IntVar(&publishFPS, "fps", 25, "frame publication rate")
	publishCmd.Flags().BoolVar(&publishLoop, "loop", false, "replay the recording forever")
	publishCmd.MarkFlagRequired("input-file")
	rootCmd.AddCommand(publishCmd)
}

// pacedPublisher pulls one packet per timer tick and publishes it.
type pacedPublisher struct {
	loop     *reactor.Loop
	bus      rtm.Bus
	channel  string
	interval time.Duration
	logFn    func(level, msg string)
	done     func(err error)

	source streams.Subscription
}

func (p *pacedPublisher) OnSubscribe(s streams.Subscription) {
	p.source = s
	p.source.Request(1)
}

func (p *pacedPublisher) OnNext(pkt video.EncodedPacket) {
	switch v := pkt.(type) {
	case *video.EncodedMetadata:
		if err := p.bus.Publish(video.MetadataChannel(p.channel), video.NewMetadataMessage(v)); err != nil {
			p.logFn("warning", fmt.Sprintf("failed to publish metadata: %v", err))
		}
		// metadata rides for free, pull the next packet immediately
		p.source.Request(1)
	case *video.EncodedFrame:
		if err := p.bus.Publish(p.channel, video.NewFrameMessage(v)); err != nil {
			p.logFn("warning", fmt.Sprintf("failed to publish frame %v: %v", v.ID, err))
		}
		p.loop.NewTimer(p.interval, func(err error) {
			if err != nil {
				return
			}
			p.source.Request(1)
		})
	}
}

func (p *pacedPublisher) OnComplete()       { p.done(nil) }
func (p *pacedPublisher) OnError(err error) { p.done(err) }

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Channel == "" {
		return fmt.Errorf("missing --channel")
	}
	if publishFPS <= 0 {
		return fmt.Errorf("--fps must be positive")
	}

	logFn := newLogFn()
	loop := reactor.NewLoop()

	var runtimeErr error
	fail := func(err error) {
		runtimeErr = err
		loop.Stop()
	}

	bus := newBus(cfg, loop, &errorCallbacks{logFn: logFn, onFail: fail}, logFn)
	if err := bus.Start(); err != nil {
		return err
	}
	defer bus.Stop()

	sink := &pacedPublisher{
		loop:     loop,
		bus:      bus,
		channel:  cfg.Channel,
		interval: time.Second / time.Duration(publishFPS),
		logFn:    logFn,
		done: func(err error) {
			if err != nil {
				runtimeErr = err
			}
			loop.Stop()
		},
	}

	if err := loop.Post(func() {
		video.FileSource(video.OpenRecording, publishInputFile, publishLoop).Subscribe(sink)
	}); err != nil {
		return err
	}

	logFn("success", fmt.Sprintf("publishing %s to %s at %d fps", publishInputFile, cfg.Channel, publishFPS))
	loop.NotifySignals()
	loop.Run()

	if runtimeErr != nil {
		return fmt.Errorf("publish failed: %w", runtimeErr)
	}
	logFn("success", "publish complete")
	return nil
}
