// cmd/run.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satorivideo/videobot/internal/bot"
	"github.com/satorivideo/videobot/internal/metrics"
	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/rtm"
	"github.com/satorivideo/videobot/internal/streams"
	"github.com/satorivideo/videobot/internal/video"
)

var (
	runInputFile    string
	runInputCamera  bool
	runInputChannel string
	runLoopInput    bool
	runWidth        int
	runHeight       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a single video stream with the built-in echo bot",
	Long: `Run one pipeline over a file recording, a camera or a bus channel.

The built-in echo bot publishes one analysis message per decoded frame;
it exists to smoke-test a deployment. Production bots embed the runtime
as a library and register their own callbacks.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "recorded stream file to process")
	runCmd.Flags().BoolVar(&runInputCamera, "input-camera", false, "capture from the default camera")
	runCmd.Flags().StringVar(&runInputChannel, "input-channel", "", "bus channel to subscribe to (defaults to --channel)")
	runCmd.Flags().BoolVar(&runLoopInput, "loop-input", false, "replay the input file forever")
	runCmd.Flags().IntVar(&runWidth, "width", 0, "bound decoded frame width (passed to the decoder; the built-in raw decoder does not scale)")
	runCmd.Flags().IntVar(&runHeight, "height", 0, "bound decoded frame height (passed to the decoder; the built-in raw decoder does not scale)")
	rootCmd.AddCommand(runCmd)
}

// echoBot is the built-in smoke-test bot: one analysis message per
// frame, configure handling on the control channel.
func echoBot(logFn func(level, msg string)) bot.Descriptor {
	frames := 0
	return bot.Descriptor{
		PixelFormat: video.PixelFormatBGR,
		OnImage: func(ctx *bot.Context, frame *video.ImageFrame) {
			frames++
			ctx.Message(bot.MessageAnalysis, map[string]any{
				"frame":  frames,
				"width":  ctx.FrameMetadata.Width,
				"height": ctx.FrameMetadata.Height,
			}, frame.ID)
		},
		OnControl: func(_ *bot.Context, command json.RawMessage) json.RawMessage {
			var cmd struct {
				Action string          `json:"action"`
				Body   json.RawMessage `json:"body"`
			}
			if err := json.Unmarshal(command, &cmd); err != nil {
				logFn("warning", fmt.Sprintf("bad control command: %v", err))
				return nil
			}
			if cmd.Action == "configure" {
				logFn("info", fmt.Sprintf("processing config %s", string(cmd.Body)))
			}
			return nil
		},
	}
}

// selectSource builds the packet source for the chosen input. The
// returned closer, when non-nil, must run at pipeline teardown.
func selectSource(bus rtm.Bus, channel string) (streams.Publisher[video.EncodedPacket], func(), error) {
	switch {
	case runInputFile != "":
		return video.FileSource(video.OpenRecording, runInputFile, runLoopInput), nil, nil
	case runInputCamera:
		// camera capture needs a platform device wired into the build
		return nil, nil, fmt.Errorf("no camera capture device is linked into this build")
	default:
		source := video.NewBusSource(bus, channel)
		return source.Publisher(), source.Close, nil
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logFn := newLogFn()

	// the bot publishes its analysis over the bus regardless of input,
	// so endpoint, appkey and channel are always required
	if err := cfg.Validate(); err != nil {
		return err
	}
	channel := cfg.Channel
	inputChannel := runInputChannel
	if inputChannel == "" {
		inputChannel = channel
	}
	if channel == "" {
		channel = inputChannel
	}
	if channel == "" {
		return fmt.Errorf("missing --channel")
	}

	loop := reactor.NewLoop()
	m := metrics.New()
	serveMetrics(m, cfg, logFn)

	var runtimeErr error
	errCb := &errorCallbacks{logFn: logFn, onFail: func(err error) {
		runtimeErr = err
		loop.Stop()
	}}
	bus := newBus(cfg, loop, errCb, logFn)
	if err := bus.Start(); err != nil {
		return err
	}
	defer bus.Stop()

	rt, err := bot.NewRuntime(loop, bus, echoBot(logFn), bot.RuntimeConfig{
		Channel:        channel,
		ImageWidth:     runWidth,
		ImageHeight:    runHeight,
		DecoderFactory: video.RawDecoderFactory,
		LogFn:          logFn,
		Metrics:        m,
	})
	if err != nil {
		return err
	}

	if err := loop.Post(func() {
		source, closer, err := selectSource(bus, inputChannel)
		if err != nil {
			runtimeErr = err
			loop.Stop()
			return
		}
		_, err = rt.StartPipeline(source, channel, func(err error) {
			if closer != nil {
				closer()
			}
			if err != nil {
				runtimeErr = err
			}
			loop.Stop()
		})
		if err != nil {
			runtimeErr = err
			loop.Stop()
		}
	}); err != nil {
		return err
	}

	logFn("success", "videobot started")
	loop.NotifySignals()
	loop.Run()

	if runtimeErr != nil {
		return fmt.Errorf("pipeline failed: %w", runtimeErr)
	}
	logFn("success", "videobot stopped")
	return nil
}
