// cmd/pool.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satorivideo/videobot/internal/bot"
	"github.com/satorivideo/videobot/internal/metrics"
	"github.com/satorivideo/videobot/internal/pool"
	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/video"
)

var (
	poolChannel    string
	poolJobType    string
	poolMaxStreams int
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Join a worker pool and process bus-dispatched stream jobs",
	Long: `Subscribe to a pool channel carrying start_job/stop_job directives,
run one pipeline per job up to the configured capacity and publish
liveness heartbeats on the pool status channel.`,
	RunE: runPool,
}

func init() {
	poolCmd.Flags().StringVar(&poolChannel, "pool", "", "pool directive channel")
	poolCmd.Flags().StringVar(&poolJobType, "job-type", "video-bot", "job type reported in heartbeats")
	poolCmd.Flags().IntVar(&poolMaxStreams, "max-streams", 0, "maximum concurrently running pipelines")
	rootCmd.AddCommand(poolCmd)
}

func runPool(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if poolChannel != "" {
		cfg.Pool.Name = poolChannel
	}
	if cmd.Flags().Changed("job-type") || cfg.Pool.JobType == "" {
		cfg.Pool.JobType = poolJobType
	}
	if poolMaxStreams > 0 {
		cfg.Pool.MaxStreamsCapacity = poolMaxStreams
	}
	if cfg.Pool.Name == "" {
		return fmt.Errorf("missing --pool")
	}
	if cfg.Pool.MaxStreamsCapacity <= 0 {
		return fmt.Errorf("missing --max-streams")
	}

	logFn := newLogFn()
	loop := reactor.NewLoop()
	m := metrics.New()
	serveMetrics(m, cfg, logFn)

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

	rt, err := bot.NewRuntime(loop, bus, echoBot(logFn), bot.RuntimeConfig{
		ImageWidth:     cfg.ImageWidth,
		ImageHeight:    cfg.ImageHeight,
		DecoderFactory: video.RawDecoderFactory,
		LogFn:          logFn,
		Metrics:        m,
	})
	if err != nil {
		return err
	}

	controller, err := pool.NewController(loop, bus, pool.Config{
		Pool:               cfg.Pool.Name,
		JobType:            cfg.Pool.JobType,
		MaxStreamsCapacity: cfg.Pool.MaxStreamsCapacity,
		StartJob: func(id string, descriptor json.RawMessage, onTerminal func(err error)) (pool.Pipeline, error) {
			return rt.StartJobPipeline(id, descriptor, onTerminal)
		},
		OnError: fail,
		LogFn:   logFn,
	})
	if err != nil {
		return err
	}
	controller.OnHeartbeat = func() { m.HeartbeatsSent.Inc() }

	if err := loop.Post(func() {
		if err := controller.Start(); err != nil {
			fail(err)
		}
	}); err != nil {
		return err
	}

	logFn("success", fmt.Sprintf("pool worker started on %s (capacity %d)", cfg.Pool.Name, cfg.Pool.MaxStreamsCapacity))
	loop.NotifySignals()
	loop.Run()
	controller.Shutdown()

	if runtimeErr != nil {
		return fmt.Errorf("pool worker failed: %w", runtimeErr)
	}
	logFn("success", "pool worker stopped")
	return nil
}
