// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/satorivideo/videobot/internal/config"
	"github.com/satorivideo/videobot/internal/metrics"
	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/redisbus"
	"github.com/satorivideo/videobot/internal/rtm"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	cfgFile      string
	flagEndpoint string
	flagAppKey   string
	flagPort     string
	flagChannel  string
	flagBus      string
	flagMetrics  string
	flagInsecure bool
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "videobot",
	Short: "Distributed video bot runtime",
	Long: `videobot ingests encoded video streams from a pub/sub bus, decodes
frames, hands them to an image analyzer and republishes the analysis
output onto derived channels.

Modes:
  run      process a single stream (file, camera or bus channel)
  pool     join a worker pool and process bus-dispatched jobs
  publish  publish a recorded stream onto a channel`,
	SilenceUsage: true,
}

// Execute runs the root command. It exits 1 on startup validation
// failures and propagates runtime errors as a nonzero exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", getEnvOrDefault("VIDEOBOT_CONFIG", ""), "path to yaml config file")
	pf.StringVar(&flagEndpoint, "endpoint", getEnvOrDefault("VIDEOBOT_ENDPOINT", ""), "bus endpoint host (RTM) or URL (Redis)")
	pf.StringVar(&flagAppKey, "appkey", getEnvOrDefault("VIDEOBOT_APPKEY", ""), "bus application key")
	pf.StringVar(&flagPort, "port", getEnvOrDefault("VIDEOBOT_PORT", "443"), "bus endpoint port")
	pf.StringVar(&flagChannel, "channel", "", "stream channel name")
	pf.StringVar(&flagBus, "bus", "rtm", "bus transport: rtm or redis")
	pf.StringVar(&flagMetrics, "metrics-port", "", "bind address for prometheus metrics (e.g. :9090)")
	pf.BoolVar(&flagInsecure, "insecure", false, "use a plaintext websocket connection")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// loadConfig merges flags over the optional config file.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{
		Endpoint: flagEndpoint,
		AppKey:   flagAppKey,
		Channel:  flagChannel,
	}
	// port and bus always carry a built-in default; only an explicit
	// flag (or, for the port, its environment variable) outranks the file
	pf := rootCmd.PersistentFlags()
	if pf.Changed("port") || os.Getenv("VIDEOBOT_PORT") != "" {
		cfg.Port = flagPort
	}
	if pf.Changed("bus") {
		cfg.Bus = flagBus
	}
	if flagMetrics != "" {
		cfg.Metrics.BindAddress = flagMetrics
	}

	fileCfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Merge(fileCfg)
	if cfg.Port == "" {
		cfg.Port = flagPort
	}
	if cfg.Bus == "" {
		cfg.Bus = flagBus
	}
	return cfg, nil
}

// newLogFn builds the shared logging callback. Colors follow the level.
func newLogFn() func(level, msg string) {
	return func(level, msg string) {
		switch level {
		case "error":
			color.New(color.FgRed).Fprintf(os.Stderr, "%s\n", msg)
		case "warning":
			color.New(color.FgYellow).Fprintf(os.Stderr, "%s\n", msg)
		case "success":
			color.New(color.FgGreen).Printf("%s\n", msg)
		default:
			if verbose {
				fmt.Printf("%s\n", msg)
			}
		}
	}
}

// errorCallbacks adapts a log function to the bus error contract.
type errorCallbacks struct {
	logFn  func(level, msg string)
	onFail func(err error)
}

func (e *errorCallbacks) OnError(err error) {
	e.logFn("error", fmt.Sprintf("bus error: %v", err))
	if e.onFail != nil {
		e.onFail(err)
	}
}

// newBus constructs the configured bus transport.
func newBus(cfg *config.Config, loop *reactor.Loop, callbacks rtm.ErrorCallbacks, logFn func(level, msg string)) rtm.Bus {
	if cfg.Bus == "redis" {
		return redisbus.NewClient(redisbus.ClientConfig{
			URL:   cfg.Endpoint,
			LogFn: logFn,
		}, loop, callbacks)
	}
	return rtm.NewClient(rtm.ClientConfig{
		Endpoint: cfg.Endpoint,
		Port:     cfg.Port,
		AppKey:   cfg.AppKey,
		Insecure: flagInsecure,
		LogFn:    logFn,
	}, loop, callbacks)
}

// serveMetrics starts the prometheus listener when configured.
func serveMetrics(m *metrics.Metrics, cfg *config.Config, logFn func(level, msg string)) {
	if cfg.Metrics.BindAddress == "" {
		return
	}
	go func() {
		logFn("info", fmt.Sprintf("metrics listening on %s", cfg.Metrics.BindAddress))
		if err := m.Serve(cfg.Metrics.BindAddress); err != nil {
			logFn("warning", fmt.Sprintf("metrics server failed: %v", err))
		}
	}()
}
