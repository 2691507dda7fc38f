// Package pool implements the control-plane job controller: it
// subscribes to a bus channel carrying job directives, starts and stops
// stream pipelines up to a configured capacity, and heartbeats liveness
// back onto the bus.
package pool

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/rtm"
)

// HeartbeatInterval is the cadence of pool status publications.
const HeartbeatInterval = 5 * time.Second

// StatusChannelSuffix derives the heartbeat channel from the pool
// channel name.
const StatusChannelSuffix = "/status"

// Pipeline is a running job pipeline. Cancel must tear the whole chain
// down idempotently.
type Pipeline interface {
	Cancel()
}

// StartJobFunc builds and starts a pipeline for a job. onTerminal fires
// once when the pipeline completes or fails on its own; it must not
// fire on Cancel.
type StartJobFunc func(id string, descriptor json.RawMessage, onTerminal func(err error)) (Pipeline, error)

// JobState tracks a job through its lifecycle.
type JobState int

const (
	JobIdle JobState = iota
	JobStarting
	JobRunning
	JobStopping
	JobTerminated
)

func (s JobState) String() string {
	switch s {
	case JobStarting:
		return "starting"
	case JobRunning:
		return "running"
	case JobStopping:
		return "stopping"
	case JobTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// Config holds configuration for the pool controller.
type Config struct {
	// Pool is the bus channel carrying job directives.
	Pool string

	// JobType identifies this worker pool in heartbeats.
	JobType string

	// MaxStreamsCapacity bounds the number of concurrently running
	// pipelines.
	MaxStreamsCapacity int

	// HeartbeatInterval overrides the default 5 s cadence (tests).
	HeartbeatInterval time.Duration

	// StartJob builds pipelines. Required.
	StartJob StartJobFunc

	// OnError receives controller-fatal errors: pool subscription
	// failures and heartbeat delivery failures.
	OnError func(err error)

	// LogFn is an optional callback for logging (if nil, logs are dropped)
	LogFn func(level, msg string)
}

// directive is the wire form of a pool command.
type directive struct {
	Action string          `json:"action"`
	Job    json.RawMessage `json:"job"`
}

type jobID struct {
	ID string `json:"id"`
}

// heartbeat is the wire form of a pool status publication.
type heartbeat struct {
	JobType  string            `json:"job_type"`
	Jobs     []json.RawMessage `json:"jobs"`
	Capacity heartbeatCapacity `json:"capacity"`
}

type heartbeatCapacity struct {
	Used int `json:"used"`
	Max  int `json:"max"`
}

// runningJob pairs a pipeline with the descriptor it was started from.
type runningJob struct {
	pipeline   Pipeline
	descriptor json.RawMessage
	state      JobState
}

// Controller is the pool job controller. All methods and callbacks run
// on the reactor loop.
type Controller struct {
	loop *reactor.Loop
	bus  rtm.Bus
	cfg  Config

	poolSub rtm.Subscription
	hbTimer *reactor.Timer

	running map[string]*runningJob
	order   []string // insertion order for deterministic shutdown

	// OnHeartbeat is an optional hook fired after each successful
	// heartbeat publication (metrics).
	OnHeartbeat func()

	shutdown bool
}

// NewController creates a pool controller.
func NewController(loop *reactor.Loop, bus rtm.Bus, cfg Config) (*Controller, error) {
	if cfg.StartJob == nil {
		return nil, fmt.Errorf("pool config has no StartJob")
	}
	if cfg.MaxStreamsCapacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", cfg.MaxStreamsCapacity)
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = HeartbeatInterval
	}
	return &Controller{
		loop:    loop,
		bus:     bus,
		cfg:     cfg,
		running: make(map[string]*runningJob),
	}, nil
}

func (c *Controller) log(level, format string, args ...any) {
	if c.cfg.LogFn != nil {
		c.cfg.LogFn(level, fmt.Sprintf(format, args...))
	}
}

// Start subscribes to the pool channel and arms the heartbeat timer.
func (c *Controller) Start() error {
	if err := c.bus.SubscribeChannel(c.cfg.Pool, &c.poolSub, (*poolCallbacks)(c), nil); err != nil {
		return fmt.Errorf("failed to subscribe pool channel %s: %w", c.cfg.Pool, err)
	}
	c.log("info", "pool controller started on %s (capacity %d)", c.cfg.Pool, c.cfg.MaxStreamsCapacity)
	c.armHeartbeat()
	return nil
}

// Shutdown cancels the heartbeat, unsubscribes from the pool channel
// and cancels every running pipeline in start order. Idempotent.
func (c *Controller) Shutdown() {
	if c.shutdown {
		return
	}
	c.shutdown = true
	if c.hbTimer != nil {
		c.hbTimer.Cancel()
	}
	c.bus.Unsubscribe(&c.poolSub)
	for _, id := range c.order {
		if job, ok := c.running[id]; ok {
			job.state = JobStopping
			job.pipeline.Cancel()
			job.state = JobTerminated
			delete(c.running, id)
		}
	}
	c.order = nil
	c.log("info", "pool controller shut down")
}

// Used returns the number of running pipelines.
func (c *Controller) Used() int { return len(c.running) }

// RunningJobs returns the ids of running jobs in start order.
func (c *Controller) RunningJobs() []string {
	out := make([]string, 0, len(c.running))
	for _, id := range c.order {
		if _, ok := c.running[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// poolCallbacks keeps the bus callback methods off the Controller API.
type poolCallbacks Controller

func (p *poolCallbacks) OnData(_ *rtm.Subscription, msg json.RawMessage) {
	c := (*Controller)(p)
	var d directive
	if err := json.Unmarshal(msg, &d); err != nil {
		c.log("error", "bad pool directive: %v", err)
		return
	}
	switch d.Action {
	case "start_job":
		c.startJob(d.Job)
	case "stop_job":
		c.stopJob(d.Job)
	default:
		c.log("error", "unknown pool action %q", d.Action)
	}
}

func (p *poolCallbacks) OnError(err error) {
	c := (*Controller)(p)
	c.log("error", "pool subscription error: %v", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func (c *Controller) startJob(descriptor json.RawMessage) {
	var id jobID
	if err := json.Unmarshal(descriptor, &id); err != nil || id.ID == "" {
		c.log("error", "start_job without job id: %s", string(descriptor))
		return
	}
	if _, ok := c.running[id.ID]; ok {
		c.log("warning", "job %s is already running, ignoring start_job", id.ID)
		return
	}
	if len(c.running) >= c.cfg.MaxStreamsCapacity {
		c.log("warning", "pool at capacity (%d), ignoring start_job %s", c.cfg.MaxStreamsCapacity, id.ID)
		return
	}

	job := &runningJob{descriptor: descriptor, state: JobStarting}
	pipeline, err := c.cfg.StartJob(id.ID, descriptor, func(err error) {
		c.jobTerminated(id.ID, err)
	})
	if err != nil {
		c.log("error", "failed to start job %s: %v", id.ID, err)
		return
	}
	job.pipeline = pipeline
	job.state = JobRunning
	c.running[id.ID] = job
	for i, existing := range c.order {
		if existing == id.ID {
			// drop the entry left by an earlier run of the same job
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, id.ID)
	c.log("info", "started job %s (%d/%d)", id.ID, len(c.running), c.cfg.MaxStreamsCapacity)
}

func (c *Controller) stopJob(descriptor json.RawMessage) {
	var id jobID
	if err := json.Unmarshal(descriptor, &id); err != nil || id.ID == "" {
		c.log("error", "stop_job without job id: %s", string(descriptor))
		return
	}
	job, ok := c.running[id.ID]
	if !ok {
		c.log("warning", "stop_job for unknown job %s", id.ID)
		return
	}
	job.state = JobStopping
	job.pipeline.Cancel()
	job.state = JobTerminated
	delete(c.running, id.ID)
	c.log("info", "stopped job %s (%d/%d)", id.ID, len(c.running), c.cfg.MaxStreamsCapacity)
}

// jobTerminated handles a pipeline finishing on its own: the job leaves
// the running set without a stop directive.
func (c *Controller) jobTerminated(id string, err error) {
	job, ok := c.running[id]
	if !ok {
		return
	}
	job.state = JobTerminated
	delete(c.running, id)
	if err != nil {
		c.log("error", "job %s terminated: %v", id, err)
	} else {
		c.log("info", "job %s completed", id)
	}
}

func (c *Controller) armHeartbeat() {
	c.hbTimer = c.loop.NewTimer(c.cfg.HeartbeatInterval, func(err error) {
		if err != nil {
			c.log("error", "heartbeat timer failed: %v", err)
			if c.cfg.OnError != nil {
				c.cfg.OnError(err)
			}
			return
		}
		c.onHeartbeat()
	})
}

func (c *Controller) onHeartbeat() {
	if c.shutdown {
		return
	}
	hb := heartbeat{
		JobType: c.cfg.JobType,
		Jobs:    make([]json.RawMessage, 0, len(c.running)),
		Capacity: heartbeatCapacity{
			Used: len(c.running),
			Max:  c.cfg.MaxStreamsCapacity,
		},
	}
	for _, id := range c.order {
		if job, ok := c.running[id]; ok {
			hb.Jobs = append(hb.Jobs, job.descriptor)
		}
	}

	if err := c.bus.Publish(c.cfg.Pool+StatusChannelSuffix, hb); err != nil {
		c.log("error", "heartbeat publish failed: %v", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
		return // do not re-arm
	}
	if c.OnHeartbeat != nil {
		c.OnHeartbeat()
	}
	c.armHeartbeat()
}
