package video

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/satorivideo/videobot/internal/reactor"
	"github.com/satorivideo/videobot/internal/streams"
)

// CameraSource publishes live packets from a capture device. The device
// is polled on the reactor loop at the configured frame rate; emissions
// past pending demand are dropped, keeping the stream live rather than
// complete. Dropped counts the discarded frames.
type CameraSource struct {
	pub  *streams.AsyncPublisher[EncodedPacket]
	loop *reactor.Loop
	dev  CaptureDevice
	fps  int

	limiter   *rate.Limiter
	timer     *reactor.Timer
	sentMeta  bool
	nextEpoch int64
	stopped   bool
}

// NewCameraSource creates a camera source polling dev at fps.
func NewCameraSource(loop *reactor.Loop, dev CaptureDevice, fps int) *CameraSource {
	if fps <= 0 {
		fps = 25
	}
	c := &CameraSource{
		loop:    loop,
		dev:     dev,
		fps:     fps,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
	c.pub = streams.Async(func(obs streams.Observer[EncodedPacket]) {
		c.start(obs)
	})
	return c
}

// Publisher returns the packet stream. Single use.
func (c *CameraSource) Publisher() streams.Publisher[EncodedPacket] { return c.pub }

// Dropped returns the number of frames discarded for lack of demand.
func (c *CameraSource) Dropped() uint64 { return c.pub.Dropped() }

// Stop cancels polling and closes the device.
func (c *CameraSource) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Cancel()
	}
	c.dev.Close()
}

func (c *CameraSource) start(obs streams.Observer[EncodedPacket]) {
	c.arm(obs)
}

func (c *CameraSource) arm(obs streams.Observer[EncodedPacket]) {
	interval := time.Second / time.Duration(c.fps)
	c.timer = c.loop.NewTimer(interval, func(err error) {
		if err != nil || c.stopped {
			return
		}
		c.tick(obs)
		if !c.stopped {
			c.arm(obs)
		}
	})
}

func (c *CameraSource) tick(obs streams.Observer[EncodedPacket]) {
	if !c.sentMeta {
		meta, err := c.dev.Metadata()
		if err != nil {
			c.stopped = true
			obs.OnError(NewError(StreamInitializationError, err))
			return
		}
		c.sentMeta = true
		obs.OnNext(meta)
	}

	if !c.limiter.Allow() {
		return
	}

	pkt, err := c.dev.ReadFrame()
	if err != nil {
		c.stopped = true
		c.dev.Close()
		obs.OnError(NewError(FrameGenerationError, err))
		return
	}
	if pkt == nil {
		// device has no frame yet
		return
	}

	span := pkt.TimeSpan
	if span <= 0 {
		span = 1
	}
	frame := &EncodedFrame{
		Data:        pkt.Data,
		ID:          FrameID{I1: c.nextEpoch, I2: c.nextEpoch + span - 1},
		TimestampNS: pkt.TimestampNS,
	}
	c.nextEpoch += span
	obs.OnNext(frame)
}
