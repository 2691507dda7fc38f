package video

import "sync"

// Decoder is the codec contract. Implementations wrap a real codec
// library; tests use deterministic fakes.
//
// SetMetadata (re)initializes the codec context and may be called more
// than once when metadata is re-sent mid-stream. ProcessFrame feeds one
// encoded frame and returns the decoded image, already converted and
// downscaled to the size and pixel format the decoder was created with.
// A nil frame with a FrameNotReadyError means the input was consumed
// without producing output; the caller treats this as recoverable.
type Decoder interface {
	SetMetadata(codecName string, codecData []byte) error
	ProcessFrame(data []byte, id FrameID) (*ImageFrame, error)
	Close() error
}

// DecoderFactory creates a decoder producing frames of at most the
// given size in the given pixel format. Zero width/height means keep
// the source size.
type DecoderFactory func(width, height int, format PixelFormat) (Decoder, error)

// DemuxedPacket is one encoded packet read from a container or capture
// device. TimeSpan is the packet duration in stream timebase units and
// becomes the width of the frame's epoch range.
type DemuxedPacket struct {
	Data        []byte
	TimeSpan    int64
	TimestampNS int64
}

// Demuxer reads a container stream: codec metadata up front, then
// encoded packets until io.EOF.
type Demuxer interface {
	Metadata() (*EncodedMetadata, error)
	ReadPacket() (*DemuxedPacket, error)
	Close() error
}

// DemuxerOpener opens a container by path.
type DemuxerOpener func(path string) (Demuxer, error)

// CaptureDevice is a live source of encoded packets. ReadFrame must not
// block; it returns (nil, nil) when no frame is available yet.
type CaptureDevice interface {
	Metadata() (*EncodedMetadata, error)
	ReadFrame() (*DemuxedPacket, error)
	Close() error
}

// FramePool recycles plane buffers between decoded frames of one
// pipeline.
type FramePool struct {
	pool sync.Pool
	size int
}

// NewFramePool creates a pool of byte buffers of the given size.
func NewFramePool(size int) *FramePool {
	return &FramePool{
		size: size,
		pool: sync.Pool{New: func() any {
			b := make([]byte, size)
			return &b
		}},
	}
}

// Get returns a buffer of the pool's size.
func (p *FramePool) Get() []byte { return *(p.pool.Get().(*[]byte)) }

// Put returns a buffer to the pool. Buffers of a different size are
// discarded.
func (p *FramePool) Put(b []byte) {
	if cap(b) != p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
