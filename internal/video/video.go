// Package video defines the stream data model — encoded packets, frame
// ids, decoded image frames — and the codec-facing operators and sources
// that video pipelines are assembled from.
//
// The codec, container demuxer and capture device are external
// collaborators consumed through the Decoder, Demuxer and CaptureDevice
// interfaces.
package video

import "fmt"

// MaxPlanes is the maximum number of image planes a frame carries.
const MaxPlanes = 4

// FrameID is the inclusive epoch range over which a frame is
// authoritative. For frames emitted in order by one source,
// next.I1 == prev.I2 + 1 and I1 <= I2 always.
type FrameID struct {
	I1 int64
	I2 int64
}

func (id FrameID) String() string { return fmt.Sprintf("(%d,%d)", id.I1, id.I2) }

// PixelFormat identifies the layout of decoded image data.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatRGB
	PixelFormatBGR
	PixelFormatRGBA
	PixelFormatYUV420P
)

// ImageSize is a width/height pair in pixels.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EncodedPacket is the tagged variant flowing out of stream sources:
// either codec metadata or an encoded frame.
type EncodedPacket interface {
	isEncodedPacket()
}

// EncodedMetadata carries codec initialization data. For h264 this is
// the SPS and PPS. Infrequent data should be expected.
type EncodedMetadata struct {
	CodecName string
	CodecData []byte
	ImageSize *ImageSize
}

func (*EncodedMetadata) isEncodedPacket() {}

// EncodedFrame is one encoded video frame.
type EncodedFrame struct {
	Data []byte
	ID   FrameID

	// TimestampNS is the capture time on the source's monotonic clock,
	// zero when unknown.
	TimestampNS int64
}

func (*EncodedFrame) isEncodedPacket() {}

// ImageMetadata describes the geometry of decoded frames.
type ImageMetadata struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	Strides     [MaxPlanes]uint32
}

// ImageFrame is one decoded frame. Plane data is owned by the frame.
// Decoders may draw the backing buffers from a FramePool to bound
// allocation churn; the built-in raw decoder uses the encoded payload
// as the plane directly.
type ImageFrame struct {
	ID          FrameID
	Planes      [MaxPlanes][]byte
	Strides     [MaxPlanes]uint32
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// Metadata returns the geometry of the frame.
func (f *ImageFrame) Metadata() ImageMetadata {
	return ImageMetadata{
		Width:       f.Width,
		Height:      f.Height,
		PixelFormat: f.PixelFormat,
		Strides:     f.Strides,
	}
}
