package video

import (
	"encoding/json"
	"fmt"
)

// RawDecoderFactory creates a decoder for the built-in "raw" codec:
// frames carry uncompressed single-plane pixel data, and the codec
// metadata is a JSON document naming the frame geometry. It exists so
// the runtime can be exercised end to end without linking a codec
// library; real deployments plug a codec-backed DecoderFactory instead.
//
// The raw decoder does not scale or convert: width and height are
// ignored, frames keep the size announced in the metadata, and frame
// data must already be laid out in the requested pixel format.
func RawDecoderFactory(width, height int, format PixelFormat) (Decoder, error) {
	return &rawDecoder{maxWidth: width, maxHeight: height, format: format}, nil
}

// rawMetadata is the codecData payload of the raw codec.
type rawMetadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type rawDecoder struct {
	maxWidth  int
	maxHeight int
	format    PixelFormat

	width  int
	height int
	ready  bool
}

func (d *rawDecoder) SetMetadata(codecName string, codecData []byte) error {
	if codecName != "raw" {
		return fmt.Errorf("raw decoder cannot handle codec %q", codecName)
	}
	var meta rawMetadata
	if err := json.Unmarshal(codecData, &meta); err != nil {
		return fmt.Errorf("failed to parse raw codec metadata: %w", err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return fmt.Errorf("raw codec metadata has invalid size %dx%d", meta.Width, meta.Height)
	}
	d.width = meta.Width
	d.height = meta.Height
	d.ready = true
	return nil
}

func (d *rawDecoder) ProcessFrame(data []byte, id FrameID) (*ImageFrame, error) {
	if !d.ready {
		return nil, NewError(FrameNotReadyError, nil)
	}
	expected := d.width * d.height * bytesPerPixel(d.format)
	if len(data) != expected {
		return nil, fmt.Errorf("raw frame is %d bytes, want %d for %dx%d", len(data), expected, d.width, d.height)
	}
	frame := &ImageFrame{
		ID:          id,
		Width:       d.width,
		Height:      d.height,
		PixelFormat: d.format,
	}
	frame.Planes[0] = data
	frame.Strides[0] = uint32(d.width * bytesPerPixel(d.format))
	return frame, nil
}

func (d *rawDecoder) Close() error { return nil }

func bytesPerPixel(format PixelFormat) int {
	switch format {
	case PixelFormatRGBA:
		return 4
	default:
		return 3
	}
}

// NewRawMetadata builds the metadata packet announcing raw frames of
// the given geometry.
func NewRawMetadata(width, height int) (*EncodedMetadata, error) {
	data, err := json.Marshal(rawMetadata{Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	return &EncodedMetadata{
		CodecName: "raw",
		CodecData: data,
		ImageSize: &ImageSize{Width: width, Height: height},
	}, nil
}
