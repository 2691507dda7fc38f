package video

import (
	"errors"
	"testing"

	"github.com/satorivideo/videobot/internal/streams"
)

// fakeDecoder produces one blank frame per input packet, failing or
// withholding frames on demand.
type fakeDecoder struct {
	width, height int
	format        PixelFormat

	metadataSet  int
	notReadyOn   map[int]bool
	failOn       map[int]bool
	processed    int
	closed       bool
	metadataFail bool
}

func (d *fakeDecoder) SetMetadata(codecName string, codecData []byte) error {
	if d.metadataFail {
		return errors.New("bad codec data")
	}
	d.metadataSet++
	return nil
}

func (d *fakeDecoder) ProcessFrame(data []byte, id FrameID) (*ImageFrame, error) {
	d.processed++
	if d.failOn[d.processed] {
		return nil, errors.New("corrupt frame")
	}
	if d.notReadyOn[d.processed] {
		return nil, NewError(FrameNotReadyError, nil)
	}
	frame := &ImageFrame{
		ID:          id,
		Width:       d.width,
		Height:      d.height,
		PixelFormat: d.format,
	}
	frame.Planes[0] = make([]byte, d.width*d.height*3)
	frame.Strides[0] = uint32(d.width * 3)
	return frame, nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

func fakeFactory(dec *fakeDecoder) DecoderFactory {
	return func(width, height int, format PixelFormat) (Decoder, error) {
		dec.width = width
		dec.height = height
		dec.format = format
		return dec, nil
	}
}

func testPackets() []EncodedPacket {
	return []EncodedPacket{
		&EncodedMetadata{CodecName: "h264", CodecData: []byte{1}},
		&EncodedFrame{Data: []byte{1}, ID: FrameID{0, 9}},
		&EncodedFrame{Data: []byte{2}, ID: FrameID{10, 19}},
		&EncodedFrame{Data: []byte{3}, ID: FrameID{20, 29}},
	}
}

func TestDecodeEmitsFramePerPacket(t *testing.T) {
	dec := &fakeDecoder{}
	frames, err := streams.Collect(Decode(streams.Of(testPackets()...), DecodeConfig{
		Factory:     fakeFactory(dec),
		Width:       320,
		Height:      240,
		PixelFormat: PixelFormatBGR,
	}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(frames))
	}
	if frames[0].ID != (FrameID{0, 9}) || frames[2].ID != (FrameID{20, 29}) {
		t.Errorf("frame ids %v, %v", frames[0].ID, frames[2].ID)
	}
	if frames[0].Width != 320 || frames[0].PixelFormat != PixelFormatBGR {
		t.Errorf("frame geometry %dx%d %v", frames[0].Width, frames[0].Height, frames[0].PixelFormat)
	}
	if dec.metadataSet != 1 {
		t.Errorf("metadata set %d times, want 1", dec.metadataSet)
	}
	if !dec.closed {
		t.Error("decoder not closed after stream completion")
	}
}

func TestDecodeDropsFramesBeforeMetadata(t *testing.T) {
	dec := &fakeDecoder{}
	dropped := 0
	packets := []EncodedPacket{
		&EncodedFrame{Data: []byte{1}, ID: FrameID{0, 9}},
		&EncodedMetadata{CodecName: "h264"},
		&EncodedFrame{Data: []byte{2}, ID: FrameID{10, 19}},
	}
	frames, err := streams.Collect(Decode(streams.Of(packets...), DecodeConfig{
		Factory:        fakeFactory(dec),
		OnFrameDropped: func() { dropped++ },
	}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("decoded %d frames, want 1", len(frames))
	}
	if dropped != 1 {
		t.Errorf("dropped %d frames, want 1", dropped)
	}
}

func TestDecodeSwallowsFrameNotReady(t *testing.T) {
	dec := &fakeDecoder{notReadyOn: map[int]bool{2: true}}
	misses := 0
	frames, err := streams.Collect(Decode(streams.Of(testPackets()...), DecodeConfig{
		Factory:      fakeFactory(dec),
		OnFrameError: func(error) { misses++ },
	}))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("decoded %d frames, want 2", len(frames))
	}
	if misses != 1 {
		t.Errorf("recorded %d misses, want 1", misses)
	}
}

func TestDecodeFailsStreamOnDecoderError(t *testing.T) {
	dec := &fakeDecoder{failOn: map[int]bool{2: true}}
	frames, err := streams.Collect(Decode(streams.Of(testPackets()...), DecodeConfig{
		Factory: fakeFactory(dec),
	}))
	if !IsKind(err, FrameGenerationError) {
		t.Errorf("error = %v, want FrameGenerationError", err)
	}
	if len(frames) != 1 {
		t.Errorf("decoded %d frames before failure, want 1", len(frames))
	}
	if !dec.closed {
		t.Error("decoder not closed after stream error")
	}
}

func TestDecodeFailsStreamOnBadMetadata(t *testing.T) {
	dec := &fakeDecoder{metadataFail: true}
	_, err := streams.Collect(Decode(streams.Of(testPackets()...), DecodeConfig{
		Factory: fakeFactory(dec),
	}))
	if !IsKind(err, StreamInitializationError) {
		t.Errorf("error = %v, want StreamInitializationError", err)
	}
}

func TestFramePoolRecyclesBuffers(t *testing.T) {
	pool := NewFramePool(64)
	b := pool.Get()
	if len(b) != 64 {
		t.Fatalf("buffer size %d, want 64", len(b))
	}
	pool.Put(b)
	pool.Put(make([]byte, 16)) // wrong size is discarded
	b2 := pool.Get()
	if len(b2) != 64 {
		t.Errorf("recycled buffer size %d, want 64", len(b2))
	}
}
