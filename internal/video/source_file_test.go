package video

import (
	"errors"
	"io"
	"testing"

	"github.com/satorivideo/videobot/internal/streams"
)

// fakeDemuxer replays a fixed set of packet time spans, mirroring the
// six video packets of the reference test container.
type fakeDemuxer struct {
	spans []int64
	idx   int
	meta  *EncodedMetadata

	closed  bool
	metaErr error
}

var testSpans = []int64{49, 28927, 3943, 5403, 6488, 2773}

func newFakeDemuxer() *fakeDemuxer {
	return &fakeDemuxer{
		spans: testSpans,
		meta:  &EncodedMetadata{CodecName: "h264", CodecData: []byte{0x01, 0x02}},
	}
}

func (d *fakeDemuxer) Metadata() (*EncodedMetadata, error) {
	if d.metaErr != nil {
		return nil, d.metaErr
	}
	return d.meta, nil
}

func (d *fakeDemuxer) ReadPacket() (*DemuxedPacket, error) {
	if d.idx >= len(d.spans) {
		return nil, io.EOF
	}
	span := d.spans[d.idx]
	d.idx++
	return &DemuxedPacket{Data: []byte{byte(d.idx)}, TimeSpan: span}, nil
}

func (d *fakeDemuxer) Close() error {
	d.closed = true
	return nil
}

func openFake(d *fakeDemuxer) DemuxerOpener {
	return func(string) (Demuxer, error) { return d, nil }
}

func TestFileSourceFrameIDs(t *testing.T) {
	src := FileSource(openFake(newFakeDemuxer()), "test.mp4", false)

	var ids []FrameID
	packets, err := streams.Collect(src)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, pkt := range packets {
		if f, ok := pkt.(*EncodedFrame); ok {
			ids = append(ids, f.ID)
		}
	}

	want := []FrameID{
		{0, 48},
		{49, 28975},
		{28976, 32918},
		{32919, 38321},
		{38322, 44809},
		{44810, 47582},
	}
	if len(ids) != len(want) {
		t.Fatalf("got %d frames, want %d", len(ids), len(want))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("ids[%d] = %v, want %v", i, ids[i], id)
		}
	}
}

func TestFileSourceFrameIDSuccession(t *testing.T) {
	packets, err := streams.Collect(FileSource(openFake(newFakeDemuxer()), "test.mp4", false))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var prev *FrameID
	for _, pkt := range packets {
		f, ok := pkt.(*EncodedFrame)
		if !ok {
			continue
		}
		if f.ID.I1 > f.ID.I2 {
			t.Errorf("frame id %v has I1 > I2", f.ID)
		}
		if prev != nil && f.ID.I1 != prev.I2+1 {
			t.Errorf("id %v does not succeed %v", f.ID, *prev)
		}
		id := f.ID
		prev = &id
	}
}

func TestFileSourceEmitsMetadataFirst(t *testing.T) {
	packets, err := streams.Collect(FileSource(openFake(newFakeDemuxer()), "test.mp4", false))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(packets) != 7 {
		t.Fatalf("got %d packets, want 7", len(packets))
	}
	meta, ok := packets[0].(*EncodedMetadata)
	if !ok {
		t.Fatal("first packet is not metadata")
	}
	if meta.CodecName != "h264" {
		t.Errorf("codec = %q, want h264", meta.CodecName)
	}
}

func TestFileSourceClosesDemuxerOnEOF(t *testing.T) {
	dmx := newFakeDemuxer()
	if _, err := streams.Collect(FileSource(openFake(dmx), "test.mp4", false)); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !dmx.closed {
		t.Error("demuxer not closed after end of stream")
	}
}

func TestFileSourceOpenFailure(t *testing.T) {
	boom := errors.New("no such file")
	src := FileSource(func(string) (Demuxer, error) { return nil, boom }, "missing.mp4", false)

	_, err := streams.Collect(src)
	if !IsKind(err, StreamInitializationError) {
		t.Errorf("error = %v, want StreamInitializationError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause %v not preserved", err)
	}
}

func TestRepeatMetadataForLateSubscribers(t *testing.T) {
	isMetadata := func(p EncodedPacket) bool {
		_, ok := p.(*EncodedMetadata)
		return ok
	}
	src := streams.RepeatIf(FileSource(openFake(newFakeDemuxer()), "test.mp4", false), 0, isMetadata)

	metadataCount := 0
	packets, err := streams.Collect(src)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, pkt := range packets {
		if isMetadata(pkt) {
			metadataCount++
		}
	}
	// the original plus one re-injection before each of the six frames
	if metadataCount != 7 {
		t.Errorf("observed %d metadata packets, want 7", metadataCount)
	}
}
