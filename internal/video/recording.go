package video

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// OpenRecording opens a recorded stream file: one JSON document per
// line, the first a metadata message, the rest frame messages in wire
// form. Packet time spans are recovered from the recorded epoch ranges,
// so replaying a recording through FileSource reproduces the width of
// each frame's range; FileSource numbers the ranges from epoch 0, so
// the ids match the original only when it also started at 0 without
// gaps.
func OpenRecording(path string) (Demuxer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)

	if !scanner.Scan() {
		f.Close()
		return nil, fmt.Errorf("recording %s is empty", path)
	}
	meta, err := ParseMetadataMessage(json.RawMessage(scanner.Bytes()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recording %s: %w", path, err)
	}

	return &recordingDemuxer{f: f, scanner: scanner, meta: meta}, nil
}

type recordingDemuxer struct {
	f       *os.File
	scanner *bufio.Scanner
	meta    *EncodedMetadata
}

func (d *recordingDemuxer) Metadata() (*EncodedMetadata, error) { return d.meta, nil }

func (d *recordingDemuxer) ReadPacket() (*DemuxedPacket, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	frame, err := ParseFrameMessage(json.RawMessage(d.scanner.Bytes()))
	if err != nil {
		return nil, err
	}
	return &DemuxedPacket{
		Data:     frame.Data,
		TimeSpan: frame.ID.I2 - frame.ID.I1 + 1,
	}, nil
}

func (d *recordingDemuxer) Close() error { return d.f.Close() }
