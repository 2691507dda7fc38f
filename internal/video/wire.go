package video

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FrameMessage is the wire form of an encoded frame on the frames
// channel.
type FrameMessage struct {
	Data string   `json:"d"`
	ID   [2]int64 `json:"i"`
}

// MetadataMessage is the wire form of codec metadata on the metadata
// sub-channel.
type MetadataMessage struct {
	CodecName string `json:"codecName"`
	CodecData string `json:"codecData"`
}

// ParseFrameMessage decodes a frames-channel message.
func ParseFrameMessage(raw json.RawMessage) (*EncodedFrame, error) {
	var msg FrameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse frame message: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame data: %w", err)
	}
	return &EncodedFrame{
		Data: data,
		ID:   FrameID{I1: msg.ID[0], I2: msg.ID[1]},
	}, nil
}

// ParseMetadataMessage decodes a metadata-channel message.
func ParseMetadataMessage(raw json.RawMessage) (*EncodedMetadata, error) {
	var msg MetadataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse metadata message: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(msg.CodecData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode codec data: %w", err)
	}
	return &EncodedMetadata{CodecName: msg.CodecName, CodecData: data}, nil
}

// NewFrameMessage builds the wire form of an encoded frame.
func NewFrameMessage(f *EncodedFrame) FrameMessage {
	return FrameMessage{
		Data: base64.StdEncoding.EncodeToString(f.Data),
		ID:   [2]int64{f.ID.I1, f.ID.I2},
	}
}

// NewMetadataMessage builds the wire form of codec metadata.
func NewMetadataMessage(m *EncodedMetadata) MetadataMessage {
	return MetadataMessage{
		CodecName: m.CodecName,
		CodecData: base64.StdEncoding.EncodeToString(m.CodecData),
	}
}
