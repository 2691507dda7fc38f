// Package bot owns the user-facing side of the runtime: the bot
// descriptor, the per-pipeline context handed to callbacks, and message
// buffering.
//
// User callbacks must not publish to the bus directly. They call
// Context.Message, which appends to the pipeline-local buffer; the image
// sink flushes the buffer in order after the callback returns. This
// preserves message ordering and keeps publish I/O off the callback's
// critical path.
package bot

import (
	"encoding/json"
	"fmt"

	"github.com/satorivideo/videobot/internal/video"
)

// MessageKind selects the sub-channel a bot message is published to.
type MessageKind int

const (
	MessageAnalysis MessageKind = iota
	MessageDebug
	MessageControl
)

// ChannelSuffix returns the sub-channel suffix for the kind.
func (k MessageKind) ChannelSuffix() string {
	switch k {
	case MessageDebug:
		return video.DebugChannelSuffix
	case MessageControl:
		return video.ControlChannelSuffix
	default:
		return video.AnalysisChannelSuffix
	}
}

func (k MessageKind) String() string {
	switch k {
	case MessageDebug:
		return "debug"
	case MessageControl:
		return "control"
	default:
		return "analysis"
	}
}

// Message is one buffered bot output message.
type Message struct {
	Kind MessageKind
	Body json.RawMessage
	ID   video.FrameID
}

// ImageCallback is invoked synchronously for every decoded frame.
type ImageCallback func(ctx *Context, frame *video.ImageFrame)

// ControlCallback is invoked for every control command. A non-nil
// return value is republished on the control channel as the response.
type ControlCallback func(ctx *Context, command json.RawMessage) json.RawMessage

// Descriptor declares a bot: the pixel format its image callback wants
// and the two callbacks.
type Descriptor struct {
	PixelFormat video.PixelFormat
	OnImage     ImageCallback
	OnControl   ControlCallback
}

// Context is the handle passed to user callbacks. Its lifetime is the
// pipeline's. Because pipelines run on the single reactor goroutine the
// pending-message buffer needs no synchronization.
type Context struct {
	// InstanceData is free for the bot implementation.
	InstanceData any

	// FrameMetadata describes the frame currently being processed.
	FrameMetadata *video.ImageMetadata

	pending []Message
}

// Message buffers a bot output message for publication after the
// current callback returns. body is marshalled to JSON immediately.
func (c *Context) Message(kind MessageKind, body any, id ...video.FrameID) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal bot message: %w", err)
	}
	msg := Message{Kind: kind, Body: raw}
	if len(id) > 0 {
		msg.ID = id[0]
	}
	c.pending = append(c.pending, msg)
	return nil
}

// drain returns and clears the pending buffer.
func (c *Context) drain() []Message {
	msgs := c.pending
	c.pending = nil
	return msgs
}
