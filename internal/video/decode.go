package video

import (
	"github.com/satorivideo/videobot/internal/streams"
)

// DecodeConfig configures the decode operator.
type DecodeConfig struct {
	// Factory creates the decoder on first metadata. Required.
	Factory DecoderFactory

	// Width and Height bound the decoded frame size; zero keeps the
	// source size. Downscale and pixel format conversion happen inside
	// the decoder.
	Width  int
	Height int

	// PixelFormat of the decoded frames.
	PixelFormat PixelFormat

	// OnFrameDropped is called when an encoded frame arrives before any
	// metadata and is discarded (optional).
	OnFrameDropped func()

	// OnFrameError is called for recoverable per-frame decoder misses
	// (optional).
	OnFrameError func(err error)
}

// Decode turns encoded packets into decoded image frames.
//
// EncodedMetadata (re)initializes the decoder; EncodedFrame feeds it and
// yields zero or one ImageFrame. Frames arriving before metadata are
// silently dropped. A decoder that consumed input without producing a
// frame (FrameNotReadyError) is not an error for the stream; any other
// decoder failure terminates it with FrameGenerationError, and a failed
// decoder setup with StreamInitializationError.
func Decode(source streams.Publisher[EncodedPacket], cfg DecodeConfig) streams.Publisher[*ImageFrame] {
	var dec Decoder

	decoded := streams.FlatMap(source, func(pkt EncodedPacket) streams.Publisher[*ImageFrame] {
		switch p := pkt.(type) {
		case *EncodedMetadata:
			if dec == nil {
				d, err := cfg.Factory(cfg.Width, cfg.Height, cfg.PixelFormat)
				if err != nil {
					return streams.Fail[*ImageFrame](NewError(StreamInitializationError, err))
				}
				dec = d
			}
			if err := dec.SetMetadata(p.CodecName, p.CodecData); err != nil {
				return streams.Fail[*ImageFrame](NewError(StreamInitializationError, err))
			}
			return streams.Empty[*ImageFrame]()

		case *EncodedFrame:
			if dec == nil {
				if cfg.OnFrameDropped != nil {
					cfg.OnFrameDropped()
				}
				return streams.Empty[*ImageFrame]()
			}
			frame, err := dec.ProcessFrame(p.Data, p.ID)
			if err != nil {
				if IsKind(err, FrameNotReadyError) {
					if cfg.OnFrameError != nil {
						cfg.OnFrameError(err)
					}
					return streams.Empty[*ImageFrame]()
				}
				return streams.Fail[*ImageFrame](NewError(FrameGenerationError, err))
			}
			if frame == nil {
				return streams.Empty[*ImageFrame]()
			}
			return streams.Of(frame)

		default:
			return streams.Empty[*ImageFrame]()
		}
	})

	return streams.DoFinally(decoded, func() {
		if dec != nil {
			dec.Close()
			dec = nil
		}
	})
}
