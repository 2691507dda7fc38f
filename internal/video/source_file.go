package video

import (
	"errors"
	"io"

	"github.com/satorivideo/videobot/internal/streams"
)

// FileSource reads a container file and publishes its packets: one
// metadata item first, then the encoded frames. Frame ids are assigned
// from the packet time spans so that consecutive ids form contiguous
// epoch ranges. End of file completes the stream; with replay enabled
// the file is reopened and ids keep growing across iterations.
func FileSource(open DemuxerOpener, path string, replay bool) streams.Publisher[EncodedPacket] {
	type state struct {
		dmx       Demuxer
		openErr   error
		sentMeta  bool
		nextEpoch int64
	}

	create := func() *state {
		s := &state{}
		s.dmx, s.openErr = open(path)
		return s
	}

	gen := func(s *state, demand int, sink streams.Observer[EncodedPacket]) {
		if s.openErr != nil {
			sink.OnError(NewError(StreamInitializationError, s.openErr))
			return
		}

		for i := 0; i < demand; i++ {
			if !s.sentMeta {
				meta, err := s.dmx.Metadata()
				if err != nil {
					sink.OnError(NewError(StreamInitializationError, err))
					return
				}
				s.sentMeta = true
				sink.OnNext(meta)
				continue
			}

			pkt, err := s.dmx.ReadPacket()
			if err != nil {
				if errors.Is(err, io.EOF) {
					if replay {
						s.dmx.Close()
						s.dmx, s.openErr = open(path)
						if s.openErr != nil {
							sink.OnError(NewError(StreamInitializationError, s.openErr))
							return
						}
						s.sentMeta = false
						continue
					}
					s.dmx.Close()
					sink.OnComplete()
					return
				}
				s.dmx.Close()
				sink.OnError(NewError(EndOfStreamError, err))
				return
			}

			frame := &EncodedFrame{
				Data:        pkt.Data,
				ID:          FrameID{I1: s.nextEpoch, I2: s.nextEpoch + pkt.TimeSpan - 1},
				TimestampNS: pkt.TimestampNS,
			}
			s.nextEpoch += pkt.TimeSpan
			sink.OnNext(frame)
		}
	}

	return streams.Generate(create, gen)
}
