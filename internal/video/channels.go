package video

// A video stream is published over a family of bus channels. The main
// channel carries encoded frames; sub-channels use the pattern
// "<channel><suffix>", for example "test-camera/analysis".
const (
	// FramesChannelSuffix: frames ride on the base channel itself.
	FramesChannelSuffix = ""

	// MetadataChannelSuffix: codec-specific metadata. Subscribers
	// request history count 1 so the latest metadata is replayed.
	MetadataChannelSuffix = "/metadata"

	// ControlChannelSuffix: bot control commands and responses.
	ControlChannelSuffix = "/control"

	// AnalysisChannelSuffix: bot analysis output, user-defined format.
	AnalysisChannelSuffix = "/analysis"

	// DebugChannelSuffix: bot debugging output, user-defined format.
	DebugChannelSuffix = "/debug"
)

// MetadataChannel returns the metadata sub-channel for a stream.
func MetadataChannel(channel string) string { return channel + MetadataChannelSuffix }

// ControlChannel returns the control sub-channel for a stream.
func ControlChannel(channel string) string { return channel + ControlChannelSuffix }

// AnalysisChannel returns the analysis sub-channel for a stream.
func AnalysisChannel(channel string) string { return channel + AnalysisChannelSuffix }

// DebugChannel returns the debug sub-channel for a stream.
func DebugChannel(channel string) string { return channel + DebugChannelSuffix }
