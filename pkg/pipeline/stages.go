package pipeline

// =============================================================================
// Source Stage Types
// =============================================================================

// SourceInput contains input for the source stage.
type SourceInput struct {
	Size       Size
	Format     PixelFormat
	FrameCount int
	Framerate  uint32
}

// SourceFrame is one generated raw frame with its presentation time.
type SourceFrame struct {
	Frame       *Frame
	TimestampUs uint64
}

// SourceResult contains the output of the source stage.
type SourceResult struct {
	Frames []SourceFrame
}

// =============================================================================
// Encode Stage Types
// =============================================================================

// EncodeInput contains input for the encode stage.
type EncodeInput struct {
	Frames []SourceFrame
	// RequestCodecConfig queues an empty item ahead of the frames.
	RequestCodecConfig bool
}

// EncodedFrame is the copied-out result of one finished work item.
type EncodedFrame struct {
	Index       uint64
	TimestampUs uint64
	KeyFrame    bool
	Data        []byte
}

// EncodeResult contains the output of the encode stage.
type EncodeResult struct {
	// CodecConfig is the Annex B SPS/PPS reported by the encoder, if any.
	CodecConfig []byte
	Frames      []EncodedFrame
	KeyFrames   int
	TotalBytes  int64
}

// =============================================================================
// Mux Stage Types
// =============================================================================

// MuxInput contains input for the mux stage.
type MuxInput struct {
	Profile     Profile
	Visible     Size
	Framerate   uint32
	CodecConfig []byte
	Frames      []EncodedFrame
}

// MuxResult contains the output of the mux stage.
type MuxResult struct {
	Data []byte
	// Container is "mp4" or "raw".
	Container  string
	DurationMs int
	// CodecInfo describes the stream's SPS when one was found.
	CodecInfo string
}
