// Package summarizer builds human readable reports of encode runs.
package summarizer

import "time"

// Summary contains all data collected during an encode run.
type Summary struct {
	// Metadata
	GeneratedAt time.Time

	// Encoder settings
	Settings Settings

	// Encoding results
	Encoding EncodingInfo

	// Output file details
	Output OutputInfo

	// Component counters at the end of the run
	Counters Counters
}

// Settings contains the encode configuration.
type Settings struct {
	Profile        string
	Width          int
	Height         int
	InputFormat    string
	Bitrate        uint32
	Framerate      uint32
	KeyFramePeriod int
}

// EncodingInfo contains what the encoder produced.
type EncodingInfo struct {
	FrameCount   int
	KeyFrames    int
	EncodedBytes int64
	ElapsedMs    int64
}

// OutputInfo contains information about the written file.
type OutputInfo struct {
	Path       string
	Container  string
	CodecInfo  string
	FileSize   int64
	DurationMs int
}

// Counters are the component counters worth reporting.
type Counters struct {
	ItemsQueued    uint64
	ItemsCompleted uint64
	ItemsAborted   uint64
	Drains         uint64
	Flushes        uint64
	Errors         uint64
}

// AverageFrameBytes returns the mean encoded frame size.
func (e EncodingInfo) AverageFrameBytes() int64 {
	if e.FrameCount == 0 {
		return 0
	}
	return e.EncodedBytes / int64(e.FrameCount)
}

// BitrateBps returns the achieved bitrate over the video duration.
func (s *Summary) BitrateBps() int64 {
	if s.Output.DurationMs <= 0 {
		return 0
	}
	return s.Encoding.EncodedBytes * 8 * 1000 / int64(s.Output.DurationMs)
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithSettings sets encoder settings.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// WithEncoding sets encoding results.
func (b *Builder) WithEncoding(frames, keyFrames int, encodedBytes, elapsedMs int64) *Builder {
	b.summary.Encoding = EncodingInfo{
		FrameCount:   frames,
		KeyFrames:    keyFrames,
		EncodedBytes: encodedBytes,
		ElapsedMs:    elapsedMs,
	}
	return b
}

// WithOutput sets output file information.
func (b *Builder) WithOutput(output OutputInfo) *Builder {
	b.summary.Output = output
	return b
}

// WithCounters sets component counters.
func (b *Builder) WithCounters(counters Counters) *Builder {
	b.summary.Counters = counters
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
