package ports

// DebugSink abstracts debug output for intermediate results.
// It allows saving raw encoder output for inspection.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveCodecConfig saves the codec-specific data (Annex B SPS/PPS).
	SaveCodecConfig(data []byte) error

	// SaveBitstream saves the encoded payload of one work item.
	SaveBitstream(index int, data []byte) error

	// SaveSummaryJSON saves the run summary as JSON.
	SaveSummaryJSON(data []byte) error
}
