// Package nullsink provides a no-op debug sink implementation.
package nullsink

import (
	"github.com/user/hwencode/pkg/ports"
)

// Sink is a no-op implementation of ports.DebugSink.
// It discards all debug output.
type Sink struct{}

// New creates a new NullSink.
func New() *Sink {
	return &Sink{}
}

// Enabled returns false as this sink discards all output.
func (s *Sink) Enabled() bool {
	return false
}

// SaveCodecConfig does nothing.
func (s *Sink) SaveCodecConfig(data []byte) error {
	return nil
}

// SaveBitstream does nothing.
func (s *Sink) SaveBitstream(index int, data []byte) error {
	return nil
}

// SaveSummaryJSON does nothing.
func (s *Sink) SaveSummaryJSON(data []byte) error {
	return nil
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)
