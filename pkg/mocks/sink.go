package mocks

import (
	"sync"

	"github.com/user/hwencode/pkg/ports"
)

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	CodecConfig []byte
	Bitstreams  map[int][]byte
	SummaryJSON []byte
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled:    enabled,
		Bitstreams: make(map[int][]byte),
	}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveCodecConfig(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CodecConfig = data
	return nil
}

func (m *DebugSink) SaveBitstream(index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Bitstreams[index] = data
	return nil
}

func (m *DebugSink) SaveSummaryJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummaryJSON = data
	return nil
}

// BitstreamCount returns the number of saved bitstreams.
func (m *DebugSink) BitstreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Bitstreams)
}

var _ ports.DebugSink = (*DebugSink)(nil)
