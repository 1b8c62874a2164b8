package mocks

import (
	"sync"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// EncodeComponent is a mock implementation of ports.EncodeComponent.
// Without QueueFunc, queued items complete synchronously with a one-buffer
// output and their Input cleared, and an end-of-stream item completes its drain.
type EncodeComponent struct {
	StartFunc func() error
	StopFunc  func() error
	QueueFunc func(items []*pipeline.WorkItem) error
	DrainFunc func(mode ports.DrainMode) error
	FlushFunc func(mode ports.FlushMode) ([]*pipeline.WorkItem, error)

	// CodecConfig is attached to the first completed item when set.
	CodecConfig []byte

	mu       sync.Mutex
	listener ports.Listener
	csdSent  bool

	// Recorded calls for verification
	StartCalled int
	StopCalled  int
	Queued      []*pipeline.WorkItem
	Drains      []ports.DrainMode
	Flushes     []ports.FlushMode
}

func (m *EncodeComponent) Start() error {
	m.mu.Lock()
	m.StartCalled++
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc()
	}
	return nil
}

func (m *EncodeComponent) Stop() error {
	m.mu.Lock()
	m.StopCalled++
	m.mu.Unlock()
	if m.StopFunc != nil {
		return m.StopFunc()
	}
	return nil
}

func (m *EncodeComponent) Queue(items []*pipeline.WorkItem) error {
	m.mu.Lock()
	m.Queued = append(m.Queued, items...)
	m.mu.Unlock()
	if m.QueueFunc != nil {
		return m.QueueFunc(items)
	}

	for _, item := range items {
		m.complete(item)
	}
	if l := m.Listener(); l != nil {
		l.OnWorkDone(items)
	}
	return nil
}

func (m *EncodeComponent) complete(item *pipeline.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.Result = pipeline.StatusOK
	if !m.csdSent && m.CodecConfig != nil {
		item.Output.CodecConfig = m.CodecConfig
		m.csdSent = true
	}
	if item.HasInput() {
		data := []byte{0, 0, 0, 1, 0x41, byte(item.Index)}
		key := item.Index == 0
		if key {
			data[4] = 0x65
		}
		item.Output.Buffers = []*pipeline.EncodedBuffer{{
			Block:     &pipeline.Block{ID: int(item.Index), Data: data},
			Size:      len(data),
			Timestamp: item.Timestamp,
			KeyFrame:  key,
		}}
	}
	if item.IsEndOfStream() {
		item.Output.Flags |= pipeline.FlagEndOfStream
	}
	// The frame is no longer referenced once the device returned it.
	item.Input = nil
}

func (m *EncodeComponent) Drain(mode ports.DrainMode) error {
	m.mu.Lock()
	m.Drains = append(m.Drains, mode)
	m.mu.Unlock()
	if m.DrainFunc != nil {
		return m.DrainFunc(mode)
	}
	return nil
}

func (m *EncodeComponent) Flush(mode ports.FlushMode) ([]*pipeline.WorkItem, error) {
	m.mu.Lock()
	m.Flushes = append(m.Flushes, mode)
	m.mu.Unlock()
	if m.FlushFunc != nil {
		return m.FlushFunc(mode)
	}
	return nil, nil
}

func (m *EncodeComponent) SetListener(l ports.Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
	return nil
}

// Listener returns the listener set by the code under test.
func (m *EncodeComponent) Listener() ports.Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

var _ ports.EncodeComponent = (*EncodeComponent)(nil)
