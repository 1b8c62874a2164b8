package mocks

import (
	"sync"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// DeviceQueue is a mock implementation of ports.DeviceQueue.
// Queued buffers stay queued until the test calls Complete.
type DeviceQueue struct {
	mu sync.Mutex

	SetFormatFunc      func(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (ports.DeviceFormat, error)
	RequestBuffersFunc func(count int, memory ports.MemoryKind) (int, error)
	QueueBufferFunc    func(buf ports.DeviceBuffer) error
	DequeueErr         error
	StreamOnErr        error
	StreamOffErr       error

	// Recorded state for verification
	Queued         []ports.DeviceBuffer
	Done           []ports.DequeuedBuffer
	RequestCalls   []int
	Streaming      bool
	StreamOnCalls  int
	StreamOffCalls int
}

// NewDeviceQueue creates a mock queue that grants every request.
func NewDeviceQueue() *DeviceQueue {
	return &DeviceQueue{}
}

func (m *DeviceQueue) SetFormat(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (ports.DeviceFormat, error) {
	if m.SetFormatFunc != nil {
		return m.SetFormatFunc(fourcc, size, bufferSize)
	}
	f := ports.DeviceFormat{Fourcc: fourcc, CodedSize: size, BufferSize: bufferSize}
	if pf := pipeline.PixelFormatFromFourcc(fourcc); pf != pipeline.PixelFormatUnknown {
		f.Planes = pf.Layout(size)
	}
	return f, nil
}

func (m *DeviceQueue) RequestBuffers(count int, memory ports.MemoryKind) (int, error) {
	m.mu.Lock()
	m.RequestCalls = append(m.RequestCalls, count)
	m.mu.Unlock()
	if m.RequestBuffersFunc != nil {
		return m.RequestBuffersFunc(count, memory)
	}
	return count, nil
}

func (m *DeviceQueue) QueueBuffer(buf ports.DeviceBuffer) error {
	if m.QueueBufferFunc != nil {
		if err := m.QueueBufferFunc(buf); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queued = append(m.Queued, buf)
	return nil
}

func (m *DeviceQueue) DequeueBuffer() (ports.DequeuedBuffer, bool, error) {
	if m.DequeueErr != nil {
		return ports.DequeuedBuffer{}, false, m.DequeueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Done) == 0 {
		return ports.DequeuedBuffer{}, false, nil
	}
	buf := m.Done[0]
	m.Done = m.Done[1:]
	return buf, true, nil
}

func (m *DeviceQueue) StreamOn() error {
	if m.StreamOnErr != nil {
		return m.StreamOnErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Streaming = true
	m.StreamOnCalls++
	return nil
}

func (m *DeviceQueue) StreamOff() error {
	if m.StreamOffErr != nil {
		return m.StreamOffErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Streaming = false
	m.StreamOffCalls++
	m.Queued = nil
	m.Done = nil
	return nil
}

// Complete moves the queued buffer with the given index to the done list.
// Returns false if no such buffer is queued.
func (m *DeviceQueue) Complete(index int, flags ports.BufferFlags, bytesUsed int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.Queued {
		if b.Index != index {
			continue
		}
		m.Queued = append(m.Queued[:i], m.Queued[i+1:]...)
		planes := append([]ports.PlaneData(nil), b.Planes...)
		if len(planes) > 0 && bytesUsed >= 0 {
			planes[0].BytesUsed = bytesUsed
		}
		m.Done = append(m.Done, ports.DequeuedBuffer{
			Index:     b.Index,
			Timestamp: b.Timestamp,
			Flags:     flags,
			Planes:    planes,
		})
		return true
	}
	return false
}

// Inject adds a completion the queue never saw queued.
func (m *DeviceQueue) Inject(buf ports.DequeuedBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Done = append(m.Done, buf)
}

var _ ports.DeviceQueue = (*DeviceQueue)(nil)
