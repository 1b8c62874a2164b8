package mocks

import (
	"sync"
	"time"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// Listener is a mock implementation of ports.Listener that records every
// callback and lets tests wait for them.
type Listener struct {
	OnWorkDoneFunc func(items []*pipeline.WorkItem)
	OnErrorFunc    func(status pipeline.Status)

	mu      sync.Mutex
	batches [][]*pipeline.WorkItem
	errors  []pipeline.Status
	changed chan struct{}
}

// NewListener creates a mock listener.
func NewListener() *Listener {
	return &Listener{changed: make(chan struct{}, 1)}
}

func (m *Listener) OnWorkDone(items []*pipeline.WorkItem) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]*pipeline.WorkItem(nil), items...))
	m.mu.Unlock()
	m.notify()
	if m.OnWorkDoneFunc != nil {
		m.OnWorkDoneFunc(items)
	}
}

func (m *Listener) OnError(status pipeline.Status) {
	m.mu.Lock()
	m.errors = append(m.errors, status)
	m.mu.Unlock()
	m.notify()
	if m.OnErrorFunc != nil {
		m.OnErrorFunc(status)
	}
}

func (m *Listener) notify() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Batches returns the reported batches in order.
func (m *Listener) Batches() [][]*pipeline.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*pipeline.WorkItem(nil), m.batches...)
}

// Items returns every reported item in order.
func (m *Listener) Items() []*pipeline.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*pipeline.WorkItem
	for _, b := range m.batches {
		items = append(items, b...)
	}
	return items
}

// Errors returns the reported error statuses.
func (m *Listener) Errors() []pipeline.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.Status(nil), m.errors...)
}

// WaitForItems waits until at least n items have been reported.
func (m *Listener) WaitForItems(n int, timeout time.Duration) bool {
	return m.waitFor(func() bool { return len(m.Items()) >= n }, timeout)
}

// WaitForError waits until an error has been reported.
func (m *Listener) WaitForError(timeout time.Duration) bool {
	return m.waitFor(func() bool { return len(m.Errors()) > 0 }, timeout)
}

func (m *Listener) waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-m.changed:
		case <-deadline.C:
			return cond()
		}
	}
}

var _ ports.Listener = (*Listener)(nil)
