// Package devpoll runs a background goroutine that waits for device readiness
// and wakes its owner. It never touches buffers itself.
package devpoll

import (
	"errors"
	"sync"
)

// ErrRunning is returned by Start when the poller is already running.
var ErrRunning = errors.New("devpoll: already polling")

// Source blocks until the device may have completed buffers.
// It returns nil on readiness, and must return promptly once stop is closed.
type Source interface {
	Wait(stop <-chan struct{}) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(stop <-chan struct{}) error

// Wait implements Source.
func (f SourceFunc) Wait(stop <-chan struct{}) error {
	return f(stop)
}

// Poller calls onEvent every time its source reports readiness and onError
// once if the source fails. After an error the poller exits.
type Poller struct {
	source Source

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a poller for source.
func New(source Source) *Poller {
	return &Poller{source: source}
}

// Start spawns the polling goroutine.
func (p *Poller) Start(onEvent func(), onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrRunning
	}
	p.running = true
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.loop(p.stop, onEvent, onError)
	return nil
}

// Stop signals the goroutine and waits for it to exit. Safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(stop <-chan struct{}, onEvent func(), onError func(error)) {
	defer p.wg.Done()

	for {
		err := p.source.Wait(stop)

		select {
		case <-stop:
			return
		default:
		}

		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onEvent != nil {
			onEvent()
		}
	}
}
