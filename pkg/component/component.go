// Package component coordinates a memory-to-memory hardware encoder.
//
// A Component accepts work items from a client, hands their frames to the
// device input queue, collects compressed output from the device output queue
// and reports finished items back through a ports.Listener in submission order.
//
// Every piece of encoder state is owned by a single runner goroutine. Client
// calls post tasks to it; the device poller only wakes it up.
package component

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
	"github.com/user/hwencode/pkg/taskrunner"
)

// Component is an encode component. It implements ports.EncodeComponent.
type Component struct {
	id     string
	cfg    Config
	deps   Deps
	logger ports.Logger

	// lifecycle serializes Start, Stop, Reset and Release.
	lifecycle sync.Mutex

	// mu guards state and the runner handle. It is never held while waiting
	// for the runner, so runner tasks may take it to report errors.
	mu     sync.Mutex
	state  State
	runner *taskrunner.Runner
	enc    *encoder

	listenerMu sync.RWMutex
	listener   ports.Listener

	// encState mirrors encoder.state for readers outside the runner.
	encState atomic.Int32

	params params
}

// params are runtime parameter requests, applied before the next encode.
type params struct {
	mu              sync.Mutex
	bitrate         uint32
	framerate       uint32
	keyFrameRequest bool
}

// New creates a loaded component.
func New(cfg Config, deps Deps) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Devices == nil || deps.Blocks == nil {
		return nil, fmt.Errorf("%w: device factory and block pool are required", ErrBadValue)
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	if cfg.Level == 0 {
		cfg.Level = pipeline.DefaultH264Level
	}

	id := uuid.NewString()
	c := &Component{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.WithComponent("encoder/" + id[:8]),
		state:  StateLoaded,
	}
	c.params.bitrate = cfg.Bitrate
	c.params.framerate = cfg.Framerate
	return c, nil
}

// ID returns the instance id.
func (c *Component) ID() string {
	return c.id
}

// Config returns the configuration the component was created with.
func (c *Component) Config() Config {
	return c.cfg
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start opens and configures the device. On failure the component stays
// loaded, the device is closed and the listener is not notified.
func (c *Component) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() != StateLoaded {
		return fmt.Errorf("%w: start in state %s", ErrBadState, c.State())
	}

	c.logger.Debug("Starting encoder: %s %s from %s", c.cfg.Profile, c.cfg.Visible, c.cfg.InputFormat)
	runner := taskrunner.New()
	if err := runner.Start(); err != nil {
		return err
	}
	enc := newEncoder(c, runner)

	var initErr error
	if err := runner.PostAndWait(func() { initErr = enc.initialize() }); err != nil {
		initErr = err
	}
	if initErr != nil {
		runner.Stop(enc.teardown)
		c.logger.Debug("Encoder setup failed: %v", initErr)
		return fmt.Errorf("%w: %w", ErrStartFailed, initErr)
	}

	c.mu.Lock()
	c.runner = runner
	c.enc = enc
	c.state = StateRunning
	c.mu.Unlock()
	return nil
}

// Stop aborts all outstanding work, releases the device and joins the runner.
func (c *Component) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Component) stopLocked() error {
	c.mu.Lock()
	state, runner, enc := c.state, c.runner, c.enc
	c.mu.Unlock()

	if state != StateRunning && state != StateError {
		return fmt.Errorf("%w: stop in state %s", ErrBadState, state)
	}

	c.logger.Debug("Stopping encoder")
	if runner != nil {
		runner.Stop(enc.stop)
	}

	c.mu.Lock()
	c.runner = nil
	c.enc = nil
	c.state = StateLoaded
	c.mu.Unlock()
	return nil
}

// Reset stops the component if it is running. Outstanding work is aborted.
func (c *Component) Reset() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.resetLocked()
}

func (c *Component) resetLocked() error {
	switch c.State() {
	case StateUnloaded:
		return fmt.Errorf("%w: reset after release", ErrBadState)
	case StateRunning, StateError:
		return c.stopLocked()
	}
	return nil
}

// Release resets the component and unloads it. It cannot be started again.
func (c *Component) Release() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if err := c.resetLocked(); err != nil {
		return err
	}
	c.setState(StateUnloaded)
	return nil
}

// State returns the lifecycle state.
func (c *Component) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EncoderState returns the encode loop state.
func (c *Component) EncoderState() EncoderState {
	return EncoderState(c.encState.Load())
}

func (c *Component) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// running returns the runner and encoder if the component is running.
func (c *Component) running() (*taskrunner.Runner, *encoder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || c.runner == nil {
		return nil, nil, false
	}
	return c.runner, c.enc, true
}

// =============================================================================
// Work
// =============================================================================

// Queue submits work items. Items are reported back through OnWorkDone.
func (c *Component) Queue(items []*pipeline.WorkItem) error {
	for _, item := range items {
		if item == nil {
			return fmt.Errorf("%w: nil work item", ErrBadValue)
		}
	}

	runner, enc, ok := c.running()
	if !ok {
		return fmt.Errorf("%w: queue in state %s", ErrBadState, c.State())
	}
	for _, item := range items {
		item := item
		if err := runner.Post(func() { enc.queueTask(item) }); err != nil {
			return fmt.Errorf("%w: %w", ErrBadState, err)
		}
		c.deps.Metrics.ItemQueued()
	}
	return nil
}

// Drain asks the encoder to finish every queued item. The last item is
// reported with FlagEndOfStream set on its output.
func (c *Component) Drain(mode ports.DrainMode) error {
	if mode == ports.DrainChain {
		return fmt.Errorf("%w: chain drain", ErrOmitted)
	}
	runner, enc, ok := c.running()
	if !ok {
		return fmt.Errorf("%w: drain in state %s", ErrBadState, c.State())
	}
	if err := runner.Post(func() { enc.drainTask(mode) }); err != nil {
		return fmt.Errorf("%w: %w", ErrBadState, err)
	}
	return nil
}

// Flush returns the items not yet submitted to the device, with result
// NotFound. Items already submitted are aborted asynchronously and reported
// through OnWorkDone.
func (c *Component) Flush(mode ports.FlushMode) ([]*pipeline.WorkItem, error) {
	if mode == ports.FlushChain {
		return nil, fmt.Errorf("%w: chain flush", ErrOmitted)
	}
	runner, enc, ok := c.running()
	if !ok {
		return nil, fmt.Errorf("%w: flush in state %s", ErrBadState, c.State())
	}

	var flushed []*pipeline.WorkItem
	if err := runner.PostAndWait(func() { flushed = enc.flushTask() }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadState, err)
	}
	c.deps.Metrics.Flushed()
	c.deps.Metrics.ItemsReturned(len(flushed))
	return flushed, nil
}

// Announce is not supported.
func (c *Component) Announce() error {
	return fmt.Errorf("%w: tunneling", ErrOmitted)
}

// =============================================================================
// Listener
// =============================================================================

// SetListener replaces the result listener. A nil listener drops results.
func (c *Component) SetListener(l ports.Listener) error {
	if c.State() == StateUnloaded {
		return fmt.Errorf("%w: set listener after release", ErrBadState)
	}
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
	return nil
}

func (c *Component) currentListener() ports.Listener {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener
}

func (c *Component) notifyWorkDone(items []*pipeline.WorkItem) {
	if len(items) == 0 {
		return
	}
	if l := c.currentListener(); l != nil {
		l.OnWorkDone(items)
	}
}

func (c *Component) notifyError(status pipeline.Status) {
	if l := c.currentListener(); l != nil {
		l.OnError(status)
	}
}

// =============================================================================
// Runtime parameters
// =============================================================================

// SetBitrate changes the target bitrate from the next frame on.
func (c *Component) SetBitrate(bps uint32) error {
	if bps == 0 {
		return fmt.Errorf("%w: bitrate must be positive", ErrBadValue)
	}
	c.params.mu.Lock()
	c.params.bitrate = bps
	c.params.mu.Unlock()
	return nil
}

// SetFramerate changes the expected frame rate from the next frame on.
func (c *Component) SetFramerate(fps uint32) error {
	if fps == 0 {
		return fmt.Errorf("%w: framerate must be positive", ErrBadValue)
	}
	c.params.mu.Lock()
	c.params.framerate = fps
	c.params.mu.Unlock()
	return nil
}

// RequestKeyFrame makes the next encoded frame a key frame and restarts the
// key frame period from it.
func (c *Component) RequestKeyFrame() {
	c.params.mu.Lock()
	c.params.keyFrameRequest = true
	c.params.mu.Unlock()
}

func (c *Component) takeParams() (bitrate, framerate uint32, keyFrame bool) {
	c.params.mu.Lock()
	defer c.params.mu.Unlock()
	keyFrame = c.params.keyFrameRequest
	c.params.keyFrameRequest = false
	return c.params.bitrate, c.params.framerate, keyFrame
}

// =============================================================================
// Introspection
// =============================================================================

// QueueCounts is the slot accounting of one device queue.
type QueueCounts struct {
	Allocated int
	Free      int
	Hardware  int
	Runner    int
}

// SlotCounts is a snapshot of both device queues and the work queues.
type SlotCounts struct {
	Input    QueueCounts
	Output   QueueCounts
	Pending  int
	InFlight int
}

// SlotCounts returns the current slot accounting. The zero value is returned
// when the component is not running.
func (c *Component) SlotCounts() SlotCounts {
	c.mu.Lock()
	runner, enc := c.runner, c.enc
	c.mu.Unlock()
	if runner == nil {
		return SlotCounts{}
	}

	var counts SlotCounts
	if err := runner.PostAndWait(func() { counts = enc.slotCounts() }); err != nil {
		if !errors.Is(err, taskrunner.ErrStopped) {
			c.logger.Warn("Failed to read slot counts: %v", err)
		}
		return SlotCounts{}
	}
	return counts
}

var _ ports.EncodeComponent = (*Component)(nil)
