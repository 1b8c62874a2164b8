package component

import (
	"errors"
	"fmt"
	"time"

	"github.com/user/hwencode/pkg/devqueue"
	"github.com/user/hwencode/pkg/negotiate"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
	"github.com/user/hwencode/pkg/taskrunner"
	"github.com/user/hwencode/pkg/workqueue"
)

// H.264 encoder limits set at setup.
const (
	h264MaxQP   = 51
	h264BFrames = 0
)

// inputSlot records which work item an input slot currently carries.
type inputSlot struct {
	index uint64
	inUse bool
}

// encoder is the runner-owned half of a Component. Every method runs on the
// runner goroutine.
type encoder struct {
	c      *Component
	cfg    Config
	runner *taskrunner.Runner
	logger ports.Logger

	state EncoderState

	dev              ports.Device
	input            *devqueue.Queue
	output           *devqueue.Queue
	layout           negotiate.InputLayout
	outputBufferSize int
	converter        ports.FormatConverter

	pending  workqueue.Pending
	inFlight workqueue.InFlight

	// Slot maps, indexed by slot id.
	inputSlots  []inputSlot
	outputSlots []*pipeline.Block

	bitrate         uint32
	framerate       uint32
	keyFrameCounter int
	csdSubmitted    bool

	// stopSent is set while an encoder stop command awaits its last buffer.
	stopSent bool

	submittedAt map[uint64]time.Time
}

func newEncoder(c *Component, runner *taskrunner.Runner) *encoder {
	return &encoder{
		c:           c,
		cfg:         c.cfg,
		runner:      runner,
		logger:      c.logger,
		submittedAt: make(map[uint64]time.Time),
	}
}

func (e *encoder) setState(s EncoderState) {
	if e.state == s {
		return
	}
	if !validTransition(e.state, s) {
		e.logger.Warn("Unexpected encoder transition %s -> %s", e.state, s)
	}
	e.logger.Debug("Encoder state %s -> %s", e.state, s)
	e.state = s
	e.c.encState.Store(int32(s))
}

// post schedules fn on the runner. Posting only fails while stopping, when
// the task is no longer needed.
func (e *encoder) post(fn func()) {
	if err := e.runner.Post(fn); err != nil {
		e.logger.Debug("Dropped task: %v", err)
	}
}

// =============================================================================
// Setup
// =============================================================================

// initialize opens the device, negotiates formats, allocates buffers and
// applies the initial controls.
func (e *encoder) initialize() error {
	cfg := e.cfg
	fourcc := cfg.Profile.Fourcc()
	if fourcc == 0 {
		return fmt.Errorf("%w: profile %s has no coded format", ErrBadValue, cfg.Profile)
	}

	dev := e.c.deps.Devices()
	if dev == nil {
		return errors.New("no encode device available")
	}
	if err := dev.Open(ports.DeviceEncoder, fourcc); err != nil {
		return fmt.Errorf("open %s encoder: %w", fourcc, err)
	}
	e.dev = dev

	if !dev.HasCapabilities(ports.CapVideoM2MMPlane | ports.CapStreaming) {
		return errors.New("device lacks multi-planar streaming support")
	}
	if !dev.SupportsCommand(ports.EncoderCommandStop) {
		return errors.New("device does not support the encoder stop command")
	}

	log := e.c.deps.Logger
	e.input = devqueue.New(ports.DirectionInput, dev.Queue(ports.DirectionInput), log)
	e.output = devqueue.New(ports.DirectionOutput, dev.Queue(ports.DirectionOutput), log)
	neg := negotiate.New(dev, e.input, e.output, log)

	size, err := neg.ConfigureOutput(cfg.Profile, cfg.Visible)
	if err != nil {
		return err
	}
	e.outputBufferSize = size

	layout, err := neg.ConfigureInput(cfg.InputFormat, cfg.Visible)
	if err != nil {
		return err
	}
	e.layout = layout

	if layout.NeedsConversion {
		if e.c.deps.Converters == nil {
			return fmt.Errorf("%w: device needs %s input and no converter is available", ErrBadValue, layout.Format)
		}
		conv, err := e.c.deps.Converters(layout.Format, cfg.Visible, layout.CodedSize, cfg.InputBufferCount)
		if err != nil {
			return fmt.Errorf("create %s converter: %w", layout.Format, err)
		}
		e.converter = conv
		e.logger.Debug("Converting %s input to %s", cfg.InputFormat, layout.Format)
	}

	if _, err := e.input.Allocate(cfg.InputBufferCount, ports.MemoryDMABuf); err != nil {
		return err
	}
	if _, err := e.output.Allocate(cfg.OutputBufferCount, ports.MemoryDMABuf); err != nil {
		return err
	}
	e.inputSlots = make([]inputSlot, e.input.AllocatedCount())
	e.outputSlots = make([]*pipeline.Block, e.output.AllocatedCount())

	if err := e.configureDevice(); err != nil {
		return err
	}

	e.setState(EncoderWaitingForInput)
	if !e.pending.Empty() {
		e.setState(EncoderEncoding)
		e.post(e.scheduleNextEncode)
	}
	return nil
}

// configureDevice applies the initial encoder controls. Only the SPS/PPS
// before IDR control is mandatory, and only when the device exposes it.
func (e *encoder) configureDevice() error {
	set := func(ctrls ...ports.ExtControl) error {
		return e.dev.SetExtControls(ports.ControlClassCodec, ctrls)
	}

	if err := set(ports.ExtControl{ID: ports.CtrlFrameRCEnable, Value: 1}); err != nil {
		e.logger.Warn("Failed to enable frame level rate control: %v", err)
	}
	if err := set(
		ports.ExtControl{ID: ports.CtrlMBRCEnable, Value: 1},
		ports.ExtControl{ID: ports.CtrlGOPSize, Value: 0},
	); err != nil {
		e.logger.Debug("Macroblock rate control not available: %v", err)
	}

	if !e.cfg.Profile.IsH264() {
		return nil
	}

	if e.dev.IsControlExposed(ports.CtrlH264SPSPPSBeforeIDR) {
		if err := set(ports.ExtControl{ID: ports.CtrlH264SPSPPSBeforeIDR, Value: 1}); err != nil {
			return fmt.Errorf("prepend SPS/PPS to IDR frames: %w", err)
		}
	} else {
		e.logger.Warn("Device cannot prepend SPS/PPS to IDR frames")
	}

	optional := []ports.ExtControl{
		{ID: ports.CtrlBFrames, Value: h264BFrames},
		{ID: ports.CtrlH264MaxQP, Value: h264MaxQP},
		{ID: ports.CtrlH264Profile, Value: h264ProfileIdc(e.cfg.Profile)},
		{ID: ports.CtrlH264Level, Value: int32(e.cfg.Level)},
		{ID: ports.CtrlHeaderMode, Value: ports.HeaderModeJoinedWith1stFrame},
	}
	for _, ctrl := range optional {
		if err := set(ctrl); err != nil {
			e.logger.Debug("Control %#x not applied: %v", uint32(ctrl.ID), err)
		}
	}
	return nil
}

func h264ProfileIdc(p pipeline.Profile) int32 {
	switch p {
	case pipeline.ProfileH264Main:
		return 77
	case pipeline.ProfileH264High:
		return 100
	default:
		return 66
	}
}

// =============================================================================
// Teardown
// =============================================================================

// stop runs as the final runner task of Stop.
func (e *encoder) stop() {
	e.flush()
	e.teardown()
}

// teardown releases buffers and closes the device. It never reports to the listener.
func (e *encoder) teardown() {
	for _, q := range []*devqueue.Queue{e.input, e.output} {
		if q == nil {
			continue
		}
		if err := q.StreamOff(); err != nil {
			e.logger.Warn("Failed to stop %s queue: %v", q.Direction(), err)
		}
		if err := q.Deallocate(); err != nil {
			e.logger.Warn("Failed to release %s buffers: %v", q.Direction(), err)
		}
	}
	e.releaseOutputBlocks()
	if e.dev != nil {
		if err := e.dev.StopPolling(); err != nil {
			e.logger.Warn("Failed to stop polling: %v", err)
		}
		if err := e.dev.Close(); err != nil {
			e.logger.Warn("Failed to close device: %v", err)
		}
	}
	e.converter = nil
	e.setState(EncoderUninitialized)
}

func (e *encoder) releaseOutputBlocks() {
	for i, b := range e.outputSlots {
		if b != nil {
			e.c.deps.Blocks.Release(b)
			e.outputSlots[i] = nil
		}
	}
}

func (e *encoder) slotCounts() SlotCounts {
	counts := func(q *devqueue.Queue) QueueCounts {
		if q == nil {
			return QueueCounts{}
		}
		return QueueCounts{
			Allocated: q.AllocatedCount(),
			Free:      q.FreeCount(),
			Hardware:  q.QueuedCount(),
			Runner:    q.RunnerCount(),
		}
	}
	return SlotCounts{
		Input:    counts(e.input),
		Output:   counts(e.output),
		Pending:  e.pending.Len(),
		InFlight: e.inFlight.Len(),
	}
}
