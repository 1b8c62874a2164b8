// Package simdevice provides an in-memory memory-to-memory encode device.
//
// In automatic mode every queued input buffer is encoded as soon as an output
// buffer is available. In manual mode nothing completes until the test calls
// CompleteInput, ProduceOutput or FinishDrain, which allows any completion
// order to be reproduced.
package simdevice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/user/hwencode/pkg/devpoll"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// ErrNotOpen is returned when using a device before Open.
var ErrNotOpen = errors.New("simdevice: device not open")

// Config describes the simulated hardware.
type Config struct {
	// CodedFormats lists the output formats the device can produce.
	CodedFormats []pipeline.Fourcc
	// InputFormats lists the raw formats the input queue accepts.
	InputFormats []pipeline.Fourcc
	// Preferred is returned by PreferredInputFormats.
	Preferred []pipeline.Fourcc

	Capabilities  ports.Capability
	NoStopCommand bool

	// Alignment rounds the coded size up. MaxCodedSize caps it.
	Alignment    int
	MaxCodedSize pipeline.Size

	// MaxBuffers caps every RequestBuffers call when non-zero.
	MaxBuffers int
	// MinOutputBufferSize raises the requested output buffer size.
	MinOutputBufferSize int

	// NoSelection makes SetSelection unavailable so callers fall back to crop.
	NoSelection bool
	// CropFails makes the crop fallback fail too.
	CropFails bool
	// VisibleAlignment rounds the applied visible rectangle down.
	VisibleAlignment int

	// HiddenControls are not exposed. FailingControls are exposed but fail to set.
	HiddenControls  []ports.ControlID
	FailingControls []ports.ControlID
	FrameRateFails  bool

	Manual bool
}

// DefaultConfig returns a capable H.264/VP8 encoder with NV12 and I420 input.
func DefaultConfig() Config {
	return Config{
		CodedFormats: []pipeline.Fourcc{pipeline.FourccH264, pipeline.FourccVP8},
		InputFormats: []pipeline.Fourcc{pipeline.FourccNV12, pipeline.FourccI420},
		Preferred:    []pipeline.Fourcc{pipeline.FourccNV12, pipeline.FourccI420},
		Capabilities: ports.CapVideoM2MMPlane | ports.CapStreaming,
		Alignment:    16,
		MaxCodedSize: pipeline.Size{Width: 4096, Height: 2304},
	}
}

// Device is a simulated encoder. It is safe for concurrent use.
type Device struct {
	cfg Config

	mu        sync.Mutex
	open      bool
	coded     pipeline.Fourcc
	input     *queue
	output    *queue
	controls  map[ports.ControlID]int32
	visible   pipeline.Rect
	framerate uint32
	commands  []ports.EncoderCommand

	frameNum int
	forceKey bool
	draining bool
	stopped  bool
	encoded  int
	lastKeys []bool

	poller  *devpoll.Poller
	notify  chan struct{}
	pollErr chan error
}

// New creates a closed device.
func New(cfg Config) *Device {
	d := &Device{
		cfg:      cfg,
		controls: make(map[ports.ControlID]int32),
		notify:   make(chan struct{}, 1),
		pollErr:  make(chan error, 1),
	}
	d.input = &queue{dev: d, dir: ports.DirectionInput}
	d.output = &queue{dev: d, dir: ports.DirectionOutput}
	d.poller = devpoll.New(devpoll.SourceFunc(d.wait))
	return d
}

// Factory returns a ports.DeviceFactory creating devices with cfg.
// Every created device is also passed to created, if non-nil.
func Factory(cfg Config, created func(*Device)) ports.DeviceFactory {
	return func() ports.Device {
		d := New(cfg)
		if created != nil {
			created(d)
		}
		return d
	}
}

// =============================================================================
// ports.Device
// =============================================================================

func (d *Device) Open(kind ports.DeviceKind, fourcc pipeline.Fourcc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if kind != ports.DeviceEncoder {
		return fmt.Errorf("simdevice: only encoders are simulated")
	}
	if !containsFourcc(d.cfg.CodedFormats, fourcc) {
		return fmt.Errorf("%w: no encoder for %s", ErrInvalidFormat, fourcc)
	}
	d.open = true
	d.coded = fourcc
	return nil
}

func (d *Device) HasCapabilities(caps ports.Capability) bool {
	return d.cfg.Capabilities&caps == caps
}

func (d *Device) SupportsCommand(cmd ports.EncoderCommand) bool {
	return !(cmd == ports.EncoderCommandStop && d.cfg.NoStopCommand)
}

func (d *Device) IsControlExposed(id ports.ControlID) bool {
	return !containsControl(d.cfg.HiddenControls, id)
}

func (d *Device) SetExtControls(class ports.ControlClass, ctrls []ports.ExtControl) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	// Controls are applied atomically: one bad control rejects the batch.
	for _, c := range ctrls {
		if containsControl(d.cfg.HiddenControls, c.ID) || containsControl(d.cfg.FailingControls, c.ID) {
			return fmt.Errorf("simdevice: control %#x rejected", uint32(c.ID))
		}
	}
	for _, c := range ctrls {
		if c.ID == ports.CtrlForceKeyFrame {
			d.forceKey = true
			continue
		}
		d.controls[c.ID] = c.Value
	}
	return nil
}

func (d *Device) SetSelection(rect pipeline.Rect) (pipeline.Rect, error) {
	if d.cfg.NoSelection {
		return pipeline.Rect{}, ports.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible = d.alignVisible(rect)
	return d.visible, nil
}

func (d *Device) SetCrop(rect pipeline.Rect) error {
	if d.cfg.CropFails {
		return errors.New("simdevice: crop failed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible = d.alignVisible(rect)
	return nil
}

func (d *Device) GetCrop() (pipeline.Rect, error) {
	if d.cfg.CropFails {
		return pipeline.Rect{}, errors.New("simdevice: crop failed")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible, nil
}

func (d *Device) SetFrameRate(fps uint32) error {
	if d.cfg.FrameRateFails {
		return ports.ErrNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.framerate = fps
	return nil
}

func (d *Device) EncoderCommand(cmd ports.EncoderCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	if !d.SupportsCommand(cmd) {
		return ports.ErrNotSupported
	}
	d.commands = append(d.commands, cmd)
	switch cmd {
	case ports.EncoderCommandStop:
		d.draining = true
	case ports.EncoderCommandStart:
		d.draining = false
		d.stopped = false
	}
	d.process()
	return nil
}

func (d *Device) PreferredInputFormats() []pipeline.Fourcc {
	return append([]pipeline.Fourcc(nil), d.cfg.Preferred...)
}

func (d *Device) Queue(dir ports.Direction) ports.DeviceQueue {
	if dir == ports.DirectionInput {
		return d.input
	}
	return d.output
}

func (d *Device) StartPolling(onEvent func(), onError func(error)) error {
	return d.poller.Start(onEvent, onError)
}

func (d *Device) StopPolling() error {
	d.poller.Stop()
	return nil
}

func (d *Device) Close() error {
	d.poller.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// =============================================================================
// Manual completion
// =============================================================================

// CompleteInput returns the queued input buffer with timestamp ts.
func (d *Device) CompleteInput(ts uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.input.popQueued(&ts)
	if !ok {
		return false
	}
	d.input.complete(buf, 0)
	d.signal()
	return true
}

// ProduceOutput writes the encoded frame for timestamp ts into the oldest queued output buffer.
func (d *Device) ProduceOutput(ts uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, ok := d.output.popQueued(nil)
	if !ok {
		return false
	}
	d.fillOutput(out, ts, uint32(ts))
	d.signal()
	return true
}

// ProduceHeader writes the parameter sets alone into the oldest queued output
// buffer, stamped with ts. It only applies to H.264.
func (d *Device) ProduceHeader(ts uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.coded != pipeline.FourccH264 {
		return false
	}
	out, ok := d.output.popQueued(nil)
	if !ok {
		return false
	}
	n := copy(out.Planes[0].Block.Data, d.parameterSets())
	out.Planes[0].DataOffset = 0
	out.Planes[0].BytesUsed = n
	out.Timestamp = ts
	d.output.complete(out, 0)
	d.signal()
	return true
}

// Encode completes both halves for timestamp ts.
func (d *Device) Encode(ts uint64) bool {
	return d.CompleteInput(ts) && d.ProduceOutput(ts)
}

// FinishDrain emits the last buffer of a pending stop command.
func (d *Device) FinishDrain() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.draining {
		return false
	}
	if !d.emitLast() {
		return false
	}
	d.signal()
	return true
}

// FailPoll makes the poller report err.
func (d *Device) FailPoll(err error) {
	select {
	case d.pollErr <- err:
	default:
	}
}

// =============================================================================
// Introspection
// =============================================================================

// QueuedInputs returns the timestamps of input buffers held by the device.
func (d *Device) QueuedInputs() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := make([]uint64, 0, len(d.input.queued))
	for _, b := range d.input.queued {
		ts = append(ts, b.Timestamp)
	}
	return ts
}

// QueuedOutputs returns the number of output buffers held by the device.
func (d *Device) QueuedOutputs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.output.queued)
}

// Commands returns the encoder commands received so far.
func (d *Device) Commands() []ports.EncoderCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.EncoderCommand(nil), d.commands...)
}

// Control returns the value of a control and whether it was set.
func (d *Device) Control(id ports.ControlID) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.controls[id]
	return v, ok
}

// Visible returns the applied visible rectangle.
func (d *Device) Visible() pipeline.Rect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

// FrameRate returns the last frame rate set.
func (d *Device) FrameRate() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framerate
}

// EncodedFrames returns the number of frames produced so far.
func (d *Device) EncodedFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.encoded
}

// KeyFrames returns, per produced frame, whether it was a key frame.
func (d *Device) KeyFrames() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.lastKeys...)
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// IsPolling reports whether the poller runs.
func (d *Device) IsPolling() bool {
	return d.poller.IsRunning()
}

// =============================================================================
// Internals (d.mu held)
// =============================================================================

func (d *Device) wait(stop <-chan struct{}) error {
	select {
	case <-d.notify:
		return nil
	case err := <-d.pollErr:
		return err
	case <-stop:
		return nil
	}
}

func (d *Device) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Device) inputFormat(fourcc pipeline.Fourcc, size pipeline.Size) (ports.DeviceFormat, error) {
	if !containsFourcc(d.cfg.InputFormats, fourcc) {
		return ports.DeviceFormat{}, fmt.Errorf("%w: input %s", ErrInvalidFormat, fourcc)
	}
	coded := d.codedSize(size)
	pf := pipeline.PixelFormatFromFourcc(fourcc)
	return ports.DeviceFormat{
		Fourcc:     fourcc,
		CodedSize:  coded,
		Planes:     pf.Layout(coded),
		BufferSize: pf.AllocationSize(coded),
	}, nil
}

func (d *Device) outputFormat(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (ports.DeviceFormat, error) {
	if !d.open || fourcc != d.coded {
		return ports.DeviceFormat{}, fmt.Errorf("%w: output %s", ErrInvalidFormat, fourcc)
	}
	if bufferSize < d.cfg.MinOutputBufferSize {
		bufferSize = d.cfg.MinOutputBufferSize
	}
	return ports.DeviceFormat{
		Fourcc:     fourcc,
		CodedSize:  d.codedSize(size),
		BufferSize: bufferSize,
	}, nil
}

func (d *Device) codedSize(size pipeline.Size) pipeline.Size {
	a := d.cfg.Alignment
	if a <= 1 {
		a = 1
	}
	coded := pipeline.Size{
		Width:  (size.Width + a - 1) / a * a,
		Height: (size.Height + a - 1) / a * a,
	}
	if m := d.cfg.MaxCodedSize; !m.IsEmpty() {
		coded.Width = min(coded.Width, m.Width)
		coded.Height = min(coded.Height, m.Height)
	}
	return coded
}

func (d *Device) alignVisible(r pipeline.Rect) pipeline.Rect {
	if a := d.cfg.VisibleAlignment; a > 1 {
		r.Width = r.Width / a * a
		r.Height = r.Height / a * a
	}
	return r
}

// process runs the automatic encode loop.
func (d *Device) process() {
	if d.cfg.Manual || !d.input.streaming || !d.output.streaming || d.stopped {
		return
	}
	changed := false
	for len(d.input.queued) > 0 && len(d.output.queued) > 0 {
		in, _ := d.input.popQueued(nil)
		out, _ := d.output.popQueued(nil)
		d.input.complete(in, 0)
		d.fillOutput(out, in.Timestamp, checksum(in))
		changed = true
	}
	if d.draining && len(d.input.queued) == 0 {
		if d.emitLast() {
			changed = true
		}
	}
	if changed {
		d.signal()
	}
}

func (d *Device) fillOutput(out ports.DeviceBuffer, ts uint64, seed uint32) {
	key := d.frameNum == 0 || d.forceKey
	if gop := d.controls[ports.CtrlGOPSize]; gop > 0 && d.frameNum%int(gop) == 0 {
		key = true
	}
	d.forceKey = false

	data := d.frameBytes(key, seed)
	block := out.Planes[0].Block
	n := copy(block.Data, data)
	out.Planes[0].DataOffset = 0
	out.Planes[0].BytesUsed = n
	out.Timestamp = ts

	var flags ports.BufferFlags
	if key {
		flags |= ports.BufferFlagKeyFrame
	}
	d.output.complete(out, flags)
	d.frameNum++
	d.encoded++
	d.lastKeys = append(d.lastKeys, key)
}

func (d *Device) emitLast() bool {
	out, ok := d.output.popQueued(nil)
	if !ok {
		return false
	}
	out.Planes[0].DataOffset = 0
	out.Planes[0].BytesUsed = 0
	out.Timestamp = 0
	d.output.complete(out, ports.BufferFlagLast)
	d.draining = false
	d.stopped = true
	return true
}

func (d *Device) resetStream() {
	if d.input.streaming || d.output.streaming {
		return
	}
	d.draining = false
	d.stopped = false
	d.frameNum = 0
}

func (d *Device) frameBytes(key bool, seed uint32) []byte {
	payload := d.payloadSize(key)
	if d.coded != pipeline.FourccH264 {
		return opaqueFrame(key, seed, payload)
	}

	var out []byte
	if key && (d.frameNum == 0 || d.controls[ports.CtrlH264SPSPPSBeforeIDR] != 0) {
		out = d.parameterSets()
	}
	return append(out, writeSlice(key, d.frameNum, seed, payload)...)
}

func (d *Device) parameterSets() []byte {
	profile := int(d.controls[ports.CtrlH264Profile])
	if profile == 0 {
		profile = profileIdcBaseline
	}
	level := int(d.controls[ports.CtrlH264Level])
	if level == 0 {
		level = int(pipeline.DefaultH264Level)
	}
	visible := d.visible.Size()
	coded := d.input.format.CodedSize
	if visible.IsEmpty() {
		visible = coded
	}
	out := writeSPS(profile, level, coded, visible)
	return append(out, writePPS()...)
}

func (d *Device) payloadSize(key bool) int {
	bitrate := int(d.controls[ports.CtrlBitrate])
	if bitrate <= 0 {
		bitrate = 1_000_000
	}
	fps := int(d.framerate)
	if fps <= 0 {
		fps = 30
	}
	n := bitrate / 8 / fps
	if key {
		n *= 3
	}
	return max(16, min(n, 256*1024))
}

func checksum(buf ports.DeviceBuffer) uint32 {
	var sum uint32 = 2166136261
	for _, p := range buf.Planes {
		data := p.Block.Data[p.DataOffset:p.BytesUsed]
		// Sample to keep large frames cheap.
		for i := 0; i < len(data); i += 61 {
			sum = (sum ^ uint32(data[i])) * 16777619
		}
	}
	return sum
}

func containsFourcc(list []pipeline.Fourcc, f pipeline.Fourcc) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}

func containsControl(list []ports.ControlID, id ports.ControlID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

var _ ports.Device = (*Device)(nil)
var _ ports.DeviceQueue = (*queue)(nil)
