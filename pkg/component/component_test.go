package component

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/hwencode/pkg/adapters/blockpool"
	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/adapters/simdevice"
	"github.com/user/hwencode/pkg/adapters/swconverter"
	"github.com/user/hwencode/pkg/devqueue"
	"github.com/user/hwencode/pkg/metrics"
	"github.com/user/hwencode/pkg/mocks"
	"github.com/user/hwencode/pkg/negotiate"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

const waitTimeout = 2 * time.Second

var testSize = pipeline.Size{Width: 64, Height: 48}

type harness struct {
	comp     *Component
	dev      *simdevice.Device
	devices  []*simdevice.Device
	pool     *blockpool.Pool
	listener *mocks.Listener
	metrics  *metrics.Metrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Visible = testSize
	cfg.Profile = pipeline.ProfileH264Main
	cfg.KeyFramePeriod = 0
	return cfg
}

func manualDevice() simdevice.Config {
	cfg := simdevice.DefaultConfig()
	cfg.Manual = true
	return cfg
}

func newHarness(t *testing.T, cfg Config, devCfg simdevice.Config) *harness {
	t.Helper()
	h := &harness{
		pool:     blockpool.New(0),
		listener: mocks.NewListener(),
		metrics:  metrics.New(),
	}
	comp, err := New(cfg, Deps{
		Devices: simdevice.Factory(devCfg, func(d *simdevice.Device) {
			h.dev = d
			h.devices = append(h.devices, d)
		}),
		Blocks:     h.pool,
		Converters: swconverter.Factory(),
		Logger:     logger.NewNoop(),
		Metrics:    h.metrics,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := comp.SetListener(h.listener); err != nil {
		t.Fatalf("SetListener failed: %v", err)
	}
	h.comp = comp
	t.Cleanup(func() { _ = comp.Release() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.comp.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func frameItem(index uint64) *pipeline.WorkItem {
	return &pipeline.WorkItem{
		Index:     index,
		Timestamp: tsOf(index),
		Input:     pipeline.NewFrame(pipeline.PixelFormatNV12, testSize, int(index)+1000),
	}
}

func eosItem(index uint64) *pipeline.WorkItem {
	return &pipeline.WorkItem{Index: index, Timestamp: tsOf(index), Flags: pipeline.FlagEndOfStream}
}

func tsOf(index uint64) uint64 {
	return (index + 1) * 33333
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// deviceEncode completes frame index on the manual device once both its input
// and an output buffer are queued.
func (h *harness) deviceEncode(t *testing.T, index uint64) {
	t.Helper()
	ts := tsOf(index)
	eventually(t, "queued input", func() bool {
		for _, q := range h.dev.QueuedInputs() {
			if q == ts {
				return true
			}
		}
		return false
	})
	eventually(t, "queued output", func() bool { return h.dev.QueuedOutputs() > 0 })
	if !h.dev.CompleteInput(ts) || !h.dev.ProduceOutput(ts) {
		t.Fatalf("device could not encode frame %d", index)
	}
}

func (h *harness) waitQueuedInputs(t *testing.T, n int) {
	t.Helper()
	eventually(t, "device inputs", func() bool { return len(h.dev.QueuedInputs()) == n })
}

func (h *harness) waitItems(t *testing.T, n int) []*pipeline.WorkItem {
	t.Helper()
	if !h.listener.WaitForItems(n, waitTimeout) {
		t.Fatalf("expected %d items, got %d", n, len(h.listener.Items()))
	}
	return h.listener.Items()
}

func containsCommand(cmds []ports.EncoderCommand, cmd ports.EncoderCommand) bool {
	for _, c := range cmds {
		if c == cmd {
			return true
		}
	}
	return false
}

func checkSlotAccounting(t *testing.T, c SlotCounts) {
	t.Helper()
	for name, q := range map[string]QueueCounts{"input": c.Input, "output": c.Output} {
		if q.Free+q.Hardware+q.Runner != q.Allocated {
			t.Errorf("%s slots: free %d + hardware %d + runner %d != allocated %d",
				name, q.Free, q.Hardware, q.Runner, q.Allocated)
		}
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestComponent_StartStop(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	if h.comp.State() != StateLoaded {
		t.Fatalf("expected loaded, got %s", h.comp.State())
	}

	h.start(t)
	if h.comp.State() != StateRunning {
		t.Errorf("expected running, got %s", h.comp.State())
	}
	if h.comp.EncoderState() != EncoderWaitingForInput {
		t.Errorf("expected waiting-for-input, got %s", h.comp.EncoderState())
	}
	counts := h.comp.SlotCounts()
	if counts.Input.Allocated != 2 || counts.Output.Allocated != 2 {
		t.Errorf("expected 2+2 slots, got %+v", counts)
	}

	if err := h.comp.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.comp.State() != StateLoaded || h.comp.EncoderState() != EncoderUninitialized {
		t.Errorf("unexpected state after stop: %s/%s", h.comp.State(), h.comp.EncoderState())
	}
	if h.dev.IsOpen() {
		t.Error("device should be closed after stop")
	}

	// A stopped component can be started again on a fresh device.
	h.start(t)
	if len(h.devices) != 2 {
		t.Errorf("expected a second device, got %d", len(h.devices))
	}
}

func TestComponent_LifecycleErrors(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())

	if err := h.comp.Queue([]*pipeline.WorkItem{frameItem(0)}); !errors.Is(err, ErrBadState) {
		t.Errorf("Queue before start: expected ErrBadState, got %v", err)
	}
	if err := h.comp.Stop(); !errors.Is(err, ErrBadState) {
		t.Errorf("Stop before start: expected ErrBadState, got %v", err)
	}
	if _, err := h.comp.Flush(ports.FlushComponent); !errors.Is(err, ErrBadState) {
		t.Errorf("Flush before start: expected ErrBadState, got %v", err)
	}

	h.start(t)
	if err := h.comp.Start(); !errors.Is(err, ErrBadState) {
		t.Errorf("second Start: expected ErrBadState, got %v", err)
	}
	if err := h.comp.Drain(ports.DrainChain); !errors.Is(err, ErrOmitted) {
		t.Errorf("chain drain: expected ErrOmitted, got %v", err)
	}
	if _, err := h.comp.Flush(ports.FlushChain); !errors.Is(err, ErrOmitted) {
		t.Errorf("chain flush: expected ErrOmitted, got %v", err)
	}
	if err := h.comp.Announce(); !errors.Is(err, ErrOmitted) {
		t.Errorf("Announce: expected ErrOmitted, got %v", err)
	}

	if err := h.comp.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if h.comp.State() != StateUnloaded {
		t.Errorf("expected unloaded, got %s", h.comp.State())
	}
	if err := h.comp.Start(); !errors.Is(err, ErrBadState) {
		t.Errorf("Start after release: expected ErrBadState, got %v", err)
	}
	if err := h.comp.SetListener(nil); !errors.Is(err, ErrBadState) {
		t.Errorf("SetListener after release: expected ErrBadState, got %v", err)
	}
	if err := h.comp.Reset(); !errors.Is(err, ErrBadState) {
		t.Errorf("Reset after release: expected ErrBadState, got %v", err)
	}
}

func TestComponent_StartFailsWhenInputFormatsRejected(t *testing.T) {
	devCfg := manualDevice()
	devCfg.InputFormats = []pipeline.Fourcc{pipeline.FourccYV12}
	devCfg.Preferred = []pipeline.Fourcc{pipeline.FourccNV12}
	h := newHarness(t, testConfig(), devCfg)

	err := h.comp.Start()
	if !errors.Is(err, ErrStartFailed) || !errors.Is(err, negotiate.ErrInputFormat) {
		t.Fatalf("expected input format failure, got %v", err)
	}
	if h.comp.State() != StateLoaded {
		t.Errorf("expected loaded, got %s", h.comp.State())
	}
	if h.dev.IsOpen() {
		t.Error("device should be closed after a failed start")
	}
	if len(h.listener.Errors()) != 0 {
		t.Errorf("OnError must not be called for start failures, got %v", h.listener.Errors())
	}
}

func TestComponent_RejectedProfileThenRecovers(t *testing.T) {
	calls := 0
	listener := mocks.NewListener()
	comp, err := New(testConfig(), Deps{
		Devices: func() ports.Device {
			calls++
			cfg := manualDevice()
			if calls == 1 {
				cfg.CodedFormats = []pipeline.Fourcc{pipeline.FourccVP8}
			}
			return simdevice.New(cfg)
		},
		Blocks: blockpool.New(0),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = comp.SetListener(listener)
	defer comp.Release()

	if err := comp.Start(); err == nil {
		t.Fatal("expected Start to fail for an unsupported profile")
	}
	if comp.State() != StateLoaded {
		t.Errorf("expected loaded, got %s", comp.State())
	}
	if err := comp.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if len(listener.Errors()) != 0 {
		t.Errorf("OnError must never be called, got %v", listener.Errors())
	}
}

func TestComponent_StartFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*simdevice.Config)
		want   error
	}{
		{
			name:   "under-allocation",
			modify: func(c *simdevice.Config) { c.MaxBuffers = 1 },
			want:   devqueue.ErrUnderAllocated,
		},
		{
			name:   "missing capability",
			modify: func(c *simdevice.Config) { c.Capabilities = ports.CapStreaming },
		},
		{
			name:   "no stop command",
			modify: func(c *simdevice.Config) { c.NoStopCommand = true },
		},
		{
			name: "sps/pps control fails",
			modify: func(c *simdevice.Config) {
				c.FailingControls = []ports.ControlID{ports.CtrlH264SPSPPSBeforeIDR}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devCfg := manualDevice()
			tt.modify(&devCfg)
			h := newHarness(t, testConfig(), devCfg)

			err := h.comp.Start()
			if !errors.Is(err, ErrStartFailed) {
				t.Fatalf("expected ErrStartFailed, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if h.comp.State() != StateLoaded {
				t.Errorf("expected loaded, got %s", h.comp.State())
			}
		})
	}
}

func TestComponent_OptionalControlsTolerated(t *testing.T) {
	devCfg := manualDevice()
	devCfg.HiddenControls = []ports.ControlID{ports.CtrlH264SPSPPSBeforeIDR, ports.CtrlMBRCEnable}
	devCfg.FailingControls = []ports.ControlID{ports.CtrlFrameRCEnable, ports.CtrlH264MaxQP}
	h := newHarness(t, testConfig(), devCfg)
	h.start(t)

	if v, ok := h.dev.Control(ports.CtrlH264Profile); !ok || v != 77 {
		t.Errorf("expected main profile_idc 77, got %d (set %v)", v, ok)
	}
	if v, _ := h.dev.Control(ports.CtrlH264Level); v != int32(pipeline.DefaultH264Level) {
		t.Errorf("expected level %d, got %d", pipeline.DefaultH264Level, v)
	}
	if v, _ := h.dev.Control(ports.CtrlHeaderMode); v != ports.HeaderModeJoinedWith1stFrame {
		t.Errorf("expected joined header mode, got %d", v)
	}
	if _, ok := h.dev.Control(ports.CtrlH264MaxQP); ok {
		t.Error("failing control should not be set")
	}
}

func TestComponent_ConfiguresDevice(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	want := map[ports.ControlID]int32{
		ports.CtrlFrameRCEnable:       1,
		ports.CtrlMBRCEnable:          1,
		ports.CtrlGOPSize:             0,
		ports.CtrlH264SPSPPSBeforeIDR: 1,
		ports.CtrlBFrames:             0,
		ports.CtrlH264MaxQP:           51,
	}
	for id, v := range want {
		if got, ok := h.dev.Control(id); !ok || got != v {
			t.Errorf("control %#x = %d (set %v), want %d", uint32(id), got, ok, v)
		}
	}
}

// =============================================================================
// Encoding
// =============================================================================

func TestComponent_CompletesInQueueOrder(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	if err := h.comp.Queue([]*pipeline.WorkItem{frameItem(0), frameItem(1)}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	h.waitQueuedInputs(t, 2)

	// The device finishes the second frame first.
	h.deviceEncode(t, 1)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.listener.Items()); n != 0 {
		t.Fatalf("item 1 must wait for item 0, got %d reported", n)
	}

	h.deviceEncode(t, 0)
	items := h.waitItems(t, 2)
	for i, item := range items {
		if item.Index != uint64(i) {
			t.Errorf("position %d: got item %d", i, item.Index)
		}
		if item.Result != pipeline.StatusOK {
			t.Errorf("item %d: result %s", item.Index, item.Result)
		}
		if len(item.Output.Buffers) != 1 || len(item.Bitstream()) == 0 {
			t.Errorf("item %d: expected one output buffer", item.Index)
		}
		if item.Input != nil {
			t.Errorf("item %d: input should be released", item.Index)
		}
	}
	if len(items[0].Output.CodecConfig) == 0 {
		t.Error("first item should carry codec config")
	}
	if len(items[1].Output.CodecConfig) != 0 {
		t.Error("codec config must be attached once")
	}
	checkSlotAccounting(t, h.comp.SlotCounts())
}

func TestComponent_BackpressureThreeItemsTwoSlots(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	if err := h.comp.Queue([]*pipeline.WorkItem{frameItem(0), frameItem(1), frameItem(2)}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	h.waitQueuedInputs(t, 2)
	eventually(t, "waiting-for-input-buffers", func() bool {
		return h.comp.EncoderState() == EncoderWaitingForInputBuffers
	})

	counts := h.comp.SlotCounts()
	if counts.Pending != 1 || counts.InFlight != 2 {
		t.Errorf("expected 1 pending / 2 in flight, got %d/%d", counts.Pending, counts.InFlight)
	}
	if counts.Input.Free != 0 || counts.Input.Hardware != 2 {
		t.Errorf("unexpected input slots %+v", counts.Input)
	}
	checkSlotAccounting(t, counts)

	h.deviceEncode(t, 0)
	h.deviceEncode(t, 1)
	h.deviceEncode(t, 2)

	items := h.waitItems(t, 3)
	for i, item := range items {
		if item.Index != uint64(i) || item.Result != pipeline.StatusOK {
			t.Errorf("position %d: item %d result %s", i, item.Index, item.Result)
		}
	}
	eventually(t, "waiting-for-input", func() bool {
		return h.comp.EncoderState() == EncoderWaitingForInput
	})
	checkSlotAccounting(t, h.comp.SlotCounts())
}

func TestComponent_AutomaticDeviceWithConversion(t *testing.T) {
	cfg := testConfig()
	cfg.InputFormat = pipeline.PixelFormatRGBA
	h := newHarness(t, cfg, simdevice.DefaultConfig())
	h.start(t)

	var items []*pipeline.WorkItem
	for i := uint64(0); i < 5; i++ {
		items = append(items, &pipeline.WorkItem{
			Index:     i,
			Timestamp: tsOf(i),
			Input:     pipeline.NewFrame(pipeline.PixelFormatRGBA, testSize, int(i)+1000),
		})
	}
	items = append(items, eosItem(5))
	if err := h.comp.Queue(items); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}

	got := h.waitItems(t, 6)
	for i, item := range got {
		if item.Index != uint64(i) || item.Result != pipeline.StatusOK {
			t.Errorf("position %d: item %d result %s", i, item.Index, item.Result)
		}
	}
	if !got[0].IsKeyFrame() {
		t.Error("first frame should be a key frame")
	}
	if !got[5].DrainDone() {
		t.Error("end-of-stream item should report drain completion")
	}
	if n := h.dev.EncodedFrames(); n != 5 {
		t.Errorf("expected 5 encoded frames, got %d", n)
	}
	snap := h.metrics.Snapshot()
	if snap.FramesEncoded != 5 || snap.ItemsCompleted != 6 || snap.Drains != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestComponent_RejectsFrameOfWrongFormat(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	item := frameItem(0)
	item.Input = pipeline.NewFrame(pipeline.PixelFormatI420, testSize, 1)
	_ = h.comp.Queue([]*pipeline.WorkItem{item})

	if !h.listener.WaitForError(waitTimeout) {
		t.Fatal("expected an error")
	}
	if got := h.listener.Errors()[0]; got != pipeline.StatusBadValue {
		t.Errorf("expected bad value, got %s", got)
	}
}

func TestComponent_CodecConfigRequest(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	// An item without input or end-of-stream completes right away.
	_ = h.comp.Queue([]*pipeline.WorkItem{{Index: 0, Timestamp: 1}})
	items := h.waitItems(t, 1)
	if items[0].Result != pipeline.StatusOK || len(items[0].Output.Buffers) != 0 {
		t.Errorf("unexpected result %s with %d buffers", items[0].Result, len(items[0].Output.Buffers))
	}
	if len(h.dev.QueuedInputs()) != 0 {
		t.Error("nothing should reach the device")
	}
}

func TestComponent_SeparateHeaderBufferIsDropped(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	h.waitQueuedInputs(t, 1)
	eventually(t, "queued output", func() bool { return h.dev.QueuedOutputs() > 0 })
	if !h.dev.ProduceHeader(0) {
		t.Fatal("device could not emit the header")
	}
	h.deviceEncode(t, 0)

	items := h.waitItems(t, 1)
	if items[0].Result != pipeline.StatusOK {
		t.Fatalf("expected ok, got %s", items[0].Result)
	}
	if len(items[0].Output.Buffers) != 1 || items[0].Output.Buffers[0].Timestamp != tsOf(0) {
		t.Errorf("expected the frame buffer only, got %+v", items[0].Output.Buffers)
	}
	if len(items[0].Output.CodecConfig) == 0 {
		t.Error("header should still provide the codec config")
	}
	if n := len(h.listener.Errors()); n != 0 {
		t.Errorf("expected no errors, got %d", n)
	}
}

func TestComponent_OutputWithUnknownTimestampIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	h.waitQueuedInputs(t, 1)
	eventually(t, "queued output", func() bool { return h.dev.QueuedOutputs() > 0 })
	if !h.dev.CompleteInput(tsOf(0)) || !h.dev.ProduceOutput(tsOf(7)) {
		t.Fatal("device could not encode")
	}

	if !h.listener.WaitForError(waitTimeout) {
		t.Fatal("expected OnError")
	}
	if errs := h.listener.Errors(); errs[0] != pipeline.StatusCorrupted {
		t.Errorf("expected corrupted, got %s", errs[0])
	}
	eventually(t, "error state", func() bool { return h.comp.State() == StateError })
}

// =============================================================================
// Key frames and parameters
// =============================================================================

// encodeOne queues a frame, lets the device encode it and returns the result.
func (h *harness) encodeOne(t *testing.T, index uint64) *pipeline.WorkItem {
	t.Helper()
	before := len(h.listener.Items())
	if err := h.comp.Queue([]*pipeline.WorkItem{frameItem(index)}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	h.deviceEncode(t, index)
	items := h.waitItems(t, before+1)
	return items[before]
}

func TestComponent_KeyFramePeriod(t *testing.T) {
	cfg := testConfig()
	cfg.KeyFramePeriod = 3
	h := newHarness(t, cfg, manualDevice())
	h.start(t)

	var keys []bool
	for i := uint64(0); i < 7; i++ {
		keys = append(keys, h.encodeOne(t, i).IsKeyFrame())
	}
	want := []bool{true, false, false, true, false, false, true}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("frame %d: key %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestComponent_RequestKeyFrameAndParameters(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	if !h.encodeOne(t, 0).IsKeyFrame() {
		t.Error("first frame should be a key frame")
	}
	if h.encodeOne(t, 1).IsKeyFrame() {
		t.Error("second frame should not be a key frame")
	}

	h.comp.RequestKeyFrame()
	if err := h.comp.SetBitrate(1_500_000); err != nil {
		t.Fatalf("SetBitrate failed: %v", err)
	}
	if err := h.comp.SetFramerate(60); err != nil {
		t.Fatalf("SetFramerate failed: %v", err)
	}
	if !h.encodeOne(t, 2).IsKeyFrame() {
		t.Error("requested key frame missing")
	}
	if v, _ := h.dev.Control(ports.CtrlBitrate); v != 1_500_000 {
		t.Errorf("expected bitrate 1500000, got %d", v)
	}
	if h.dev.FrameRate() != 60 {
		t.Errorf("expected 60 fps, got %d", h.dev.FrameRate())
	}

	if err := h.comp.SetBitrate(0); !errors.Is(err, ErrBadValue) {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
}

func TestComponent_FramerateFailureIsNotFatal(t *testing.T) {
	devCfg := manualDevice()
	devCfg.FrameRateFails = true
	h := newHarness(t, testConfig(), devCfg)
	h.start(t)

	item := h.encodeOne(t, 0)
	if item.Result != pipeline.StatusOK {
		t.Errorf("expected ok, got %s", item.Result)
	}
	if len(h.listener.Errors()) != 0 {
		t.Errorf("unexpected errors %v", h.listener.Errors())
	}
}

// =============================================================================
// Drain
// =============================================================================

func TestComponent_DrainWithEndOfStreamItem(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0), frameItem(1), eosItem(2)})
	h.waitQueuedInputs(t, 2)
	eventually(t, "stop command", func() bool {
		return containsCommand(h.dev.Commands(), ports.EncoderCommandStop)
	})
	eventually(t, "draining", func() bool { return h.comp.EncoderState() == EncoderDraining })

	h.deviceEncode(t, 0)
	h.deviceEncode(t, 1)
	h.waitItems(t, 2)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.listener.Items()); n != 2 {
		t.Fatalf("end-of-stream item reported before the drain finished (%d items)", n)
	}

	eventually(t, "drain", func() bool { return h.dev.FinishDrain() })
	items := h.waitItems(t, 3)

	eos := 0
	for _, item := range items {
		if item.DrainDone() {
			eos++
		}
	}
	if eos != 1 || !items[2].DrainDone() {
		t.Errorf("expected exactly the last item to carry end-of-stream, got %d", eos)
	}
	eventually(t, "restart", func() bool {
		return containsCommand(h.dev.Commands(), ports.EncoderCommandStart)
	})
	eventually(t, "waiting-for-input", func() bool {
		return h.comp.EncoderState() == EncoderWaitingForInput
	})

	// The encoder accepts a new stream after the drain.
	if !h.encodeOne(t, 3).IsKeyFrame() {
		t.Error("first frame after a drain should be a key frame")
	}
}

func TestComponent_EndOfStreamFrameWaitsForDrain(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	item := frameItem(0)
	item.Flags = pipeline.FlagEndOfStream
	_ = h.comp.Queue([]*pipeline.WorkItem{item})
	h.waitQueuedInputs(t, 1)
	h.deviceEncode(t, 0)

	time.Sleep(20 * time.Millisecond)
	if n := len(h.listener.Items()); n != 0 {
		t.Fatalf("item reported before the drain finished")
	}
	eventually(t, "drain", func() bool { return h.dev.FinishDrain() })

	items := h.waitItems(t, 1)
	if !items[0].DrainDone() || len(items[0].Output.Buffers) != 1 {
		t.Errorf("expected a drained item with one buffer, got %+v", items[0].Output)
	}
}

func TestComponent_ExternalDrain(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	// Nothing to drain.
	if err := h.comp.Drain(ports.DrainComponentWithEOS); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	h.waitQueuedInputs(t, 1)
	if err := h.comp.Drain(ports.DrainComponentWithEOS); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	eventually(t, "stop command", func() bool {
		return containsCommand(h.dev.Commands(), ports.EncoderCommandStop)
	})

	h.deviceEncode(t, 0)
	eventually(t, "drain", func() bool { return h.dev.FinishDrain() })
	items := h.waitItems(t, 1)
	if !items[0].DrainDone() {
		t.Error("drained item should carry end-of-stream")
	}
}

func TestComponent_LoneEndOfStreamItem(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{eosItem(0)})
	items := h.waitItems(t, 1)
	if !items[0].DrainDone() || items[0].Result != pipeline.StatusOK {
		t.Errorf("expected an immediately drained item, got %+v", items[0])
	}
	if containsCommand(h.dev.Commands(), ports.EncoderCommandStop) {
		t.Error("no stop command needed when nothing was submitted")
	}
}

func TestComponent_QueueDuringDrain(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0), eosItem(1)})
	eventually(t, "draining", func() bool { return h.comp.EncoderState() == EncoderDraining })
	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(2)})

	h.deviceEncode(t, 0)
	eventually(t, "drain", func() bool { return h.dev.FinishDrain() })
	h.waitItems(t, 2)

	// Work queued during the drain is picked up after the restart.
	h.deviceEncode(t, 2)
	items := h.waitItems(t, 3)
	if items[2].Index != 2 || items[2].Result != pipeline.StatusOK {
		t.Errorf("unexpected third item %d: %s", items[2].Index, items[2].Result)
	}
}

// =============================================================================
// Flush, stop and errors
// =============================================================================

func TestComponent_FlushReturnsPendingItems(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	// Two items occupy both input slots, three more stay pending.
	var queued []*pipeline.WorkItem
	for i := uint64(0); i < 5; i++ {
		queued = append(queued, frameItem(i))
	}
	_ = h.comp.Queue(queued)
	h.waitQueuedInputs(t, 2)
	eventually(t, "waiting-for-input-buffers", func() bool {
		return h.comp.EncoderState() == EncoderWaitingForInputBuffers
	})

	flushed, err := h.comp.Flush(ports.FlushComponent)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(flushed) != 3 {
		t.Fatalf("expected 3 flushed items, got %d", len(flushed))
	}
	for i, item := range flushed {
		if item.Index != uint64(i+2) || item.Result != pipeline.StatusNotFound || item.Input != nil {
			t.Errorf("flushed %d: item %d result %s", i, item.Index, item.Result)
		}
	}

	// The submitted items are aborted through the listener.
	aborted := h.waitItems(t, 2)
	for _, item := range aborted {
		if item.Result != pipeline.StatusNotFound {
			t.Errorf("item %d: expected not found, got %s", item.Index, item.Result)
		}
	}
	eventually(t, "polling stopped", func() bool { return !h.dev.IsPolling() })
	if h.pool.Outstanding() != 0 {
		t.Errorf("expected every output block released, %d outstanding", h.pool.Outstanding())
	}
	counts := h.comp.SlotCounts()
	if counts.Input.Free != 2 || counts.Output.Free != 2 || counts.Pending != 0 || counts.InFlight != 0 {
		t.Errorf("unexpected counts after flush %+v", counts)
	}

	// Encoding resumes after a flush.
	item := h.encodeOne(t, 10)
	if item.Result != pipeline.StatusOK {
		t.Errorf("expected ok after flush, got %s", item.Result)
	}
}

func TestComponent_FlushWhenIdle(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0), frameItem(1)})
	h.waitQueuedInputs(t, 2)
	eventually(t, "idle", func() bool { return h.comp.SlotCounts().Pending == 0 })
	h.deviceEncode(t, 0)
	h.deviceEncode(t, 1)
	h.waitItems(t, 2)

	flushed, err := h.comp.Flush(ports.FlushComponent)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(flushed) != 0 {
		t.Errorf("expected nothing to flush, got %d", len(flushed))
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(h.listener.Items()); n != 2 {
		t.Errorf("completed items must not be reported again, got %d", n)
	}
}

func TestComponent_StopAbortsInFlightWork(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0), frameItem(1)})
	h.waitQueuedInputs(t, 2)

	if err := h.comp.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	items := h.listener.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 aborted items, got %d", len(items))
	}
	for _, item := range items {
		if item.Result != pipeline.StatusNotFound {
			t.Errorf("item %d: expected not found, got %s", item.Index, item.Result)
		}
	}
	if h.pool.Outstanding() != 0 {
		t.Errorf("expected every output block released, %d outstanding", h.pool.Outstanding())
	}
	if len(h.listener.Errors()) != 0 {
		t.Errorf("stop must not report errors, got %v", h.listener.Errors())
	}
}

func TestComponent_PollErrorIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	h.waitQueuedInputs(t, 1)
	eventually(t, "polling", h.dev.IsPolling)
	h.dev.FailPoll(errors.New("device gone"))

	if !h.listener.WaitForError(waitTimeout) {
		t.Fatal("expected OnError")
	}
	eventually(t, "error state", func() bool { return h.comp.State() == StateError })
	if h.comp.EncoderState() != EncoderError {
		t.Errorf("expected encoder error, got %s", h.comp.EncoderState())
	}
	if err := h.comp.Queue([]*pipeline.WorkItem{frameItem(1)}); !errors.Is(err, ErrBadState) {
		t.Errorf("Queue in error: expected ErrBadState, got %v", err)
	}

	// In-flight work stays until the component is reset.
	if n := len(h.listener.Items()); n != 0 {
		t.Errorf("expected no reported items before reset, got %d", n)
	}
	if err := h.comp.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	items := h.waitItems(t, 1)
	if items[0].Result != pipeline.StatusNotFound {
		t.Errorf("expected aborted item, got %s", items[0].Result)
	}
	if h.comp.State() != StateLoaded {
		t.Errorf("expected loaded after reset, got %s", h.comp.State())
	}
	if n := len(h.listener.Errors()); n != 1 {
		t.Errorf("OnError must be called once, got %d", n)
	}
}

func TestComponent_WorkQueuedBehindPollErrorIsDiscarded(t *testing.T) {
	h := newHarness(t, testConfig(), manualDevice())
	h.start(t)

	_ = h.comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	h.waitQueuedInputs(t, 1)
	eventually(t, "polling", h.dev.IsPolling)

	// Hold the runner so the poll error and the new work line up behind it.
	runner, _, ok := h.comp.running()
	if !ok {
		t.Fatal("component should be running")
	}
	gate := make(chan struct{})
	held := make(chan struct{})
	if err := runner.Post(func() {
		close(held)
		<-gate
	}); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	<-held

	before := runner.Pending()
	h.dev.FailPoll(errors.New("device gone"))
	eventually(t, "error task", func() bool { return runner.Pending() > before })

	late := []*pipeline.WorkItem{frameItem(1), frameItem(2)}
	if err := h.comp.Queue(late); err != nil {
		t.Fatalf("Queue before the error is processed should succeed: %v", err)
	}
	close(gate)

	if !h.listener.WaitForError(waitTimeout) {
		t.Fatal("expected OnError")
	}
	items := h.waitItems(t, 2)
	for i, item := range items {
		if item.Index != uint64(i+1) {
			t.Errorf("item %d: unexpected index %d", i, item.Index)
		}
		if item.Result != pipeline.StatusCorrupted {
			t.Errorf("item %d: expected corrupted, got %s", item.Index, item.Result)
		}
		if item.Input != nil {
			t.Errorf("item %d: input should be cleared", item.Index)
		}
	}
	if got := h.dev.QueuedInputs(); len(got) != 1 || got[0] != tsOf(0) {
		t.Errorf("device should only hold frame 0, holds %v", got)
	}
	if n := len(h.listener.Errors()); n != 1 {
		t.Errorf("OnError must be called once, got %d", n)
	}
}

// unusableConverter hands out frames without planes, which the device
// rejects, and refuses every return.
type unusableConverter struct {
	format   pipeline.PixelFormat
	returned []uint64
}

func (c *unusableConverter) IsReady() bool { return true }

func (c *unusableConverter) Convert(index uint64, frame *pipeline.Frame) (*pipeline.Frame, error) {
	return &pipeline.Frame{Format: c.format, Size: frame.Size}, nil
}

func (c *unusableConverter) Return(index uint64) error {
	c.returned = append(c.returned, index)
	return errors.New("unknown buffer")
}

func TestComponent_EnqueueFailureReturnsConvertedFrame(t *testing.T) {
	var logs bytes.Buffer
	conv := &unusableConverter{}
	listener := mocks.NewListener()

	cfg := testConfig()
	cfg.InputFormat = pipeline.PixelFormatRGBA
	comp, err := New(cfg, Deps{
		Devices: simdevice.Factory(manualDevice(), nil),
		Blocks:  blockpool.New(0),
		Converters: func(format pipeline.PixelFormat, visible, coded pipeline.Size, count int) (ports.FormatConverter, error) {
			conv.format = format
			return conv, nil
		},
		Logger: logger.NewWriter(ports.LevelWarn, &logs, &logs),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = comp.SetListener(listener)
	defer comp.Release()
	if err := comp.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	item := &pipeline.WorkItem{
		Index:     0,
		Timestamp: tsOf(0),
		Input:     pipeline.NewFrame(pipeline.PixelFormatRGBA, testSize, 1000),
	}
	_ = comp.Queue([]*pipeline.WorkItem{item})

	if !listener.WaitForError(waitTimeout) {
		t.Fatal("expected OnError")
	}
	if got := listener.Errors()[0]; got != pipeline.StatusCorrupted {
		t.Errorf("expected corrupted, got %s", got)
	}
	// Stop tears the encoder down; read the log only after the runner is gone.
	if err := comp.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(conv.returned) == 0 || conv.returned[0] != 0 {
		t.Errorf("expected frame 0 returned to the converter, got %v", conv.returned)
	}
	if !strings.Contains(logs.String(), "Failed to return converted frame 0") {
		t.Errorf("expected a warning for the failed return, got %q", logs.String())
	}
}

func TestComponent_OutputBlockExhaustion(t *testing.T) {
	pool := blockpool.New(1)
	listener := mocks.NewListener()
	comp, err := New(testConfig(), Deps{
		Devices: simdevice.Factory(manualDevice(), nil),
		Blocks:  pool,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = comp.SetListener(listener)
	defer comp.Release()
	if err := comp.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_ = comp.Queue([]*pipeline.WorkItem{frameItem(0)})
	if !listener.WaitForError(waitTimeout) {
		t.Fatal("expected OnError")
	}
	if got := listener.Errors()[0]; got != pipeline.StatusNoMemory {
		t.Errorf("expected no memory, got %s", got)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want pipeline.Status
	}{
		{nil, pipeline.StatusOK},
		{ErrBadState, pipeline.StatusBadState},
		{ErrBadValue, pipeline.StatusBadValue},
		{ErrOmitted, pipeline.StatusOmitted},
		{ErrStartFailed, pipeline.StatusCorrupted},
		{errors.New("other"), pipeline.StatusCorrupted},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty size", func(c *Config) { c.Visible = pipeline.Size{} }},
		{"unknown format", func(c *Config) { c.InputFormat = pipeline.PixelFormatUnknown }},
		{"unknown profile", func(c *Config) { c.Profile = pipeline.ProfileUnknown }},
		{"zero bitrate", func(c *Config) { c.Bitrate = 0 }},
		{"zero framerate", func(c *Config) { c.Framerate = 0 }},
		{"no buffers", func(c *Config) { c.InputBufferCount = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrBadValue) {
				t.Errorf("expected ErrBadValue, got %v", err)
			}
		})
	}
}
