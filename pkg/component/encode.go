package component

import (
	"errors"
	"fmt"
	"time"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// =============================================================================
// Client tasks
// =============================================================================

func (e *encoder) queueTask(item *pipeline.WorkItem) {
	if e.state == EncoderError {
		item.Input = nil
		item.Result = pipeline.StatusCorrupted
		e.c.deps.Metrics.ItemsReturned(1)
		e.c.notifyWorkDone([]*pipeline.WorkItem{item})
		return
	}

	e.pending.Push(item)
	e.updateDepth()
	if e.state == EncoderWaitingForInput {
		e.setState(EncoderEncoding)
		e.post(e.scheduleNextEncode)
	}
}

func (e *encoder) drainTask(mode ports.DrainMode) {
	if e.state == EncoderError {
		return
	}
	e.logger.Debug("Drain requested (mode %d)", mode)

	// Work still waiting for the device: the drain starts once it is submitted.
	if back := e.pending.Back(); back != nil {
		back.Flags |= pipeline.FlagEndOfStream
		return
	}
	if e.state == EncoderDraining {
		return
	}
	if e.inFlight.Empty() {
		e.logger.Debug("Nothing to drain")
		return
	}
	e.startDrain()
}

// flushTask returns the items not yet submitted and schedules the abort of
// everything else.
func (e *encoder) flushTask() []*pipeline.WorkItem {
	flushed := e.pending.DrainAll()
	for _, item := range flushed {
		item.Input = nil
		item.Result = pipeline.StatusNotFound
	}
	e.updateDepth()
	e.post(e.flush)
	return flushed
}

// =============================================================================
// Encode loop
// =============================================================================

// scheduleNextEncode submits the oldest pending item and reschedules itself
// until the pending queue is empty, input slots run out or a drain starts.
func (e *encoder) scheduleNextEncode() {
	if e.state != EncoderEncoding {
		return
	}
	item := e.pending.Front()
	if item == nil {
		e.setState(EncoderWaitingForInput)
		return
	}

	item.Output = pipeline.WorkOutput{}
	if item.HasInput() {
		if e.input.FreeCount() == 0 {
			e.setState(EncoderWaitingForInputBuffers)
			return
		}
		if !e.encode(item) {
			return
		}
	}

	e.pending.Pop()
	e.inFlight.Push(item)
	e.updateDepth()

	if item.IsEndOfStream() {
		e.startDrain()
	} else if !item.HasInput() {
		// An empty item only asks for codec config; it completes in order.
		e.completeWork()
	}

	if e.state != EncoderEncoding {
		return
	}
	if e.pending.Empty() {
		e.setState(EncoderWaitingForInput)
		return
	}
	e.post(e.scheduleNextEncode)
}

// encode hands one frame to the device. It reports an error and returns
// false on failure.
func (e *encoder) encode(item *pipeline.WorkItem) bool {
	frame := item.Input
	if frame.Format != e.cfg.InputFormat {
		e.fail(pipeline.StatusBadValue, "frame %d is %s, configured for %s", item.Index, frame.Format, e.cfg.InputFormat)
		return false
	}

	e.updateParameters()
	if e.cfg.KeyFramePeriod > 0 {
		e.keyFrameCounter = (e.keyFrameCounter + 1) % e.cfg.KeyFramePeriod
	} else {
		e.keyFrameCounter = 1
	}

	if e.converter != nil {
		if !e.converter.IsReady() {
			e.fail(pipeline.StatusCorrupted, "converter has no free buffer")
			return false
		}
		converted, err := e.converter.Convert(item.Index, frame)
		if err != nil {
			e.fail(pipeline.StatusCorrupted, "convert frame %d: %v", item.Index, err)
			return false
		}
		frame = converted
	}

	if err := e.enqueueInput(frame, item.Index, item.Timestamp); err != nil {
		if e.converter != nil {
			if rerr := e.converter.Return(item.Index); rerr != nil {
				e.logger.Warn("Failed to return converted frame %d: %v", item.Index, rerr)
			}
		}
		e.fail(pipeline.StatusCorrupted, "enqueue frame %d: %v", item.Index, err)
		return false
	}

	if !e.input.IsStreaming() {
		if err := e.startStreaming(); err != nil {
			e.fail(pipeline.StatusCorrupted, "start streaming: %v", err)
			return false
		}
	}

	for e.output.FreeCount() > 0 {
		if !e.enqueueOutput() {
			return false
		}
	}
	return true
}

// updateParameters applies runtime parameter changes. Failures are not fatal.
func (e *encoder) updateParameters() {
	bitrate, framerate, keyFrame := e.c.takeParams()

	if bitrate != e.bitrate {
		if err := e.dev.SetExtControls(ports.ControlClassCodec, []ports.ExtControl{
			{ID: ports.CtrlBitrate, Value: int32(bitrate)},
		}); err != nil {
			e.logger.Warn("Failed to set bitrate to %d: %v", bitrate, err)
		}
		e.bitrate = bitrate
	}

	if framerate != e.framerate {
		if err := e.dev.SetFrameRate(framerate); err != nil {
			e.logger.Warn("Failed to set framerate to %d: %v", framerate, err)
		}
		e.framerate = framerate
	}

	if keyFrame {
		e.keyFrameCounter = 0
	}
	if e.keyFrameCounter == 0 {
		if err := e.dev.SetExtControls(ports.ControlClassCodec, []ports.ExtControl{
			{ID: ports.CtrlForceKeyFrame, Value: 1},
		}); err != nil {
			e.logger.Warn("Failed to force key frame: %v", err)
		}
	}
}

func (e *encoder) startStreaming() error {
	if err := e.output.StreamOn(); err != nil {
		return err
	}
	if err := e.input.StreamOn(); err != nil {
		return err
	}
	return e.dev.StartPolling(e.onPollEvent, e.onPollError)
}

func (e *encoder) enqueueInput(frame *pipeline.Frame, index, ts uint64) error {
	slot, ok := e.input.GetFreeSlot()
	if !ok {
		return errors.New("no free input slot")
	}
	slot.SetTimestamp(ts)
	for _, p := range frame.Planes {
		slot.AddPlane(p.Block, p.Offset, p.Offset+p.Size)
	}
	if err := e.input.Enqueue(slot); err != nil {
		return err
	}
	e.inputSlots[slot.ID()] = inputSlot{index: index, inUse: true}
	e.submittedAt[index] = time.Now()
	return nil
}

// enqueueOutput gives the device one more empty bitstream buffer.
func (e *encoder) enqueueOutput() bool {
	slot, ok := e.output.GetFreeSlot()
	if !ok {
		e.fail(pipeline.StatusCorrupted, "no free output slot")
		return false
	}
	block, err := e.c.deps.Blocks.FetchLinearBlock(e.outputBufferSize)
	if err != nil {
		_ = e.output.Release(slot)
		e.fail(pipeline.StatusNoMemory, "fetch output block: %v", err)
		return false
	}
	slot.AddPlane(block, 0, 0)
	if err := e.output.Enqueue(slot); err != nil {
		e.c.deps.Blocks.Release(block)
		e.fail(pipeline.StatusCorrupted, "enqueue output buffer: %v", err)
		return false
	}
	e.outputSlots[slot.ID()] = block
	return true
}

// =============================================================================
// Drain
// =============================================================================

// startDrain marks the newest in-flight item end-of-stream and asks the
// device to finish everything submitted so far.
func (e *encoder) startDrain() {
	back := e.inFlight.Back()
	if back == nil || e.state == EncoderDraining {
		return
	}
	back.Item.Flags |= pipeline.FlagEndOfStream

	// Nothing is inside the device, so there is no last buffer to wait for.
	if (e.inFlight.Len() == 1 && !back.HadInput()) || !e.input.IsStreaming() {
		e.setState(EncoderDraining)
		e.post(func() { e.onDrainDone(true) })
		return
	}

	if err := e.dev.EncoderCommand(ports.EncoderCommandStop); err != nil {
		e.logger.Warn("Failed to send stop command: %v", err)
		e.onDrainDone(false)
		return
	}
	e.stopSent = true
	e.setState(EncoderDraining)
}

// onDrainDone resolves the end-of-stream item once the device has emitted
// its last buffer, and restarts the device for the next stream.
func (e *encoder) onDrainDone(ok bool) {
	if e.state == EncoderError {
		return
	}
	if !ok {
		e.fail(pipeline.StatusCorrupted, "drain failed")
		return
	}
	if e.state != EncoderDraining {
		// Aborted by a flush.
		return
	}

	back := e.inFlight.Back()
	if back == nil || !back.Item.IsEndOfStream() {
		e.fail(pipeline.StatusCorrupted, "drain finished without an end-of-stream item")
		return
	}
	back.Item.Output.Flags |= pipeline.FlagEndOfStream
	e.c.deps.Metrics.DrainDone()

	if e.stopSent {
		e.stopSent = false
		if err := e.dev.EncoderCommand(ports.EncoderCommandStart); err != nil {
			e.fail(pipeline.StatusCorrupted, "restart after drain: %v", err)
			return
		}
	}
	// The next stream starts with a key frame.
	e.keyFrameCounter = 0
	e.completeWork()
}

// =============================================================================
// Flush
// =============================================================================

// flush stops the device and aborts every outstanding item. Aborted items
// are reported with result NotFound.
func (e *encoder) flush() {
	if e.dev == nil {
		return
	}
	if err := e.dev.StopPolling(); err != nil {
		e.fail(pipeline.StatusCorrupted, "stop polling: %v", err)
	}
	if err := e.input.StreamOff(); err != nil {
		e.fail(pipeline.StatusCorrupted, "%v", err)
	}
	if err := e.output.StreamOff(); err != nil {
		e.fail(pipeline.StatusCorrupted, "%v", err)
	}

	for i, s := range e.inputSlots {
		if !s.inUse {
			continue
		}
		if e.converter != nil {
			if err := e.converter.Return(s.index); err != nil {
				e.logger.Warn("Failed to return converted frame %d: %v", s.index, err)
			}
		}
		e.inputSlots[i] = inputSlot{}
	}
	e.releaseOutputBlocks()

	aborted := append(e.pending.DrainAll(), e.inFlight.DrainAll()...)
	for _, item := range aborted {
		item.Input = nil
		item.Result = pipeline.StatusNotFound
		delete(e.submittedAt, item.Index)
	}

	e.stopSent = false
	e.keyFrameCounter = 0
	if e.state != EncoderError && e.state != EncoderUninitialized {
		e.setState(EncoderWaitingForInput)
	}
	e.updateDepth()

	if len(aborted) > 0 {
		e.logger.Debug("Aborted %d work items", len(aborted))
		e.c.deps.Metrics.ItemsReturned(len(aborted))
		e.c.notifyWorkDone(aborted)
	}
}

// =============================================================================
// Reporting
// =============================================================================

// completeWork reports every finished item at the front of the in-flight
// queue and leaves the draining state once the queue is empty.
func (e *encoder) completeWork() {
	if done := e.inFlight.PopCompleted(); len(done) > 0 {
		e.reportWork(done)
	}
	if e.state == EncoderDraining && e.inFlight.Empty() {
		e.resume()
	}
}

// resume picks up pending work after a drain.
func (e *encoder) resume() {
	if e.pending.Empty() {
		e.setState(EncoderWaitingForInput)
		return
	}
	e.setState(EncoderEncoding)
	e.post(e.scheduleNextEncode)
}

func (e *encoder) reportWork(items []*pipeline.WorkItem) {
	now := time.Now()
	for _, item := range items {
		item.Result = pipeline.StatusOK
		if t, ok := e.submittedAt[item.Index]; ok {
			e.c.deps.Metrics.ObserveLatency(now.Sub(t))
			delete(e.submittedAt, item.Index)
		}
	}
	e.c.deps.Metrics.ItemsDone(len(items))
	e.updateDepth()
	e.c.notifyWorkDone(items)
}

// fail moves the encoder to the error state. The listener is told once.
func (e *encoder) fail(status pipeline.Status, format string, args ...interface{}) {
	e.c.setState(StateError)
	if e.state == EncoderError {
		return
	}
	e.logger.Error("Encoder error (%s): %s", status, fmt.Sprintf(format, args...))
	e.setState(EncoderError)
	e.c.deps.Metrics.ErrorReported()
	e.c.notifyError(status)
}

func (e *encoder) updateDepth() {
	e.c.deps.Metrics.SetQueueDepth(e.pending.Len(), e.inFlight.Len())
}
