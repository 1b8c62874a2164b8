package component

import (
	"github.com/user/hwencode/pkg/bitstream"
	"github.com/user/hwencode/pkg/pipeline"
)

// onPollEvent and onPollError run on the poller goroutine. They only post
// to the runner.
func (e *encoder) onPollEvent() {
	e.post(e.serviceDevice)
}

func (e *encoder) onPollError(err error) {
	e.post(func() { e.fail(pipeline.StatusCorrupted, "poll device: %v", err) })
}

// serviceDevice collects every completed buffer from both queues.
func (e *encoder) serviceDevice() {
	if e.state == EncoderError || e.state == EncoderUninitialized {
		return
	}
	for e.input.QueuedCount() > 0 && e.dequeueInput() {
	}
	for e.output.QueuedCount() > 0 && e.dequeueOutput() {
	}
}

// =============================================================================
// Input completion
// =============================================================================

func (e *encoder) dequeueInput() bool {
	done, ok, err := e.input.Dequeue()
	if err != nil {
		e.fail(pipeline.StatusCorrupted, "%v", err)
		return false
	}
	if !ok {
		return false
	}

	slot := e.inputSlots[done.ID]
	e.inputSlots[done.ID] = inputSlot{}
	if !slot.inUse {
		e.fail(pipeline.StatusCorrupted, "input slot %d returned without a frame", done.ID)
		return false
	}
	e.onInputDone(slot.index)
	return e.state != EncoderError
}

func (e *encoder) onInputDone(index uint64) {
	entry := e.inFlight.FindByIndex(index)
	if entry == nil {
		e.fail(pipeline.StatusCorrupted, "no work item for returned input %d", index)
		return
	}
	entry.MarkInputReturned()
	if e.converter != nil {
		if err := e.converter.Return(index); err != nil {
			e.fail(pipeline.StatusCorrupted, "return converted frame %d: %v", index, err)
			return
		}
	}

	e.completeWork()

	if e.state == EncoderWaitingForInputBuffers && !e.pending.Empty() {
		e.setState(EncoderEncoding)
		e.post(e.scheduleNextEncode)
	}
}

// =============================================================================
// Output completion
// =============================================================================

func (e *encoder) dequeueOutput() bool {
	done, ok, err := e.output.Dequeue()
	if err != nil {
		e.fail(pipeline.StatusCorrupted, "%v", err)
		return false
	}
	if !ok {
		return false
	}

	block := e.outputSlots[done.ID]
	e.outputSlots[done.ID] = nil
	if block == nil {
		e.fail(pipeline.StatusCorrupted, "output slot %d returned without a block", done.ID)
		return false
	}

	if size := done.PayloadSize(); size > 0 {
		e.onOutputDone(&pipeline.EncodedBuffer{
			Block:     block,
			Offset:    done.Planes[0].DataOffset,
			Size:      size,
			Timestamp: done.Timestamp,
			KeyFrame:  done.IsKeyFrame(),
		})
	} else {
		e.c.deps.Blocks.Release(block)
	}
	if e.state == EncoderError {
		return false
	}

	if done.IsLast() {
		if e.state == EncoderDraining {
			e.onDrainDone(true)
		} else {
			e.logger.Debug("Ignoring last buffer outside of a drain")
		}
		if e.state == EncoderError {
			return false
		}
	}

	return e.enqueueOutput()
}

func (e *encoder) onOutputDone(buf *pipeline.EncodedBuffer) {
	if !e.csdSubmitted {
		if e.cfg.Profile.IsH264() {
			csd, err := bitstream.ExtractCodecConfig(buf.Bytes())
			if err != nil {
				e.c.deps.Blocks.Release(buf.Block)
				e.fail(pipeline.StatusCorrupted, "extract codec config: %v", err)
				return
			}
			front := e.inFlight.Front()
			if front == nil {
				e.c.deps.Blocks.Release(buf.Block)
				e.fail(pipeline.StatusCorrupted, "codec config without a work item")
				return
			}
			front.Item.Output.CodecConfig = csd
		}
		e.csdSubmitted = true
	}

	entry := e.inFlight.FindByTimestamp(buf.Timestamp)
	if entry == nil {
		// A separately emitted header carries no frame timestamp.
		headerOnly := e.cfg.Profile.IsH264() && bitstream.IsCodecConfigOnly(buf.Bytes())
		e.c.deps.Blocks.Release(buf.Block)
		if !headerOnly {
			e.fail(pipeline.StatusCorrupted, "no work item for output timestamp %d", buf.Timestamp)
		}
		return
	}
	entry.AddOutput(buf)
	e.c.deps.Metrics.FrameEncoded(buf.Size, buf.KeyFrame)
	e.completeWork()
}
