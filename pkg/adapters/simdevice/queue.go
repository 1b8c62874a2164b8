package simdevice

import (
	"errors"
	"fmt"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrInvalidFormat is returned by SetFormat for an unsupported format.
	ErrInvalidFormat = errors.New("simdevice: format not supported")

	// ErrBusy is returned for operations not allowed while streaming.
	ErrBusy = errors.New("simdevice: queue busy")

	// ErrInvalidBuffer is returned for a buffer the queue cannot accept.
	ErrInvalidBuffer = errors.New("simdevice: invalid buffer")
)

// queue is one direction of the simulated device. All fields are guarded by Device.mu.
type queue struct {
	dev       *Device
	dir       ports.Direction
	format    ports.DeviceFormat
	hasFormat bool
	count     int
	streaming bool
	queued    []ports.DeviceBuffer
	done      []ports.DequeuedBuffer
}

func (q *queue) SetFormat(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (ports.DeviceFormat, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.streaming || q.count > 0 {
		return ports.DeviceFormat{}, ErrBusy
	}

	var f ports.DeviceFormat
	var err error
	if q.dir == ports.DirectionOutput {
		f, err = d.outputFormat(fourcc, size, bufferSize)
	} else {
		f, err = d.inputFormat(fourcc, size)
	}
	if err != nil {
		return ports.DeviceFormat{}, err
	}
	q.format = f
	q.hasFormat = true
	return f, nil
}

func (q *queue) RequestBuffers(count int, memory ports.MemoryKind) (int, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.streaming {
		return 0, ErrBusy
	}
	if count > 0 && !q.hasFormat {
		return 0, fmt.Errorf("%w: no format set", ErrInvalidFormat)
	}
	if d.cfg.MaxBuffers > 0 && count > d.cfg.MaxBuffers {
		count = d.cfg.MaxBuffers
	}
	q.count = count
	q.queued = nil
	q.done = nil
	return count, nil
}

func (q *queue) QueueBuffer(buf ports.DeviceBuffer) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if buf.Index < 0 || buf.Index >= q.count {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidBuffer, buf.Index, q.count)
	}
	for _, b := range q.queued {
		if b.Index == buf.Index {
			return fmt.Errorf("%w: buffer %d already queued", ErrInvalidBuffer, buf.Index)
		}
	}
	if err := q.validate(buf); err != nil {
		return err
	}

	q.queued = append(q.queued, buf)
	d.process()
	return nil
}

func (q *queue) validate(buf ports.DeviceBuffer) error {
	if q.dir == ports.DirectionOutput {
		if len(buf.Planes) != 1 || buf.Planes[0].Block == nil {
			return fmt.Errorf("%w: output buffer needs one plane", ErrInvalidBuffer)
		}
		return nil
	}
	if len(buf.Planes) != len(q.format.Planes) {
		return fmt.Errorf("%w: %d planes, format has %d", ErrInvalidBuffer, len(buf.Planes), len(q.format.Planes))
	}
	for i, p := range buf.Planes {
		if p.Block == nil || p.BytesUsed > len(p.Block.Data) || p.DataOffset > p.BytesUsed {
			return fmt.Errorf("%w: plane %d out of bounds", ErrInvalidBuffer, i)
		}
	}
	return nil
}

func (q *queue) DequeueBuffer() (ports.DequeuedBuffer, bool, error) {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(q.done) == 0 {
		return ports.DequeuedBuffer{}, false, nil
	}
	buf := q.done[0]
	q.done = q.done[1:]
	return buf, true, nil
}

func (q *queue) StreamOn() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if q.count == 0 {
		return fmt.Errorf("%w: no buffers", ErrInvalidBuffer)
	}
	q.streaming = true
	d.process()
	return nil
}

func (q *queue) StreamOff() error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	q.streaming = false
	q.queued = nil
	q.done = nil
	d.resetStream()
	return nil
}

// popQueued removes the queued buffer with the given timestamp, or the oldest one if ts is nil.
func (q *queue) popQueued(ts *uint64) (ports.DeviceBuffer, bool) {
	for i, b := range q.queued {
		if ts == nil || b.Timestamp == *ts {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			return b, true
		}
	}
	return ports.DeviceBuffer{}, false
}

func (q *queue) complete(buf ports.DeviceBuffer, flags ports.BufferFlags) {
	q.done = append(q.done, ports.DequeuedBuffer{
		Index:     buf.Index,
		Timestamp: buf.Timestamp,
		Flags:     flags,
		Planes:    buf.Planes,
	})
}
