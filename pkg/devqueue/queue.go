// Package devqueue tracks ownership of the buffer slots of one device queue.
//
// Every slot is owned by exactly one of: the free pool, the hardware, or the
// runner (between GetFreeSlot and Enqueue/Release). The queue enforces
// free + hardware + runner == allocated at all times.
package devqueue

import (
	"errors"
	"fmt"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrUnderAllocated is returned when the device grants fewer slots than requested.
	ErrUnderAllocated = errors.New("devqueue: device granted fewer buffers than requested")

	// ErrStreaming is returned for operations that require the queue to be stopped.
	ErrStreaming = errors.New("devqueue: queue is streaming")

	// ErrNotOwned is returned when a slot is used by someone who does not own it.
	ErrNotOwned = errors.New("devqueue: slot not owned by runner")

	// ErrUnknownBuffer is returned when the device completes a buffer it was never given.
	ErrUnknownBuffer = errors.New("devqueue: device returned unknown buffer")
)

// Owner identifies who currently holds a slot.
type Owner int

const (
	OwnerFree Owner = iota
	OwnerHardware
	OwnerRunner
)

func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerHardware:
		return "hardware"
	case OwnerRunner:
		return "runner"
	default:
		return "unknown"
	}
}

// Slot is a buffer slot taken from the free pool. It must be either enqueued or released.
type Slot struct {
	id        int
	timestamp uint64
	planes    []ports.PlaneData
}

// ID returns the slot's index on the device.
func (s *Slot) ID() int {
	return s.id
}

// SetTimestamp tags the buffer so its completion can be correlated with a work item.
func (s *Slot) SetTimestamp(ts uint64) {
	s.timestamp = ts
}

// AddPlane attaches one plane of memory to the slot.
func (s *Slot) AddPlane(block *pipeline.Block, dataOffset, bytesUsed int) {
	s.planes = append(s.planes, ports.PlaneData{Block: block, DataOffset: dataOffset, BytesUsed: bytesUsed})
}

// Completed describes a slot returned by the hardware.
type Completed struct {
	ID        int
	Timestamp uint64
	Flags     ports.BufferFlags
	Planes    []ports.PlaneData
}

// PayloadSize returns the bytes written to plane 0 past its data offset.
func (c Completed) PayloadSize() int {
	if len(c.Planes) == 0 {
		return 0
	}
	return c.Planes[0].BytesUsed - c.Planes[0].DataOffset
}

// IsLast reports whether the device flagged this as the final buffer of a drain.
func (c Completed) IsLast() bool {
	return c.Flags&ports.BufferFlagLast != 0
}

// IsKeyFrame reports whether the buffer holds a key frame.
func (c Completed) IsKeyFrame() bool {
	return c.Flags&ports.BufferFlagKeyFrame != 0
}

// Queue manages the slots of one direction of a device.
type Queue struct {
	dir       ports.Direction
	dev       ports.DeviceQueue
	logger    ports.Logger
	owners    []Owner
	free      []int
	streaming bool
	format    ports.DeviceFormat
	memory    ports.MemoryKind
}

// New wraps a device queue.
func New(dir ports.Direction, dev ports.DeviceQueue, logger ports.Logger) *Queue {
	return &Queue{
		dir:    dir,
		dev:    dev,
		logger: logger.WithComponent("devqueue/" + dir.String()),
	}
}

// Direction returns the queue direction.
func (q *Queue) Direction() ports.Direction {
	return q.dir
}

// SetFormat negotiates the queue format and remembers the result.
func (q *Queue) SetFormat(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (ports.DeviceFormat, error) {
	if q.streaming {
		return ports.DeviceFormat{}, ErrStreaming
	}
	f, err := q.dev.SetFormat(fourcc, size, bufferSize)
	if err != nil {
		return ports.DeviceFormat{}, err
	}
	q.format = f
	return f, nil
}

// Format returns the last negotiated format.
func (q *Queue) Format() ports.DeviceFormat {
	return q.format
}

// Allocate requests count slots. Getting fewer than count is an error, and
// any partial allocation is released again.
func (q *Queue) Allocate(count int, memory ports.MemoryKind) (int, error) {
	if q.streaming {
		return 0, ErrStreaming
	}
	if len(q.owners) > 0 {
		return 0, fmt.Errorf("devqueue: %d buffers already allocated", len(q.owners))
	}

	n, err := q.dev.RequestBuffers(count, memory)
	if err != nil {
		return 0, fmt.Errorf("request %d %s buffers: %w", count, q.dir, err)
	}
	if n < count {
		if n > 0 {
			if _, err := q.dev.RequestBuffers(0, memory); err != nil {
				q.logger.Warn("Failed to release %d partial buffers: %v", n, err)
			}
		}
		return n, fmt.Errorf("%w: wanted %d, got %d", ErrUnderAllocated, count, n)
	}

	q.memory = memory
	q.owners = make([]Owner, n)
	q.free = make([]int, 0, n)
	for i := 0; i < n; i++ {
		q.free = append(q.free, i)
	}
	q.logger.Debug("Allocated %d %s buffers", n, q.dir)
	return n, nil
}

// Deallocate releases every slot. Only valid while not streaming.
func (q *Queue) Deallocate() error {
	if q.streaming {
		return ErrStreaming
	}
	if len(q.owners) == 0 {
		return nil
	}
	if _, err := q.dev.RequestBuffers(0, q.memory); err != nil {
		return fmt.Errorf("release %s buffers: %w", q.dir, err)
	}
	q.owners = nil
	q.free = nil
	return nil
}

// GetFreeSlot takes a slot out of the free pool. ok is false when none is free.
func (q *Queue) GetFreeSlot() (*Slot, bool) {
	if len(q.free) == 0 {
		return nil, false
	}
	id := q.free[0]
	q.free = q.free[1:]
	q.owners[id] = OwnerRunner
	return &Slot{id: id}, true
}

// Release returns a slot that was taken but not enqueued.
func (q *Queue) Release(s *Slot) error {
	if err := q.checkOwner(s.id, OwnerRunner); err != nil {
		return err
	}
	q.toFree(s.id)
	return nil
}

// Enqueue hands a slot to the hardware. On failure the slot goes back to the free pool.
func (q *Queue) Enqueue(s *Slot) error {
	if err := q.checkOwner(s.id, OwnerRunner); err != nil {
		return err
	}
	err := q.dev.QueueBuffer(ports.DeviceBuffer{
		Index:     s.id,
		Timestamp: s.timestamp,
		Planes:    s.planes,
	})
	if err != nil {
		q.toFree(s.id)
		return fmt.Errorf("queue %s buffer %d: %w", q.dir, s.id, err)
	}
	q.owners[s.id] = OwnerHardware
	return nil
}

// Dequeue retrieves one completed slot without blocking. ok is false when
// nothing is ready. The slot returns to the free pool.
func (q *Queue) Dequeue() (Completed, bool, error) {
	if q.QueuedCount() == 0 {
		return Completed{}, false, nil
	}
	buf, ok, err := q.dev.DequeueBuffer()
	if err != nil {
		return Completed{}, false, fmt.Errorf("dequeue %s buffer: %w", q.dir, err)
	}
	if !ok {
		return Completed{}, false, nil
	}
	if buf.Index < 0 || buf.Index >= len(q.owners) || q.owners[buf.Index] != OwnerHardware {
		return Completed{}, false, fmt.Errorf("%w: %s buffer %d", ErrUnknownBuffer, q.dir, buf.Index)
	}
	q.toFree(buf.Index)
	return Completed{
		ID:        buf.Index,
		Timestamp: buf.Timestamp,
		Flags:     buf.Flags,
		Planes:    buf.Planes,
	}, true, nil
}

// StreamOn starts the queue.
func (q *Queue) StreamOn() error {
	if q.streaming {
		return nil
	}
	if err := q.dev.StreamOn(); err != nil {
		return fmt.Errorf("stream on %s: %w", q.dir, err)
	}
	q.streaming = true
	return nil
}

// StreamOff stops the queue. All hardware-owned slots return to the free pool.
func (q *Queue) StreamOff() error {
	if !q.streaming {
		return nil
	}
	if err := q.dev.StreamOff(); err != nil {
		return fmt.Errorf("stream off %s: %w", q.dir, err)
	}
	q.streaming = false
	for id, o := range q.owners {
		if o == OwnerHardware {
			q.toFree(id)
		}
	}
	return nil
}

// IsStreaming reports whether the queue is started.
func (q *Queue) IsStreaming() bool {
	return q.streaming
}

// AllocatedCount returns the number of slots.
func (q *Queue) AllocatedCount() int {
	return len(q.owners)
}

// FreeCount returns the number of slots in the free pool.
func (q *Queue) FreeCount() int {
	return len(q.free)
}

// QueuedCount returns the number of slots owned by the hardware.
func (q *Queue) QueuedCount() int {
	return q.count(OwnerHardware)
}

// RunnerCount returns the number of slots taken but not yet enqueued or released.
func (q *Queue) RunnerCount() int {
	return q.count(OwnerRunner)
}

// OwnerOf returns the current owner of slot id.
func (q *Queue) OwnerOf(id int) Owner {
	return q.owners[id]
}

func (q *Queue) count(o Owner) int {
	n := 0
	for _, owner := range q.owners {
		if owner == o {
			n++
		}
	}
	return n
}

func (q *Queue) checkOwner(id int, want Owner) error {
	if id < 0 || id >= len(q.owners) {
		return fmt.Errorf("%w: slot %d out of range", ErrNotOwned, id)
	}
	if q.owners[id] != want {
		return fmt.Errorf("%w: slot %d is %s", ErrNotOwned, id, q.owners[id])
	}
	return nil
}

func (q *Queue) toFree(id int) {
	q.owners[id] = OwnerFree
	q.free = append(q.free, id)
}
