package ports

import (
	"errors"

	"github.com/user/hwencode/pkg/pipeline"
)

// ErrNotSupported is returned by a device for an operation it does not implement.
var ErrNotSupported = errors.New("device: operation not supported")

// DeviceKind selects which kind of device node to open.
type DeviceKind int

const (
	DeviceEncoder DeviceKind = iota
	DeviceDecoder
)

// Capability is a bit set of device capabilities.
type Capability uint32

const (
	CapVideoM2MMPlane Capability = 1 << iota
	CapStreaming
)

// Direction selects one of the two device queues.
type Direction int

const (
	// DirectionInput carries raw frames into the device.
	DirectionInput Direction = iota
	// DirectionOutput carries compressed bitstream out of the device.
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// MemoryKind selects how buffer memory is provided to a queue.
type MemoryKind int

const (
	MemoryMMap MemoryKind = iota
	MemoryUserPtr
	MemoryDMABuf
)

// EncoderCommand is a command sent to a running encoder.
type EncoderCommand int

const (
	EncoderCommandStart EncoderCommand = iota
	EncoderCommandStop
)

// ControlClass groups device controls.
type ControlClass int

const ControlClassCodec ControlClass = 0x990000

// ControlID identifies a device control.
type ControlID uint32

const (
	CtrlFrameRCEnable ControlID = iota + 0x990900
	CtrlMBRCEnable
	CtrlGOPSize
	CtrlBFrames
	CtrlBitrate
	CtrlForceKeyFrame
	CtrlHeaderMode
	CtrlH264SPSPPSBeforeIDR
	CtrlH264MaxQP
	CtrlH264Profile
	CtrlH264Level
)

// Header modes for CtrlHeaderMode.
const (
	HeaderModeSeparate           = 0
	HeaderModeJoinedWith1stFrame = 1
)

// ExtControl is a single control value.
type ExtControl struct {
	ID    ControlID
	Value int32
}

// DeviceFormat is the format a device queue actually accepted.
type DeviceFormat struct {
	Fourcc    pipeline.Fourcc
	CodedSize pipeline.Size
	Planes    []pipeline.PlaneLayout
	// BufferSize is the size of the first plane for coded formats.
	BufferSize int
}

// BufferFlags are completion flags of a dequeued buffer.
type BufferFlags uint32

const (
	BufferFlagKeyFrame BufferFlags = 1 << iota
	// BufferFlagLast marks the final buffer produced before a stop command completes.
	BufferFlagLast
)

// PlaneData describes one plane of a buffer handed to the device.
type PlaneData struct {
	Block      *pipeline.Block
	DataOffset int
	BytesUsed  int
}

// DeviceBuffer is a buffer submitted to a device queue.
type DeviceBuffer struct {
	Index     int
	Timestamp uint64
	Planes    []PlaneData
}

// DequeuedBuffer is a buffer the device has finished with.
type DequeuedBuffer struct {
	Index     int
	Timestamp uint64
	Flags     BufferFlags
	Planes    []PlaneData
}

// DeviceQueue is one direction of a memory-to-memory device.
type DeviceQueue interface {
	// SetFormat requests a format and returns the one the device chose.
	SetFormat(fourcc pipeline.Fourcc, size pipeline.Size, bufferSize int) (DeviceFormat, error)

	// RequestBuffers asks for count buffer slots and returns how many were granted.
	// A count of zero releases all slots.
	RequestBuffers(count int, memory MemoryKind) (int, error)

	// QueueBuffer hands a buffer to the device.
	QueueBuffer(buf DeviceBuffer) error

	// DequeueBuffer returns a completed buffer. ok is false when none is ready.
	DequeueBuffer() (buf DequeuedBuffer, ok bool, err error)

	// StreamOn starts processing queued buffers.
	StreamOn() error

	// StreamOff stops processing and returns every queued buffer to the caller.
	StreamOff() error
}

// Device abstracts a kernel memory-to-memory encode device.
type Device interface {
	// Open opens a device node able to produce the given coded format.
	Open(kind DeviceKind, fourcc pipeline.Fourcc) error

	// HasCapabilities reports whether every capability in caps is present.
	HasCapabilities(caps Capability) bool

	// SupportsCommand reports whether the encoder accepts cmd.
	SupportsCommand(cmd EncoderCommand) bool

	// IsControlExposed reports whether the control exists on the device.
	IsControlExposed(id ControlID) bool

	// SetExtControls sets a batch of controls.
	SetExtControls(class ControlClass, ctrls []ExtControl) error

	// SetSelection sets the visible rectangle of the input queue and returns the
	// rectangle the device applied. Returns ErrNotSupported if unavailable.
	SetSelection(rect pipeline.Rect) (pipeline.Rect, error)

	// SetCrop is the legacy way of setting the visible rectangle.
	SetCrop(rect pipeline.Rect) error

	// GetCrop returns the effective legacy crop rectangle.
	GetCrop() (pipeline.Rect, error)

	// SetFrameRate sets the expected input frame rate.
	SetFrameRate(fps uint32) error

	// EncoderCommand sends a start or stop command.
	EncoderCommand(cmd EncoderCommand) error

	// PreferredInputFormats lists input formats in the device's preference order.
	PreferredInputFormats() []pipeline.Fourcc

	// Queue returns the queue for a direction. Valid after Open.
	Queue(dir Direction) DeviceQueue

	// StartPolling starts a background notifier. onEvent is called whenever a
	// queue may have completed buffers; onError when polling fails.
	StartPolling(onEvent func(), onError func(error)) error

	// StopPolling stops the notifier and waits for it to exit.
	StopPolling() error

	// Close releases the device.
	Close() error
}

// DeviceFactory creates unopened devices.
type DeviceFactory func() Device
