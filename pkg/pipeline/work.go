package pipeline

import "fmt"

// =============================================================================
// Buffers
// =============================================================================

// Block is a piece of memory that can be handed to the device by reference.
// ID plays the role of a shared memory handle.
type Block struct {
	ID   int
	Data []byte
}

// Capacity returns the size of the underlying memory.
func (b *Block) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Plane is one color plane of a frame, backed by a block.
type Plane struct {
	Block  *Block
	Offset int
	Stride int
	Size   int
}

// Bytes returns the plane's bytes.
func (p Plane) Bytes() []byte {
	return p.Block.Data[p.Offset : p.Offset+p.Size]
}

// Frame is a raw video frame supplied by the client.
type Frame struct {
	Format PixelFormat
	Size   Size
	Planes []Plane
}

// NewFrame allocates a contiguous frame of the given format and size in one block.
func NewFrame(format PixelFormat, size Size, blockID int) *Frame {
	layout := format.Layout(size)
	block := &Block{ID: blockID, Data: make([]byte, format.AllocationSize(size))}
	planes := make([]Plane, len(layout))
	for i, l := range layout {
		planes[i] = Plane{Block: block, Offset: l.Offset, Stride: l.Stride, Size: l.Size}
	}
	return &Frame{Format: format, Size: size, Planes: planes}
}

// EncodedBuffer is a compressed bitstream chunk produced by the device.
type EncodedBuffer struct {
	Block     *Block
	Offset    int
	Size      int
	Timestamp uint64
	KeyFrame  bool
}

// Bytes returns the valid payload.
func (b *EncodedBuffer) Bytes() []byte {
	return b.Block.Data[b.Offset : b.Offset+b.Size]
}

// =============================================================================
// Work Items
// =============================================================================

// FrameFlags are flags attached to a work item's input or output.
type FrameFlags uint32

const (
	// FlagEndOfStream marks the last item of a stream. On output it means the
	// drain that the item requested has completed.
	FlagEndOfStream FrameFlags = 1 << iota
)

// Status is the result code reported to the client.
type Status int

const (
	StatusOK Status = iota
	StatusBadState
	StatusBadValue
	StatusOmitted
	StatusNotFound
	StatusCorrupted
	StatusNoMemory
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadState:
		return "bad state"
	case StatusBadValue:
		return "bad value"
	case StatusOmitted:
		return "omitted"
	case StatusNotFound:
		return "not found"
	case StatusCorrupted:
		return "corrupted"
	case StatusNoMemory:
		return "no memory"
	case StatusTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// WorkOutput is the half of a work item filled in by the encoder.
type WorkOutput struct {
	Flags   FrameFlags
	Buffers []*EncodedBuffer
	// CodecConfig carries codec-specific data (SPS/PPS in Annex B form).
	// It is attached once, to the first item completed after start.
	CodecConfig []byte
}

// WorkItem is a unit of client work: at most one input frame in, encoded buffers out.
type WorkItem struct {
	Index     uint64
	Timestamp uint64
	Flags     FrameFlags
	Input     *Frame
	Output    WorkOutput
	Result    Status
}

// IsEndOfStream reports whether the input is marked end-of-stream.
func (w *WorkItem) IsEndOfStream() bool {
	return w.Flags&FlagEndOfStream != 0
}

// HasInput reports whether the item carries a frame to encode.
func (w *WorkItem) HasInput() bool {
	return w.Input != nil
}

// DrainDone reports whether the output is marked end-of-stream.
func (w *WorkItem) DrainDone() bool {
	return w.Output.Flags&FlagEndOfStream != 0
}

// Bitstream concatenates every output buffer's payload.
func (w *WorkItem) Bitstream() []byte {
	var n int
	for _, b := range w.Output.Buffers {
		n += b.Size
	}
	out := make([]byte, 0, n)
	for _, b := range w.Output.Buffers {
		out = append(out, b.Bytes()...)
	}
	return out
}

// IsKeyFrame reports whether any output buffer is a key frame.
func (w *WorkItem) IsKeyFrame() bool {
	for _, b := range w.Output.Buffers {
		if b.KeyFrame {
			return true
		}
	}
	return false
}
