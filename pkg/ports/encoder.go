package ports

import (
	"github.com/user/hwencode/pkg/pipeline"
)

// DrainMode selects how Drain behaves.
type DrainMode int

const (
	// DrainComponentWithEOS drains this component and marks the last item end-of-stream.
	DrainComponentWithEOS DrainMode = iota
	// DrainComponentNoEOS drains without an end-of-stream marker.
	DrainComponentNoEOS
	// DrainChain drains downstream components too. Not supported.
	DrainChain
)

// FlushMode selects how Flush behaves.
type FlushMode int

const (
	FlushComponent FlushMode = iota
	// FlushChain flushes downstream components too. Not supported.
	FlushChain
)

// Listener receives asynchronous results from an encode component.
type Listener interface {
	// OnWorkDone is called with completed or aborted work items in queue order.
	OnWorkDone(items []*pipeline.WorkItem)

	// OnError is called once when the component enters the error state.
	OnError(status pipeline.Status)
}

// EncodeComponent is the client-facing surface of an encoder.
type EncodeComponent interface {
	// Start opens and configures the device. On failure the component stays loaded.
	Start() error

	// Stop aborts outstanding work and releases the device.
	Stop() error

	// Queue submits work items. Only valid while running.
	Queue(items []*pipeline.WorkItem) error

	// Drain asks the encoder to finish all queued work.
	Drain(mode DrainMode) error

	// Flush discards queued work. Items not yet submitted are returned directly.
	Flush(mode FlushMode) ([]*pipeline.WorkItem, error)

	// SetListener replaces the result listener.
	SetListener(l Listener) error
}

// BlockPool hands out linear memory blocks for encoded output.
type BlockPool interface {
	FetchLinearBlock(size int) (*pipeline.Block, error)

	// Release returns a block that is no longer referenced.
	Release(b *pipeline.Block)
}

// FormatConverter converts client frames into the layout the device accepts.
type FormatConverter interface {
	// IsReady reports whether a conversion buffer is available.
	IsReady() bool

	// Convert converts frame and tracks the result under index until Return.
	Convert(index uint64, frame *pipeline.Frame) (*pipeline.Frame, error)

	// Return hands the buffer tracked under index back to the converter.
	Return(index uint64) error
}

// ConverterFactory creates a converter producing format at codedSize with count buffers.
type ConverterFactory func(format pipeline.PixelFormat, visible, coded pipeline.Size, count int) (FormatConverter, error)
