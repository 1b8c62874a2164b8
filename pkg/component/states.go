package component

import "fmt"

// State is the client-visible lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EncoderState is the state of the encode loop. It is only changed on the
// runner goroutine.
type EncoderState int32

const (
	EncoderUninitialized EncoderState = iota
	// EncoderWaitingForInput means no work is pending.
	EncoderWaitingForInput
	// EncoderWaitingForInputBuffers means work is pending but every input slot is in use.
	EncoderWaitingForInputBuffers
	EncoderEncoding
	// EncoderDraining means a stop command was sent and the last buffer has not arrived.
	EncoderDraining
	EncoderError
)

func (s EncoderState) String() string {
	switch s {
	case EncoderUninitialized:
		return "uninitialized"
	case EncoderWaitingForInput:
		return "waiting-for-input"
	case EncoderWaitingForInputBuffers:
		return "waiting-for-input-buffers"
	case EncoderEncoding:
		return "encoding"
	case EncoderDraining:
		return "draining"
	case EncoderError:
		return "error"
	default:
		return fmt.Sprintf("encoder-state(%d)", int(s))
	}
}

// validTransition lists the encoder transitions the encode loop performs.
// Error is reachable from everywhere and Uninitialized is reached on stop.
func validTransition(from, to EncoderState) bool {
	if to == EncoderError || to == EncoderUninitialized || from == to {
		return true
	}
	switch from {
	case EncoderUninitialized:
		return to == EncoderWaitingForInput || to == EncoderEncoding
	case EncoderWaitingForInput:
		return to == EncoderEncoding
	case EncoderEncoding:
		return to == EncoderWaitingForInput || to == EncoderWaitingForInputBuffers || to == EncoderDraining
	case EncoderWaitingForInputBuffers:
		return to == EncoderEncoding || to == EncoderWaitingForInput
	case EncoderDraining:
		return to == EncoderEncoding || to == EncoderWaitingForInput
	}
	return false
}
