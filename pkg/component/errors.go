package component

import (
	"errors"

	"github.com/user/hwencode/pkg/pipeline"
)

var (
	// ErrBadState is returned when an operation is not valid in the current state.
	ErrBadState = errors.New("component: bad state")

	// ErrBadValue is returned for an invalid argument or configuration.
	ErrBadValue = errors.New("component: bad value")

	// ErrOmitted is returned for operations this component does not implement.
	ErrOmitted = errors.New("component: operation not supported")

	// ErrStartFailed is returned when the device could not be set up.
	ErrStartFailed = errors.New("component: failed to start encoder")
)

// StatusOf maps an error returned by the component to a client status code.
func StatusOf(err error) pipeline.Status {
	switch {
	case err == nil:
		return pipeline.StatusOK
	case errors.Is(err, ErrBadState):
		return pipeline.StatusBadState
	case errors.Is(err, ErrBadValue):
		return pipeline.StatusBadValue
	case errors.Is(err, ErrOmitted):
		return pipeline.StatusOmitted
	default:
		return pipeline.StatusCorrupted
	}
}
