package component

import (
	"fmt"

	"github.com/user/hwencode/pkg/metrics"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// Default buffer counts for the two device queues.
const (
	DefaultInputBufferCount  = 2
	DefaultOutputBufferCount = 2
)

// Config holds the encode parameters read at Start.
type Config struct {
	// Visible is the picture size of the client frames.
	Visible pipeline.Size
	// InputFormat is the pixel format of the client frames.
	InputFormat pipeline.PixelFormat

	Profile pipeline.Profile
	// Level applies to H.264 only. Zero selects DefaultH264Level.
	Level pipeline.H264Level

	// Bitrate in bits per second and Framerate in frames per second.
	// Both can be changed while running.
	Bitrate   uint32
	Framerate uint32

	// KeyFramePeriod forces a key frame every N frames. Zero or less means
	// only the first frame is a key frame.
	KeyFramePeriod int

	InputBufferCount  int
	OutputBufferCount int
}

// DefaultConfig returns a 720p H.264 main profile configuration.
func DefaultConfig() Config {
	return Config{
		Visible:           pipeline.Size{Width: 1280, Height: 720},
		InputFormat:       pipeline.PixelFormatNV12,
		Profile:           pipeline.ProfileH264Main,
		Level:             pipeline.DefaultH264Level,
		Bitrate:           4_000_000,
		Framerate:         30,
		KeyFramePeriod:    30,
		InputBufferCount:  DefaultInputBufferCount,
		OutputBufferCount: DefaultOutputBufferCount,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Visible.IsEmpty() {
		return fmt.Errorf("%w: empty visible size %s", ErrBadValue, c.Visible)
	}
	if c.InputFormat == pipeline.PixelFormatUnknown {
		return fmt.Errorf("%w: unknown input format", ErrBadValue)
	}
	if c.Profile == pipeline.ProfileUnknown {
		return fmt.Errorf("%w: unknown profile", ErrBadValue)
	}
	if c.Bitrate == 0 {
		return fmt.Errorf("%w: bitrate must be positive", ErrBadValue)
	}
	if c.Framerate == 0 {
		return fmt.Errorf("%w: framerate must be positive", ErrBadValue)
	}
	if c.InputBufferCount <= 0 || c.OutputBufferCount <= 0 {
		return fmt.Errorf("%w: buffer counts must be positive", ErrBadValue)
	}
	return nil
}

// Deps are the collaborators of a component.
type Deps struct {
	// Devices creates the device opened at every Start. Required.
	Devices ports.DeviceFactory
	// Blocks provides output bitstream memory. Required.
	Blocks ports.BlockPool
	// Converters is used when the device does not accept the input format.
	// If nil, such a configuration fails to start.
	Converters ports.ConverterFactory

	Logger  ports.Logger
	Metrics *metrics.Metrics
}
