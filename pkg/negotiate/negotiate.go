// Package negotiate agrees on input and output formats with an encode device.
package negotiate

import (
	"errors"
	"fmt"

	"github.com/user/hwencode/pkg/devqueue"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrOutputFormat is returned when the device rejects the coded format.
	ErrOutputFormat = errors.New("negotiate: output format rejected")

	// ErrInputFormat is returned when no input format is accepted.
	ErrInputFormat = errors.New("negotiate: no supported input format")

	// ErrCodedSize is returned when the coded size cannot hold the visible size.
	ErrCodedSize = errors.New("negotiate: coded size smaller than visible size")

	// ErrVisibleRect is returned when the visible rectangle cannot be set.
	ErrVisibleRect = errors.New("negotiate: failed to set visible rectangle")
)

const (
	mib = 1024 * 1024

	area1080p = 1920 * 1080
	area1440p = 2560 * 1440
)

// MaxOutputBufferSize returns the bitstream buffer size requested for a visible size.
func MaxOutputBufferSize(visible pipeline.Size) int {
	switch a := visible.Area(); {
	case a <= area1080p:
		return 2 * mib
	case a <= area1440p:
		return 4 * mib
	default:
		return 8 * mib
	}
}

// InputLayout is the result of input negotiation.
type InputLayout struct {
	Format    pipeline.PixelFormat
	Fourcc    pipeline.Fourcc
	CodedSize pipeline.Size
	Planes    []pipeline.PlaneLayout

	// Visible is the rectangle the device actually applied, possibly rounded.
	Visible pipeline.Rect

	// NeedsConversion is set when the device format differs from the requested one.
	NeedsConversion bool
}

// Negotiator configures the formats of a device's two queues.
type Negotiator struct {
	dev    ports.Device
	input  *devqueue.Queue
	output *devqueue.Queue
	logger ports.Logger
}

// New creates a negotiator.
func New(dev ports.Device, input, output *devqueue.Queue, logger ports.Logger) *Negotiator {
	return &Negotiator{
		dev:    dev,
		input:  input,
		output: output,
		logger: logger.WithComponent("negotiate"),
	}
}

// ConfigureOutput sets the coded output format. The returned buffer size is
// the one the device chose, which may be larger than requested.
func (n *Negotiator) ConfigureOutput(profile pipeline.Profile, visible pipeline.Size) (int, error) {
	fourcc := profile.Fourcc()
	if fourcc == 0 {
		return 0, fmt.Errorf("%w: invalid profile %s", ErrOutputFormat, profile)
	}

	requested := MaxOutputBufferSize(visible)
	f, err := n.output.SetFormat(fourcc, visible, requested)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrOutputFormat, profile, err)
	}

	size := f.BufferSize
	if size < requested {
		// Never go below what this resolution needs.
		size = requested
	}
	n.logger.Debug("Output format set to %s (buffer size: %d)", profile, size)
	return size, nil
}

// ConfigureInput tries the preferred pixel format first and then each of the
// device's preferred formats. It then applies the visible rectangle.
func (n *Negotiator) ConfigureInput(preferred pipeline.PixelFormat, visible pipeline.Size) (InputLayout, error) {
	f, err := n.trySetInput(preferred, visible)
	if err != nil {
		return InputLayout{}, err
	}

	format := pipeline.PixelFormatFromFourcc(f.Fourcc)
	layout := InputLayout{
		Format:          format,
		Fourcc:          f.Fourcc,
		CodedSize:       f.CodedSize,
		Planes:          f.Planes,
		NeedsConversion: format != preferred,
	}
	if len(layout.Planes) == 0 {
		layout.Planes = format.Layout(f.CodedSize)
	}

	if !f.CodedSize.Contains(visible) {
		return InputLayout{}, fmt.Errorf("%w: visible %s, coded %s", ErrCodedSize, visible, f.CodedSize)
	}

	rect, err := n.setVisibleRect(pipeline.RectOf(visible))
	if err != nil {
		return InputLayout{}, err
	}
	layout.Visible = rect

	n.logger.Debug("Input format set to %s (size: %s, adjusted size: %dx%d, coded size: %s)",
		format, visible, rect.Width, rect.Height, f.CodedSize)
	return layout, nil
}

func (n *Negotiator) trySetInput(preferred pipeline.PixelFormat, visible pipeline.Size) (ports.DeviceFormat, error) {
	if fourcc := preferred.Fourcc(); fourcc != 0 {
		f, err := n.input.SetFormat(fourcc, visible, 0)
		if err == nil {
			return f, nil
		}
		n.logger.Debug("Input format %s rejected: %v", preferred, err)
	}

	for _, fourcc := range n.dev.PreferredInputFormats() {
		if pipeline.PixelFormatFromFourcc(fourcc) == pipeline.PixelFormatUnknown {
			continue
		}
		f, err := n.input.SetFormat(fourcc, visible, 0)
		if err == nil {
			return f, nil
		}
		n.logger.Debug("Input format %s rejected: %v", fourcc, err)
	}

	return ports.DeviceFormat{}, fmt.Errorf("%w: %s", ErrInputFormat, preferred)
}

// setVisibleRect uses the selection API and falls back to the legacy crop
// API. In both cases the rectangle the device applied is returned.
func (n *Negotiator) setVisibleRect(rect pipeline.Rect) (pipeline.Rect, error) {
	applied, err := n.dev.SetSelection(rect)
	if err == nil {
		return applied, nil
	}
	n.logger.Debug("Selection not available (%v), falling back to crop", err)

	if err := n.dev.SetCrop(rect); err != nil {
		return pipeline.Rect{}, fmt.Errorf("%w: set crop: %v", ErrVisibleRect, err)
	}
	applied, err = n.dev.GetCrop()
	if err != nil {
		return pipeline.Rect{}, fmt.Errorf("%w: get crop: %v", ErrVisibleRect, err)
	}
	return applied, nil
}
