// Package source implements the frame generation stage.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// ImportFunc copies a rendered image into a raw frame of the given format.
type ImportFunc func(img image.Image, format pipeline.PixelFormat, blockID int) (*pipeline.Frame, error)

// Stage renders synthetic frames and stores them in the client input format.
type Stage struct {
	renderer ports.FrameRenderer
	importer ImportFunc
	logger   ports.Logger
}

// NewStage creates a new source stage.
func NewStage(renderer ports.FrameRenderer, importer ImportFunc, logger ports.Logger) *Stage {
	return &Stage{
		renderer: renderer,
		importer: importer,
		logger:   logger.WithComponent("source"),
	}
}

// Execute renders input.FrameCount frames.
func (s *Stage) Execute(ctx context.Context, input pipeline.SourceInput) (pipeline.SourceResult, error) {
	result := pipeline.SourceResult{}

	if input.FrameCount <= 0 {
		return result, errors.New("frame count must be positive")
	}
	if input.Framerate == 0 {
		return result, errors.New("framerate must be positive")
	}
	if input.Size.IsEmpty() {
		return result, fmt.Errorf("invalid frame size %s", input.Size)
	}

	s.logger.Debug("Rendering %d %s frames of %s", input.FrameCount, input.Format, input.Size)
	for i := 0; i < input.FrameCount; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		img, err := s.renderer.RenderFrame(i, input.FrameCount, input.Size.Width, input.Size.Height)
		if err != nil {
			return result, fmt.Errorf("render frame %d: %w", i, err)
		}
		frame, err := s.importer(img, input.Format, i)
		if err != nil {
			return result, fmt.Errorf("import frame %d: %w", i, err)
		}
		result.Frames = append(result.Frames, pipeline.SourceFrame{
			Frame:       frame,
			TimestampUs: uint64(i) * 1_000_000 / uint64(input.Framerate),
		})
	}

	return result, nil
}
