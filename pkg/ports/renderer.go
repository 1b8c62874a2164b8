package ports

import (
	"image"
)

// FrameRenderer produces synthetic source frames.
type FrameRenderer interface {
	// RenderFrame draws frame number index of total at the given size.
	RenderFrame(index, total, width, height int) (image.Image, error)
}
