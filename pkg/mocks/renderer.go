package mocks

import (
	"image"
	"sync"

	"github.com/user/hwencode/pkg/ports"
)

// FrameRenderer is a mock implementation of ports.FrameRenderer.
type FrameRenderer struct {
	RenderFrameFunc func(index, total, width, height int) (image.Image, error)

	mu sync.Mutex
	// Calls records the frame index of every call.
	Calls []int
}

func (m *FrameRenderer) RenderFrame(index, total, width, height int) (image.Image, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, index)
	m.mu.Unlock()
	if m.RenderFrameFunc != nil {
		return m.RenderFrameFunc(index, total, width, height)
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

var _ ports.FrameRenderer = (*FrameRenderer)(nil)
