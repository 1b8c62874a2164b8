// Package testpattern renders synthetic source frames using the gg library.
package testpattern

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"

	"github.com/user/hwencode/pkg/ports"
)

// Renderer draws a moving test pattern: color bars, a bouncing box and a frame counter.
type Renderer struct {
	bars []color.Color
}

// New creates a new Renderer.
func New() *Renderer {
	return &Renderer{
		bars: []color.Color{
			color.RGBA{192, 192, 192, 255},
			color.RGBA{192, 192, 0, 255},
			color.RGBA{0, 192, 192, 255},
			color.RGBA{0, 192, 0, 255},
			color.RGBA{192, 0, 192, 255},
			color.RGBA{192, 0, 0, 255},
			color.RGBA{0, 0, 192, 255},
		},
	}
}

// RenderFrame draws frame index of total at the given size.
func (r *Renderer) RenderFrame(index, total, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("testpattern: invalid size %dx%d", width, height)
	}

	dc := gg.NewContext(width, height)

	// Color bars
	barW := float64(width) / float64(len(r.bars))
	for i, c := range r.bars {
		dc.SetColor(c)
		dc.DrawRectangle(float64(i)*barW, 0, barW+1, float64(height))
		dc.Fill()
	}

	// Bouncing box
	box := float64(min(width, height)) / 6
	span := float64(width) - box
	pos := 0.0
	if span > 0 {
		period := 2 * span
		p := float64(index*8) - period*float64(int(float64(index*8)/period))
		if p > span {
			p = period - p
		}
		pos = p
	}
	dc.SetColor(color.White)
	dc.DrawRectangle(pos, float64(height)/2-box/2, box, box)
	dc.Fill()

	// Progress bar
	if total > 0 {
		dc.SetColor(color.Black)
		dc.DrawRectangle(0, float64(height)-6, float64(width), 6)
		dc.Fill()
		dc.SetColor(color.RGBA{255, 64, 64, 255})
		dc.DrawRectangle(0, float64(height)-6, float64(width)*float64(index+1)/float64(total), 6)
		dc.Fill()
	}

	// Frame counter
	dc.SetColor(color.Black)
	dc.DrawRectangle(4, 4, 120, 18)
	dc.Fill()
	dc.SetColor(color.White)
	dc.DrawStringAnchored(fmt.Sprintf("frame %d", index), 8, 13, 0, 0.5)

	return dc.Image(), nil
}

var _ ports.FrameRenderer = (*Renderer)(nil)
