// Package swconverter converts client frames into the YUV layout an encode
// device accepts, in software.
package swconverter

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrUnsupportedFormat is returned for a source or target format that cannot be converted.
	ErrUnsupportedFormat = errors.New("swconverter: unsupported format")

	// ErrNoBuffer is returned when every output buffer is in use.
	ErrNoBuffer = errors.New("swconverter: no free output buffer")

	// ErrUnknownIndex is returned by Return for an index that holds no buffer.
	ErrUnknownIndex = errors.New("swconverter: unknown index")

	// ErrDuplicateIndex is returned when an index is converted twice without a return.
	ErrDuplicateIndex = errors.New("swconverter: index already converted")
)

// blockIDBase keeps converter block IDs apart from client and pool blocks.
const blockIDBase = 1 << 20

// Converter owns a fixed set of output frames. A converted frame stays owned by
// the caller until Return is called with the same index.
type Converter struct {
	format  pipeline.PixelFormat
	visible pipeline.Size
	coded   pipeline.Size

	mu     sync.Mutex
	frames []*pipeline.Frame
	free   []int
	inUse  map[uint64]int
}

// New creates a converter producing count frames of format at the coded size.
// The picture is written into the visible area at the top-left corner.
func New(format pipeline.PixelFormat, visible, coded pipeline.Size, count int) (*Converter, error) {
	switch format {
	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21, pipeline.PixelFormatI420, pipeline.PixelFormatYV12:
	default:
		return nil, fmt.Errorf("%w: target %s", ErrUnsupportedFormat, format)
	}
	if visible.IsEmpty() || !coded.Contains(visible) {
		return nil, fmt.Errorf("swconverter: visible %s does not fit coded %s", visible, coded)
	}
	if count <= 0 {
		return nil, fmt.Errorf("swconverter: invalid buffer count %d", count)
	}

	c := &Converter{
		format:  format,
		visible: visible,
		coded:   coded,
		inUse:   make(map[uint64]int),
	}
	for i := 0; i < count; i++ {
		f := pipeline.NewFrame(format, coded, blockIDBase+i)
		fillBlack(f)
		c.frames = append(c.frames, f)
		c.free = append(c.free, i)
	}
	return c, nil
}

// Factory returns a ports.ConverterFactory creating software converters.
func Factory() ports.ConverterFactory {
	return func(format pipeline.PixelFormat, visible, coded pipeline.Size, count int) (ports.FormatConverter, error) {
		return New(format, visible, coded, count)
	}
}

// IsReady reports whether an output buffer is free.
func (c *Converter) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.free) > 0
}

// Convert writes src into a free output frame and returns it.
func (c *Converter) Convert(index uint64, src *pipeline.Frame) (*pipeline.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.free) == 0 {
		return nil, ErrNoBuffer
	}
	if _, ok := c.inUse[index]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, index)
	}

	img, err := toImage(src)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Size() != image.Pt(c.visible.Width, c.visible.Height) {
		scaled := image.NewRGBA(image.Rect(0, 0, c.visible.Width, c.visible.Height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = scaled
	}

	slot := c.free[0]
	c.free = c.free[1:]
	dst := c.frames[slot]
	writeYUV(dst, img, c.visible)
	c.inUse[index] = slot
	return dst, nil
}

// Return releases the output frame converted for index.
func (c *Converter) Return(index uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.inUse[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownIndex, index)
	}
	delete(c.inUse, index)
	c.free = append(c.free, slot)
	return nil
}

// FromImage copies img into a new frame of the given format, sized to the
// image bounds.
func FromImage(img image.Image, format pipeline.PixelFormat, blockID int) (*pipeline.Frame, error) {
	b := img.Bounds()
	size := pipeline.Size{Width: b.Dx(), Height: b.Dy()}
	if size.IsEmpty() {
		return nil, fmt.Errorf("swconverter: empty image %s", size)
	}
	if b.Min != (image.Point{}) {
		moved := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
		draw.Draw(moved, moved.Bounds(), img, b.Min, draw.Src)
		img = moved
	}

	f := pipeline.NewFrame(format, size, blockID)
	switch format {
	case pipeline.PixelFormatRGBA:
		dst := &image.RGBA{Pix: f.Planes[0].Bytes(), Stride: f.Planes[0].Stride, Rect: image.Rect(0, 0, size.Width, size.Height)}
		draw.Draw(dst, dst.Bounds(), img, image.Point{}, draw.Src)
	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21, pipeline.PixelFormatI420, pipeline.PixelFormatYV12:
		writeYUV(f, img, size)
	default:
		return nil, fmt.Errorf("%w: target %s", ErrUnsupportedFormat, format)
	}
	return f, nil
}

// =============================================================================
// Pixel conversion
// =============================================================================

// toImage wraps a frame's planes as an image without copying where possible.
func toImage(f *pipeline.Frame) (image.Image, error) {
	w, h := f.Size.Width, f.Size.Height
	if len(f.Planes) != f.Format.PlaneCount() || f.Format == pipeline.PixelFormatUnknown {
		return nil, fmt.Errorf("%w: source %s with %d planes", ErrUnsupportedFormat, f.Format, len(f.Planes))
	}
	rect := image.Rect(0, 0, w, h)

	switch f.Format {
	case pipeline.PixelFormatRGBA:
		return &image.RGBA{Pix: f.Planes[0].Bytes(), Stride: f.Planes[0].Stride, Rect: rect}, nil

	case pipeline.PixelFormatI420, pipeline.PixelFormatYV12:
		cb, cr := f.Planes[1], f.Planes[2]
		if f.Format == pipeline.PixelFormatYV12 {
			cb, cr = cr, cb
		}
		return &image.YCbCr{
			Y:              f.Planes[0].Bytes(),
			Cb:             cb.Bytes(),
			Cr:             cr.Bytes(),
			YStride:        f.Planes[0].Stride,
			CStride:        cb.Stride,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil

	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		y := f.Planes[0]
		for row := 0; row < h; row++ {
			copy(img.Y[row*img.YStride:row*img.YStride+w], y.Bytes()[row*y.Stride:])
		}
		uv := f.Planes[1]
		uvBytes := uv.Bytes()
		cw, ch := (w+1)/2, (h+1)/2
		for row := 0; row < ch; row++ {
			for col := 0; col < cw; col++ {
				u, v := uvBytes[row*uv.Stride+2*col], uvBytes[row*uv.Stride+2*col+1]
				if f.Format == pipeline.PixelFormatNV21 {
					u, v = v, u
				}
				img.Cb[row*img.CStride+col] = u
				img.Cr[row*img.CStride+col] = v
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: source %s", ErrUnsupportedFormat, f.Format)
}

// writeYUV writes the visible area of dst from img.
func writeYUV(dst *pipeline.Frame, img image.Image, visible pipeline.Size) {
	if src, ok := img.(*image.YCbCr); ok && src.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		copyYCbCr(dst, src, visible)
		return
	}

	y := dst.Planes[0]
	yBytes := y.Bytes()
	for row := 0; row < visible.Height; row++ {
		for col := 0; col < visible.Width; col++ {
			r, g, b := rgbAt(img, col, row)
			yy, _, _ := color.RGBToYCbCr(r, g, b)
			yBytes[row*y.Stride+col] = yy
		}
	}

	cw, ch := (visible.Width+1)/2, (visible.Height+1)/2
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			// Average the 2x2 block, clamping at odd edges.
			var sr, sg, sb, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px, py := 2*col+dx, 2*row+dy
					if px >= visible.Width || py >= visible.Height {
						continue
					}
					r, g, b := rgbAt(img, px, py)
					sr, sg, sb, n = sr+int(r), sg+int(g), sb+int(b), n+1
				}
			}
			_, cb, cr := color.RGBToYCbCr(uint8(sr/n), uint8(sg/n), uint8(sb/n))
			setChroma(dst, col, row, cb, cr)
		}
	}
}

func copyYCbCr(dst *pipeline.Frame, src *image.YCbCr, visible pipeline.Size) {
	y := dst.Planes[0]
	for row := 0; row < visible.Height; row++ {
		copy(y.Bytes()[row*y.Stride:row*y.Stride+visible.Width], src.Y[src.YOffset(0, row):])
	}
	cw, ch := (visible.Width+1)/2, (visible.Height+1)/2
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			i := src.COffset(2*col, 2*row)
			setChroma(dst, col, row, src.Cb[i], src.Cr[i])
		}
	}
}

func setChroma(dst *pipeline.Frame, col, row int, cb, cr uint8) {
	switch dst.Format {
	case pipeline.PixelFormatNV12, pipeline.PixelFormatNV21:
		uv := dst.Planes[1]
		b := uv.Bytes()
		if dst.Format == pipeline.PixelFormatNV21 {
			cb, cr = cr, cb
		}
		b[row*uv.Stride+2*col] = cb
		b[row*uv.Stride+2*col+1] = cr
	case pipeline.PixelFormatI420, pipeline.PixelFormatYV12:
		u, v := dst.Planes[1], dst.Planes[2]
		if dst.Format == pipeline.PixelFormatYV12 {
			u, v = v, u
		}
		u.Bytes()[row*u.Stride+col] = cb
		v.Bytes()[row*v.Stride+col] = cr
	}
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		return rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
	}
	c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
	return c.R, c.G, c.B
}

// fillBlack paints a frame black.
func fillBlack(f *pipeline.Frame) {
	for i, p := range f.Planes {
		v := byte(128)
		if i == 0 {
			v = 0
		}
		b := p.Bytes()
		for j := range b {
			b[j] = v
		}
	}
}

var _ ports.FormatConverter = (*Converter)(nil)
