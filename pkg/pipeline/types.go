package pipeline

import "fmt"

// =============================================================================
// Common Types
// =============================================================================

// Size represents width and height in pixels.
type Size struct {
	Width  int
	Height int
}

// Area returns the number of pixels covered by the size.
func (s Size) Area() int {
	return s.Width * s.Height
}

// Contains reports whether a rectangle of size o fits inside s.
func (s Size) Contains(o Size) bool {
	return o.Width <= s.Width && o.Height <= s.Height
}

// IsEmpty reports whether either dimension is zero or negative.
func (s Size) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rect represents a rectangular area.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Size returns the rectangle's dimensions.
func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d) %dx%d", r.X, r.Y, r.Width, r.Height)
}

// RectOf returns a rectangle at the origin with the given size.
func RectOf(s Size) Rect {
	return Rect{Width: s.Width, Height: s.Height}
}

// =============================================================================
// Formats
// =============================================================================

// Fourcc is a four character code identifying a device buffer format.
type Fourcc uint32

// MakeFourcc builds a Fourcc from its four characters.
func MakeFourcc(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

func (f Fourcc) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

var (
	FourccNV12 = MakeFourcc('N', 'V', '1', '2')
	FourccNV21 = MakeFourcc('N', 'V', '2', '1')
	FourccI420 = MakeFourcc('Y', 'U', '1', '2')
	FourccYV12 = MakeFourcc('Y', 'V', '1', '2')
	FourccRGBA = MakeFourcc('A', 'B', '2', '4')
	FourccH264 = MakeFourcc('H', '2', '6', '4')
	FourccVP8  = MakeFourcc('V', 'P', '8', '0')
	FourccVP9  = MakeFourcc('V', 'P', '9', '0')
)

// PixelFormat identifies the layout of a raw video frame.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatI420
	PixelFormatYV12
	PixelFormatRGBA
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatNV21:
		return "nv21"
	case PixelFormatI420:
		return "i420"
	case PixelFormatYV12:
		return "yv12"
	case PixelFormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// ParsePixelFormat parses a lower-case pixel format name.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, p := range []PixelFormat{PixelFormatNV12, PixelFormatNV21, PixelFormatI420, PixelFormatYV12, PixelFormatRGBA} {
		if p.String() == s {
			return p, nil
		}
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// Fourcc returns the device format code for the pixel format.
func (p PixelFormat) Fourcc() Fourcc {
	switch p {
	case PixelFormatNV12:
		return FourccNV12
	case PixelFormatNV21:
		return FourccNV21
	case PixelFormatI420:
		return FourccI420
	case PixelFormatYV12:
		return FourccYV12
	case PixelFormatRGBA:
		return FourccRGBA
	default:
		return 0
	}
}

// PixelFormatFromFourcc is the inverse of PixelFormat.Fourcc.
func PixelFormatFromFourcc(f Fourcc) PixelFormat {
	switch f {
	case FourccNV12:
		return PixelFormatNV12
	case FourccNV21:
		return PixelFormatNV21
	case FourccI420:
		return PixelFormatI420
	case FourccYV12:
		return PixelFormatYV12
	case FourccRGBA:
		return PixelFormatRGBA
	default:
		return PixelFormatUnknown
	}
}

// PlaneCount returns the number of color planes of the format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatNV12, PixelFormatNV21:
		return 2
	case PixelFormatI420, PixelFormatYV12:
		return 3
	case PixelFormatRGBA:
		return 1
	default:
		return 0
	}
}

// PlaneLayout describes where a color plane lives inside a buffer.
type PlaneLayout struct {
	Offset int
	Stride int
	Size   int
}

// Layout returns the tightly packed plane layout of a frame of the given size.
// Chroma planes round odd dimensions up.
func (p PixelFormat) Layout(size Size) []PlaneLayout {
	w, h := size.Width, size.Height
	cw, ch := (w+1)/2, (h+1)/2
	var planes []PlaneLayout
	switch p {
	case PixelFormatNV12, PixelFormatNV21:
		planes = []PlaneLayout{
			{Stride: w, Size: w * h},
			{Stride: cw * 2, Size: cw * 2 * ch},
		}
	case PixelFormatI420, PixelFormatYV12:
		planes = []PlaneLayout{
			{Stride: w, Size: w * h},
			{Stride: cw, Size: cw * ch},
			{Stride: cw, Size: cw * ch},
		}
	case PixelFormatRGBA:
		planes = []PlaneLayout{{Stride: w * 4, Size: w * 4 * h}}
	}
	offset := 0
	for i := range planes {
		planes[i].Offset = offset
		offset += planes[i].Size
	}
	return planes
}

// AllocationSize returns the number of bytes needed to hold all planes.
func (p PixelFormat) AllocationSize(size Size) int {
	total := 0
	for _, pl := range p.Layout(size) {
		total += pl.Size
	}
	return total
}

// Profile identifies the requested output codec profile.
type Profile int

const (
	ProfileUnknown Profile = iota
	ProfileH264Baseline
	ProfileH264Main
	ProfileH264High
	ProfileVP8
	ProfileVP9
)

func (p Profile) String() string {
	switch p {
	case ProfileH264Baseline:
		return "h264-baseline"
	case ProfileH264Main:
		return "h264-main"
	case ProfileH264High:
		return "h264-high"
	case ProfileVP8:
		return "vp8"
	case ProfileVP9:
		return "vp9"
	default:
		return "unknown"
	}
}

// ParseProfile parses a profile name such as "h264-main".
func ParseProfile(s string) (Profile, error) {
	for _, p := range []Profile{ProfileH264Baseline, ProfileH264Main, ProfileH264High, ProfileVP8, ProfileVP9} {
		if p.String() == s {
			return p, nil
		}
	}
	return ProfileUnknown, fmt.Errorf("unknown profile %q", s)
}

// IsH264 reports whether the profile belongs to the H.264 family.
func (p Profile) IsH264() bool {
	return p == ProfileH264Baseline || p == ProfileH264Main || p == ProfileH264High
}

// Fourcc returns the coded device format for the profile.
func (p Profile) Fourcc() Fourcc {
	switch {
	case p.IsH264():
		return FourccH264
	case p == ProfileVP8:
		return FourccVP8
	case p == ProfileVP9:
		return FourccVP9
	default:
		return 0
	}
}

// H264Level is an H.264 level number multiplied by ten (e.g. 40 for 4.0).
type H264Level int

const DefaultH264Level H264Level = 40
