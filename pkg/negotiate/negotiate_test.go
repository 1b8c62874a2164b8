package negotiate

import (
	"errors"
	"testing"

	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/adapters/simdevice"
	"github.com/user/hwencode/pkg/devqueue"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

func newNegotiator(t *testing.T, cfg simdevice.Config, coded pipeline.Fourcc) (*Negotiator, *simdevice.Device) {
	t.Helper()
	dev := simdevice.New(cfg)
	if err := dev.Open(ports.DeviceEncoder, coded); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	log := logger.NewNoop()
	in := devqueue.New(ports.DirectionInput, dev.Queue(ports.DirectionInput), log)
	out := devqueue.New(ports.DirectionOutput, dev.Queue(ports.DirectionOutput), log)
	return New(dev, in, out, log), dev
}

func TestMaxOutputBufferSize(t *testing.T) {
	tests := []struct {
		name string
		size pipeline.Size
		want int
	}{
		{"vga", pipeline.Size{Width: 640, Height: 480}, 2 * mib},
		{"1080p", pipeline.Size{Width: 1920, Height: 1080}, 2 * mib},
		{"1440p", pipeline.Size{Width: 2560, Height: 1440}, 4 * mib},
		{"just above 1080p", pipeline.Size{Width: 1920, Height: 1088}, 4 * mib},
		{"4k", pipeline.Size{Width: 3840, Height: 2160}, 8 * mib},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxOutputBufferSize(tt.size); got != tt.want {
				t.Errorf("MaxOutputBufferSize(%s) = %d, want %d", tt.size, got, tt.want)
			}
		})
	}
}

func TestConfigureOutput(t *testing.T) {
	n, _ := newNegotiator(t, simdevice.DefaultConfig(), pipeline.FourccH264)
	size, err := n.ConfigureOutput(pipeline.ProfileH264Main, pipeline.Size{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}
	if size != 2*mib {
		t.Errorf("expected 2 MiB, got %d", size)
	}
}

func TestConfigureOutput_DeviceRaisesBufferSize(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.MinOutputBufferSize = 6 * mib
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)
	size, err := n.ConfigureOutput(pipeline.ProfileH264Baseline, pipeline.Size{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}
	if size != 6*mib {
		t.Errorf("expected device size 6 MiB, got %d", size)
	}
}

func TestConfigureOutput_Rejected(t *testing.T) {
	n, _ := newNegotiator(t, simdevice.DefaultConfig(), pipeline.FourccH264)
	if _, err := n.ConfigureOutput(pipeline.ProfileVP8, pipeline.Size{Width: 640, Height: 480}); !errors.Is(err, ErrOutputFormat) {
		t.Errorf("expected ErrOutputFormat, got %v", err)
	}
	if _, err := n.ConfigureOutput(pipeline.ProfileUnknown, pipeline.Size{Width: 640, Height: 480}); !errors.Is(err, ErrOutputFormat) {
		t.Errorf("expected ErrOutputFormat for unknown profile, got %v", err)
	}
}

func TestConfigureInput_Preferred(t *testing.T) {
	n, dev := newNegotiator(t, simdevice.DefaultConfig(), pipeline.FourccH264)
	visible := pipeline.Size{Width: 1280, Height: 720}

	layout, err := n.ConfigureInput(pipeline.PixelFormatI420, visible)
	if err != nil {
		t.Fatalf("ConfigureInput failed: %v", err)
	}
	if layout.Format != pipeline.PixelFormatI420 || layout.NeedsConversion {
		t.Errorf("expected I420 without conversion, got %s (conversion %v)", layout.Format, layout.NeedsConversion)
	}
	if len(layout.Planes) != 3 {
		t.Errorf("expected 3 planes, got %d", len(layout.Planes))
	}
	if layout.Visible.Size() != visible || dev.Visible().Size() != visible {
		t.Errorf("expected visible %s, got %s", visible, layout.Visible)
	}
}

func TestConfigureInput_FallsBackToDeviceFormat(t *testing.T) {
	n, _ := newNegotiator(t, simdevice.DefaultConfig(), pipeline.FourccH264)

	layout, err := n.ConfigureInput(pipeline.PixelFormatRGBA, pipeline.Size{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("ConfigureInput failed: %v", err)
	}
	if layout.Format != pipeline.PixelFormatNV12 || !layout.NeedsConversion {
		t.Errorf("expected NV12 with conversion, got %s (conversion %v)", layout.Format, layout.NeedsConversion)
	}
}

func TestConfigureInput_SkipsUnknownPreferred(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.InputFormats = []pipeline.Fourcc{pipeline.FourccI420}
	cfg.Preferred = []pipeline.Fourcc{pipeline.MakeFourcc('M', 'T', '2', '1'), pipeline.FourccNV12, pipeline.FourccI420}
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)

	layout, err := n.ConfigureInput(pipeline.PixelFormatNV12, pipeline.Size{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("ConfigureInput failed: %v", err)
	}
	if layout.Format != pipeline.PixelFormatI420 {
		t.Errorf("expected I420, got %s", layout.Format)
	}
}

func TestConfigureInput_NoFormat(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.InputFormats = []pipeline.Fourcc{pipeline.FourccYV12}
	cfg.Preferred = []pipeline.Fourcc{pipeline.FourccNV12}
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)

	if _, err := n.ConfigureInput(pipeline.PixelFormatNV12, pipeline.Size{Width: 640, Height: 480}); !errors.Is(err, ErrInputFormat) {
		t.Errorf("expected ErrInputFormat, got %v", err)
	}
}

func TestConfigureInput_CodedSizeTooSmall(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.MaxCodedSize = pipeline.Size{Width: 1920, Height: 1088}
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)

	if _, err := n.ConfigureInput(pipeline.PixelFormatNV12, pipeline.Size{Width: 3840, Height: 2160}); !errors.Is(err, ErrCodedSize) {
		t.Errorf("expected ErrCodedSize, got %v", err)
	}
}

func TestConfigureInput_CropFallback(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.NoSelection = true
	cfg.VisibleAlignment = 16
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)

	layout, err := n.ConfigureInput(pipeline.PixelFormatNV12, pipeline.Size{Width: 1000, Height: 500})
	if err != nil {
		t.Fatalf("ConfigureInput failed: %v", err)
	}
	// The rectangle the device actually applied wins.
	if layout.Visible.Width != 992 || layout.Visible.Height != 496 {
		t.Errorf("expected adjusted 992x496, got %s", layout.Visible)
	}
	if layout.CodedSize != (pipeline.Size{Width: 1008, Height: 512}) {
		t.Errorf("unexpected coded size %s", layout.CodedSize)
	}
}

func TestConfigureInput_VisibleRectFails(t *testing.T) {
	cfg := simdevice.DefaultConfig()
	cfg.NoSelection = true
	cfg.CropFails = true
	n, _ := newNegotiator(t, cfg, pipeline.FourccH264)

	if _, err := n.ConfigureInput(pipeline.PixelFormatNV12, pipeline.Size{Width: 640, Height: 480}); !errors.Is(err, ErrVisibleRect) {
		t.Errorf("expected ErrVisibleRect, got %v", err)
	}
}
