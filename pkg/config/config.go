// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/user/hwencode/pkg/adapters/simdevice"
	"github.com/user/hwencode/pkg/component"
	"github.com/user/hwencode/pkg/orchestrator"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrInvalid is wrapped by every validation error.
	ErrInvalid = errors.New("config: invalid configuration")
	// ErrNotFound is returned by Load when the file does not exist.
	ErrNotFound = errors.New("config: file not found")
)

// Config represents the full configuration for hwencode.
type Config struct {
	// Output
	OutputPath string `yaml:"output"`

	// Source
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	InputFormat string `yaml:"input_format"`
	Frames      int    `yaml:"frames"`

	// Encoding
	Profile            string `yaml:"profile"`
	Level              int    `yaml:"level"`
	Bitrate            uint32 `yaml:"bitrate"`
	Framerate          uint32 `yaml:"framerate"`
	KeyFramePeriod     int    `yaml:"key_frame_period"`
	InputBuffers       int    `yaml:"input_buffers"`
	OutputBuffers      int    `yaml:"output_buffers"`
	RequestCodecConfig bool   `yaml:"request_codec_config"`

	// Device describes the simulated encoder.
	Device DeviceConfig `yaml:"device"`

	// OutputBlockLimit caps outstanding output blocks. Zero means unlimited.
	OutputBlockLimit int `yaml:"output_block_limit"`

	// Status server
	MetricsAddr string `yaml:"metrics_addr"`

	// Debug
	Debug    bool   `yaml:"debug"`
	DebugDir string `yaml:"debug_dir"`
}

// DeviceConfig represents the simulated device settings.
type DeviceConfig struct {
	InputFormats []string `yaml:"input_formats"`
	Alignment    int      `yaml:"alignment"`
	MaxWidth     int      `yaml:"max_width"`
	MaxHeight    int      `yaml:"max_height"`
	MaxBuffers   int      `yaml:"max_buffers"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		OutputPath: "output.mp4",

		// Source
		Width:       1280,
		Height:      720,
		InputFormat: "nv12",
		Frames:      90,

		// Encoding
		Profile:        "h264-main",
		Level:          int(pipeline.DefaultH264Level),
		Bitrate:        4_000_000,
		Framerate:      30,
		KeyFramePeriod: 30,
		InputBuffers:   component.DefaultInputBufferCount,
		OutputBuffers:  component.DefaultOutputBufferCount,

		// Device
		Device: DeviceConfig{
			InputFormats: []string{"nv12", "i420"},
			Alignment:    16,
			MaxWidth:     4096,
			MaxHeight:    2304,
		},

		// Debug
		DebugDir: "./debug",
	}
}

// Load reads a YAML file through fs and decodes it over the defaults.
func Load(fs ports.FileSystem, path string) (Config, error) {
	ok, err := fs.Exists(path)
	if err != nil {
		return Defaults(), err
	}
	if !ok {
		return Defaults(), fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path is required"))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid size %dx%d", c.Width, c.Height))
	}
	if c.Frames <= 0 {
		errs = append(errs, fmt.Errorf("frames must be positive, got %d", c.Frames))
	}
	if _, err := pipeline.ParsePixelFormat(c.InputFormat); err != nil {
		errs = append(errs, err)
	}
	if _, err := pipeline.ParseProfile(c.Profile); err != nil {
		errs = append(errs, err)
	}
	if c.Bitrate == 0 {
		errs = append(errs, errors.New("bitrate must be positive"))
	}
	if c.Framerate == 0 {
		errs = append(errs, errors.New("framerate must be positive"))
	}
	if c.InputBuffers <= 0 || c.OutputBuffers <= 0 {
		errs = append(errs, errors.New("buffer counts must be positive"))
	}
	if c.OutputBlockLimit < 0 {
		errs = append(errs, errors.New("output block limit must not be negative"))
	}
	for _, f := range c.Device.InputFormats {
		if _, err := pipeline.ParsePixelFormat(f); err != nil {
			errs = append(errs, fmt.Errorf("device: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ToComponentConfig converts Config to component.Config.
func (c Config) ToComponentConfig() (component.Config, error) {
	format, err := pipeline.ParsePixelFormat(c.InputFormat)
	if err != nil {
		return component.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	profile, err := pipeline.ParseProfile(c.Profile)
	if err != nil {
		return component.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return component.Config{
		Visible:           pipeline.Size{Width: c.Width, Height: c.Height},
		InputFormat:       format,
		Profile:           profile,
		Level:             pipeline.H264Level(c.Level),
		Bitrate:           c.Bitrate,
		Framerate:         c.Framerate,
		KeyFramePeriod:    c.KeyFramePeriod,
		InputBufferCount:  c.InputBuffers,
		OutputBufferCount: c.OutputBuffers,
	}, nil
}

// ToOrchestratorConfig converts Config to orchestrator.Config.
func (c Config) ToOrchestratorConfig() (orchestrator.Config, error) {
	cc, err := c.ToComponentConfig()
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		OutputPath: c.OutputPath,

		Visible:     cc.Visible,
		InputFormat: cc.InputFormat,
		FrameCount:  c.Frames,
		Framerate:   c.Framerate,

		Profile:            cc.Profile,
		RequestCodecConfig: c.RequestCodecConfig,
	}, nil
}

// ToDeviceConfig converts the device section to simdevice.Config.
func (c Config) ToDeviceConfig() (simdevice.Config, error) {
	dc := simdevice.DefaultConfig()
	if len(c.Device.InputFormats) > 0 {
		dc.InputFormats = nil
		for _, name := range c.Device.InputFormats {
			f, err := pipeline.ParsePixelFormat(name)
			if err != nil {
				return dc, fmt.Errorf("%w: device: %w", ErrInvalid, err)
			}
			dc.InputFormats = append(dc.InputFormats, f.Fourcc())
		}
		dc.Preferred = dc.InputFormats
	}
	if c.Device.Alignment > 0 {
		dc.Alignment = c.Device.Alignment
	}
	if c.Device.MaxWidth > 0 && c.Device.MaxHeight > 0 {
		dc.MaxCodedSize = pipeline.Size{Width: c.Device.MaxWidth, Height: c.Device.MaxHeight}
	}
	dc.MaxBuffers = c.Device.MaxBuffers
	return dc, nil
}
