// Package orchestrator coordinates all pipeline stages.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ideamans/go-l10n"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// Config contains all configuration for the orchestrator.
type Config struct {
	// Output
	OutputPath string

	// Source
	Visible     pipeline.Size
	InputFormat pipeline.PixelFormat
	FrameCount  int
	Framerate   uint32

	// Encoding
	Profile            pipeline.Profile
	RequestCodecConfig bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		OutputPath:  "output.mp4",
		Visible:     pipeline.Size{Width: 1280, Height: 720},
		InputFormat: pipeline.PixelFormatNV12,
		FrameCount:  90,
		Framerate:   30,
		Profile:     pipeline.ProfileH264Main,
	}
}

// Orchestrator coordinates the execution of all pipeline stages.
type Orchestrator struct {
	sourceStage pipeline.Stage[pipeline.SourceInput, pipeline.SourceResult]
	encodeStage pipeline.Stage[pipeline.EncodeInput, pipeline.EncodeResult]
	muxStage    pipeline.Stage[pipeline.MuxInput, pipeline.MuxResult]
	fs          ports.FileSystem
	sink        ports.DebugSink
	logger      ports.Logger
}

// New creates a new Orchestrator.
func New(
	sourceStage pipeline.Stage[pipeline.SourceInput, pipeline.SourceResult],
	encodeStage pipeline.Stage[pipeline.EncodeInput, pipeline.EncodeResult],
	muxStage pipeline.Stage[pipeline.MuxInput, pipeline.MuxResult],
	fs ports.FileSystem,
	sink ports.DebugSink,
	logger ports.Logger,
) *Orchestrator {
	return &Orchestrator{
		sourceStage: sourceStage,
		encodeStage: encodeStage,
		muxStage:    muxStage,
		fs:          fs,
		sink:        sink,
		logger:      logger,
	}
}

// Run executes the complete pipeline.
func (o *Orchestrator) Run(ctx context.Context, config Config) (RunResult, error) {
	started := time.Now()
	o.logger.Info(l10n.T("Starting pipeline"))

	// 1. Generate frames
	o.logger.Info(l10n.F("Rendering %d frames at %dx%d", config.FrameCount, config.Visible.Width, config.Visible.Height))
	source, err := o.sourceStage.Execute(ctx, pipeline.SourceInput{
		Size:       config.Visible,
		Format:     config.InputFormat,
		FrameCount: config.FrameCount,
		Framerate:  config.Framerate,
	})
	if err != nil {
		o.logger.Error(l10n.F("Failed to render frames: %s", err))
		return RunResult{}, fmt.Errorf("source stage: %w", err)
	}

	// 2. Encode
	o.logger.Info(l10n.F("Encoding %d frames as %s", len(source.Frames), config.Profile))
	encoded, err := o.encodeStage.Execute(ctx, pipeline.EncodeInput{
		Frames:             source.Frames,
		RequestCodecConfig: config.RequestCodecConfig,
	})
	if err != nil {
		o.logger.Error(l10n.F("Failed to encode video: %s", err))
		return RunResult{}, fmt.Errorf("encode stage: %w", err)
	}
	o.logger.Info(l10n.F("Encoded %d frames, %d key frames, %d bytes", len(encoded.Frames), encoded.KeyFrames, encoded.TotalBytes))

	if o.sink.Enabled() {
		o.saveDebugOutput(encoded)
	}

	// 3. Mux
	muxed, err := o.muxStage.Execute(ctx, pipeline.MuxInput{
		Profile:     config.Profile,
		Visible:     config.Visible,
		Framerate:   config.Framerate,
		CodecConfig: encoded.CodecConfig,
		Frames:      encoded.Frames,
	})
	if err != nil {
		o.logger.Error(l10n.F("Failed to mux video: %s", err))
		return RunResult{}, fmt.Errorf("mux stage: %w", err)
	}

	// 4. Write output file
	if err := o.fs.WriteFile(config.OutputPath, muxed.Data); err != nil {
		o.logger.Error(l10n.F("Failed to write output: %s", err))
		return RunResult{}, fmt.Errorf("write output: %w", err)
	}
	o.logger.Info(l10n.F("Output saved to %s", config.OutputPath))

	result := RunResult{
		OutputPath:   config.OutputPath,
		Container:    muxed.Container,
		CodecInfo:    muxed.CodecInfo,
		FrameCount:   len(encoded.Frames),
		KeyFrames:    encoded.KeyFrames,
		EncodedBytes: encoded.TotalBytes,
		FileSize:     int64(len(muxed.Data)),
		DurationMs:   muxed.DurationMs,
		ElapsedMs:    time.Since(started).Milliseconds(),
	}

	if o.sink.Enabled() {
		if data, err := json.MarshalIndent(result, "", "  "); err == nil {
			if err := o.sink.SaveSummaryJSON(data); err != nil {
				o.logger.Warn("Failed to save summary: %v", err)
			}
		}
	}

	o.logger.Info(l10n.T("Pipeline completed successfully"))
	return result, nil
}

func (o *Orchestrator) saveDebugOutput(encoded pipeline.EncodeResult) {
	if encoded.CodecConfig != nil {
		if err := o.sink.SaveCodecConfig(encoded.CodecConfig); err != nil {
			o.logger.Warn("Failed to save codec config: %v", err)
		}
	}
	for _, f := range encoded.Frames {
		if err := o.sink.SaveBitstream(int(f.Index), f.Data); err != nil {
			o.logger.Warn("Failed to save bitstream %d: %v", f.Index, err)
			return
		}
	}
}

// RunResult contains the results of a pipeline run.
type RunResult struct {
	OutputPath string `json:"outputPath"`
	Container  string `json:"container"`
	CodecInfo  string `json:"codecInfo,omitempty"`

	FrameCount   int   `json:"frameCount"`
	KeyFrames    int   `json:"keyFrames"`
	EncodedBytes int64 `json:"encodedBytes"`
	FileSize     int64 `json:"fileSize"`
	DurationMs   int   `json:"durationMs"` // video duration
	ElapsedMs    int64 `json:"elapsedMs"`  // wall time of the run
}
