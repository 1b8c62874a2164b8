// Package main provides the CLI entry point for hwencode.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ideamans/go-l10n"

	"github.com/user/hwencode/pkg/adapters/blockpool"
	"github.com/user/hwencode/pkg/adapters/filesink"
	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/adapters/nullsink"
	"github.com/user/hwencode/pkg/adapters/osfilesystem"
	"github.com/user/hwencode/pkg/adapters/simdevice"
	"github.com/user/hwencode/pkg/adapters/statusserver"
	"github.com/user/hwencode/pkg/adapters/swconverter"
	"github.com/user/hwencode/pkg/adapters/testpattern"
	"github.com/user/hwencode/pkg/component"
	"github.com/user/hwencode/pkg/config"
	"github.com/user/hwencode/pkg/metrics"
	"github.com/user/hwencode/pkg/orchestrator"
	"github.com/user/hwencode/pkg/ports"
	"github.com/user/hwencode/pkg/stages/encode"
	"github.com/user/hwencode/pkg/stages/mux"
	"github.com/user/hwencode/pkg/stages/source"
	"github.com/user/hwencode/pkg/summarizer"
)

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Encode  EncodeCmd  `cmd:"" help:"Encode a synthetic test pattern through the encoder."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// EncodeCmd defines the encode subcommand.
type EncodeCmd struct {
	// Configuration file, overridden by flags
	Config string `short:"c" type:"existingfile" help:"YAML configuration file."`

	// Output
	Output  *string `short:"o" help:"Output file path (default: output.mp4)."`
	Summary string  `short:"s" help:"Write an encode summary to this file (Markdown)."`

	// Source
	Width  *int    `short:"W" help:"Frame width (default: 1280)."`
	Height *int    `short:"H" help:"Frame height (default: 720)."`
	Format *string `short:"f" help:"Input pixel format (nv12, nv21, i420, yv12, rgba)."`
	Frames *int    `short:"n" help:"Number of frames to encode."`

	// Encoding
	Profile        *string `short:"p" help:"Output profile (h264-baseline, h264-main, h264-high, vp8, vp9)."`
	Level          *int    `help:"H.264 level idc (e.g. 31, 40)."`
	Bitrate        *uint32 `short:"b" help:"Target bitrate in bits/sec."`
	Framerate      *uint32 `short:"r" help:"Framerate in frames/sec."`
	KeyFramePeriod *int    `short:"k" help:"Frames between key frames (0 = first frame only)."`
	RequestCSD     bool    `name:"request-csd" help:"Queue an empty item to request codec config first."`

	// Status server
	MetricsAddr *string `help:"Serve status and metrics on this address (e.g. :9090)."`

	// Debug options
	Debug    bool    `short:"d" help:"Enable debug output."`
	DebugDir *string `help:"Directory for debug output."`

	// Logging options
	LogLevel string `short:"l" default:"info" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)."`
	Quiet    bool   `short:"Q" help:"Suppress all log output."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

var version = "dev"

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("hwencode"),
		kong.Description(l10n.T("Drive a memory-to-memory hardware video encoder.")),
		kong.UsageOnError(),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// Run executes the encode command.
func (cmd *EncodeCmd) Run() error {
	fs := osfilesystem.New()
	cfg, err := cmd.buildConfig(fs)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create logger
	var log ports.Logger
	if cmd.Quiet {
		log = logger.NewNoop()
	} else {
		log = logger.NewConsole(ports.ParseLogLevel(cmd.LogLevel))
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Warn(l10n.T("Interrupted, shutting down..."))
			cancel()
		case <-ctx.Done():
		}
	}()

	// Create adapters
	blocks := blockpool.New(cfg.OutputBlockLimit)
	m := metrics.New()

	deviceCfg, err := cfg.ToDeviceConfig()
	if err != nil {
		return err
	}
	componentCfg, err := cfg.ToComponentConfig()
	if err != nil {
		return err
	}
	orchConfig, err := cfg.ToOrchestratorConfig()
	if err != nil {
		return err
	}

	// Create encode component
	comp, err := component.New(componentCfg, component.Deps{
		Devices:    simdevice.Factory(deviceCfg, nil),
		Blocks:     blocks,
		Converters: swconverter.Factory(),
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("create encoder: %w", err)
	}
	defer func() {
		if err := comp.Release(); err != nil {
			log.Warn("Failed to release encoder: %v", err)
		}
	}()

	// Status server
	if cfg.MetricsAddr != "" {
		status := statusserver.New(comp, m, log)
		status.Start(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				log.Warn("Failed to stop status server: %v", err)
			}
		}()
	}

	// Create debug sink
	var sink ports.DebugSink
	if cfg.Debug {
		if err := fs.MkdirAll(cfg.DebugDir); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
		sink = filesink.New(cfg.DebugDir, fs)
	} else {
		sink = nullsink.New()
	}

	// Create stages
	sourceStage := source.NewStage(testpattern.New(), swconverter.FromImage, log)
	encodeStage := encode.NewStage(comp, blocks, log)
	muxStage := mux.NewStage(log)

	// Create orchestrator
	orch := orchestrator.New(
		sourceStage,
		encodeStage,
		muxStage,
		fs,
		sink,
		log,
	)

	result, err := orch.Run(ctx, orchConfig)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New(l10n.T("encoding interrupted"))
		}
		return err
	}

	if cmd.Summary != "" {
		if err := writeSummary(cmd.Summary, cfg, result, m.Snapshot(), fs); err != nil {
			log.Error(l10n.F("Failed to write summary: %s", err.Error()))
		} else {
			log.Info(l10n.F("Summary saved to %s", cmd.Summary))
		}
	}
	return nil
}

// buildConfig loads the configuration file, if any, and applies flag overrides.
func (cmd *EncodeCmd) buildConfig(fs ports.FileSystem) (config.Config, error) {
	cfg := config.Defaults()
	if cmd.Config != "" {
		loaded, err := config.Load(fs, cmd.Config)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Output != nil {
		cfg.OutputPath = *cmd.Output
	}
	if cmd.Width != nil {
		cfg.Width = *cmd.Width
	}
	if cmd.Height != nil {
		cfg.Height = *cmd.Height
	}
	if cmd.Format != nil {
		cfg.InputFormat = *cmd.Format
	}
	if cmd.Frames != nil {
		cfg.Frames = *cmd.Frames
	}
	if cmd.Profile != nil {
		cfg.Profile = *cmd.Profile
	}
	if cmd.Level != nil {
		cfg.Level = *cmd.Level
	}
	if cmd.Bitrate != nil {
		cfg.Bitrate = *cmd.Bitrate
	}
	if cmd.Framerate != nil {
		cfg.Framerate = *cmd.Framerate
	}
	if cmd.KeyFramePeriod != nil {
		cfg.KeyFramePeriod = *cmd.KeyFramePeriod
	}
	if cmd.RequestCSD {
		cfg.RequestCodecConfig = true
	}
	if cmd.MetricsAddr != nil {
		cfg.MetricsAddr = *cmd.MetricsAddr
	}
	if cmd.Debug {
		cfg.Debug = true
	}
	if cmd.DebugDir != nil {
		cfg.DebugDir = *cmd.DebugDir
	}
	return cfg, nil
}

// writeSummary writes the Markdown report of a finished run.
func writeSummary(path string, cfg config.Config, result orchestrator.RunResult, snap metrics.Snapshot, fs ports.FileSystem) error {
	summary := summarizer.NewBuilder().
		WithSettings(summarizer.Settings{
			Profile:        cfg.Profile,
			Width:          cfg.Width,
			Height:         cfg.Height,
			InputFormat:    cfg.InputFormat,
			Bitrate:        cfg.Bitrate,
			Framerate:      cfg.Framerate,
			KeyFramePeriod: cfg.KeyFramePeriod,
		}).
		WithEncoding(result.FrameCount, result.KeyFrames, result.EncodedBytes, result.ElapsedMs).
		WithOutput(summarizer.OutputInfo{
			Path:       result.OutputPath,
			Container:  result.Container,
			CodecInfo:  result.CodecInfo,
			FileSize:   result.FileSize,
			DurationMs: result.DurationMs,
		}).
		WithCounters(summarizer.Counters{
			ItemsQueued:    snap.ItemsQueued,
			ItemsCompleted: snap.ItemsCompleted,
			ItemsAborted:   snap.ItemsAborted,
			Drains:         snap.Drains,
			Flushes:        snap.Flushes,
			Errors:         snap.Errors,
		}).
		Build()

	formatter := summarizer.NewMarkdownFormatter(
		summarizer.WithTranslator(l10n.T),
		summarizer.WithVersion(version),
	)
	return summarizer.NewWriter(formatter, fs).Write(path, summary)
}

// Run executes the version command.
func (cmd *VersionCmd) Run() error {
	fmt.Println(l10n.F("hwencode version %s", version))
	return nil
}
