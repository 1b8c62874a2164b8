// Package mux implements the container stage. H.264 streams are written as a
// single-fragment MP4, other codecs as their raw elementary stream.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/hwencode/pkg/bitstream"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// Container names reported in MuxResult.
const (
	ContainerMP4 = "mp4"
	ContainerRaw = "raw"
)

var (
	// ErrNoFrames is returned when there is nothing to mux.
	ErrNoFrames = errors.New("mux: no frames")

	// ErrNoCodecConfig is returned when an H.264 stream carries no SPS/PPS.
	ErrNoCodecConfig = errors.New("mux: no codec config")
)

// Stage packs encoded frames into a container.
type Stage struct {
	logger ports.Logger
}

// NewStage creates a new mux stage.
func NewStage(logger ports.Logger) *Stage {
	return &Stage{logger: logger.WithComponent("mux")}
}

// Execute builds the container.
func (s *Stage) Execute(ctx context.Context, input pipeline.MuxInput) (pipeline.MuxResult, error) {
	result := pipeline.MuxResult{}

	if len(input.Frames) == 0 {
		return result, ErrNoFrames
	}
	if input.Framerate == 0 {
		return result, fmt.Errorf("mux: framerate must be positive")
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	frameUs := 1_000_000 / uint64(input.Framerate)
	last := input.Frames[len(input.Frames)-1]
	result.DurationMs = int((last.TimestampUs + frameUs) / 1000)

	if !input.Profile.IsH264() {
		var buf bytes.Buffer
		for _, f := range input.Frames {
			buf.Write(f.Data)
		}
		result.Data = buf.Bytes()
		result.Container = ContainerRaw
		return result, nil
	}

	csd := input.CodecConfig
	if csd == nil {
		csd = findCodecConfig(input.Frames)
	}
	if csd == nil {
		return result, ErrNoCodecConfig
	}
	if info, err := bitstream.Describe(csd); err == nil {
		result.CodecInfo = info.String()
	} else {
		s.logger.Warn("Failed to parse SPS: %v", err)
	}

	data, err := buildMP4(input, csd)
	if err != nil {
		return result, err
	}
	s.logger.Debug("Muxed %d frames into %d bytes", len(input.Frames), len(data))
	result.Data = data
	result.Container = ContainerMP4
	return result, nil
}

// findCodecConfig extracts the parameter sets from the first key frame that has them.
func findCodecConfig(frames []pipeline.EncodedFrame) []byte {
	for _, f := range frames {
		if !f.KeyFrame {
			continue
		}
		if csd, err := bitstream.ExtractCodecConfig(f.Data); err == nil {
			return csd
		}
	}
	return nil
}

// buildMP4 creates a fragmented MP4 with one track and one fragment.
func buildMP4(input pipeline.MuxInput, csd []byte) ([]byte, error) {
	timescale := input.Framerate * 1000
	trackID := uint32(1)

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	trak := init.Moov.Trak

	spss, ppss := bitstream.ParameterSets(csd)
	avcC, err := mp4.CreateAvcC(spss, ppss, true)
	if err != nil {
		return nil, fmt.Errorf("create avcC: %w", err)
	}

	width, height := input.Visible.Width, input.Visible.Height
	avc1 := mp4.CreateVisualSampleEntryBox("avc1", uint16(width), uint16(height), avcC)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(avc1)
	trak.Tkhd.Width = mp4.Fixed32(width << 16)
	trak.Tkhd.Height = mp4.Fixed32(height << 16)

	frag, err := mp4.CreateFragment(1, trackID)
	if err != nil {
		return nil, fmt.Errorf("create fragment: %w", err)
	}

	defaultDur := uint32(timescale / input.Framerate)
	for i, f := range input.Frames {
		dur := defaultDur
		if i < len(input.Frames)-1 {
			next := input.Frames[i+1].TimestampUs
			if next > f.TimestampUs {
				dur = uint32((next - f.TimestampUs) * uint64(timescale) / 1_000_000)
			}
		}
		if dur == 0 {
			dur = defaultDur
		}

		flags := mp4.NonSyncSampleFlags
		if f.KeyFrame {
			flags = mp4.SyncSampleFlags
		}

		sample := bitstream.ToAVCC(f.Data)
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Size:  uint32(len(sample)),
				Dur:   dur,
			},
			DecodeTime: f.TimestampUs * uint64(timescale) / 1_000_000,
			Data:       sample,
		})
	}

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode moov: %w", err)
	}
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode fragment: %w", err)
	}
	return buf.Bytes(), nil
}
