package mux

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/adapters/simdevice"
	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

// encodeFrames runs n frames through a simulated encoder of the given format.
func encodeFrames(t *testing.T, coded pipeline.Fourcc, n int) []pipeline.EncodedFrame {
	t.Helper()
	size := pipeline.Size{Width: 320, Height: 240}
	dev := simdevice.New(simdevice.DefaultConfig())
	if err := dev.Open(ports.DeviceEncoder, coded); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	in, out := dev.Queue(ports.DirectionInput), dev.Queue(ports.DirectionOutput)
	_, _ = out.SetFormat(coded, size, 1<<20)
	_, _ = in.SetFormat(pipeline.FourccNV12, size, 0)
	_, _ = in.RequestBuffers(1, ports.MemoryDMABuf)
	_, _ = out.RequestBuffers(1, ports.MemoryDMABuf)
	_ = in.StreamOn()
	_ = out.StreamOn()

	frame := pipeline.NewFrame(pipeline.PixelFormatNV12, size, 1)
	planes := make([]ports.PlaneData, len(frame.Planes))
	for i, p := range frame.Planes {
		planes[i] = ports.PlaneData{Block: p.Block, DataOffset: p.Offset, BytesUsed: p.Offset + p.Size}
	}
	block := &pipeline.Block{ID: 2, Data: make([]byte, 1<<20)}

	var frames []pipeline.EncodedFrame
	for i := 0; i < n; i++ {
		ts := uint64(i) * 40000
		_ = out.QueueBuffer(ports.DeviceBuffer{Planes: []ports.PlaneData{{Block: block}}})
		_ = in.QueueBuffer(ports.DeviceBuffer{Timestamp: ts, Planes: planes})
		if _, ok, _ := in.DequeueBuffer(); !ok {
			t.Fatalf("frame %d: input not returned", i)
		}
		b, ok, _ := out.DequeueBuffer()
		if !ok {
			t.Fatalf("frame %d: no output", i)
		}
		frames = append(frames, pipeline.EncodedFrame{
			Index:       uint64(i),
			TimestampUs: ts,
			KeyFrame:    b.Flags&ports.BufferFlagKeyFrame != 0,
			Data:        append([]byte(nil), block.Data[:b.Planes[0].BytesUsed]...),
		})
	}
	return frames
}

func TestStage_Execute_H264(t *testing.T) {
	frames := encodeFrames(t, pipeline.FourccH264, 5)
	stage := NewStage(logger.NewNoop())

	result, err := stage.Execute(context.Background(), pipeline.MuxInput{
		Profile:   pipeline.ProfileH264Main,
		Visible:   pipeline.Size{Width: 320, Height: 240},
		Framerate: 25,
		Frames:    frames,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Container != ContainerMP4 {
		t.Errorf("expected mp4 container, got %q", result.Container)
	}
	if result.DurationMs != 200 {
		t.Errorf("expected 200 ms, got %d", result.DurationMs)
	}
	if result.CodecInfo == "" {
		t.Error("expected codec info from the SPS")
	}

	parsed, err := mp4.DecodeFile(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("DecodeFile failed: %v", err)
	}
	if !parsed.IsFragmented() || parsed.Init == nil {
		t.Fatal("expected a fragmented file with an init segment")
	}

	trak := parsed.Init.Moov.Traks[0]
	var avcC *mp4.AvcCBox
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		if avc1, ok := child.(*mp4.VisualSampleEntryBox); ok {
			avcC = avc1.AvcC
		}
	}
	if avcC == nil || len(avcC.SPSnalus) != 1 || len(avcC.PPSnalus) != 1 {
		t.Fatal("expected an avcC box with one SPS and one PPS")
	}

	var samples []mp4.FullSample
	for _, seg := range parsed.Segments {
		for _, frag := range seg.Fragments {
			s, err := frag.GetFullSamples(parsed.Init.Moov.Mvex.Trexs[0])
			if err != nil {
				t.Fatalf("GetFullSamples failed: %v", err)
			}
			samples = append(samples, s...)
		}
	}
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	if samples[0].Flags != mp4.SyncSampleFlags {
		t.Error("expected the first sample to be a sync sample")
	}
	if samples[1].DecodeTime != 1000 {
		t.Errorf("expected second sample at 1000, got %d", samples[1].DecodeTime)
	}
}

func TestStage_Execute_H264UsesReportedCodecConfig(t *testing.T) {
	frames := encodeFrames(t, pipeline.FourccH264, 2)
	stage := NewStage(logger.NewNoop())

	// Hide the key frame so only the reported config can supply SPS/PPS.
	csd := append([]byte(nil), frames[0].Data...)
	frames[0].KeyFrame = false

	result, err := stage.Execute(context.Background(), pipeline.MuxInput{
		Profile:     pipeline.ProfileH264Baseline,
		Visible:     pipeline.Size{Width: 320, Height: 240},
		Framerate:   25,
		CodecConfig: csd,
		Frames:      frames,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Container != ContainerMP4 {
		t.Errorf("expected mp4 container, got %q", result.Container)
	}

	_, err = stage.Execute(context.Background(), pipeline.MuxInput{
		Profile:   pipeline.ProfileH264Baseline,
		Visible:   pipeline.Size{Width: 320, Height: 240},
		Framerate: 25,
		Frames:    frames,
	})
	if !errors.Is(err, ErrNoCodecConfig) {
		t.Errorf("expected ErrNoCodecConfig, got %v", err)
	}
}

func TestStage_Execute_RawStream(t *testing.T) {
	frames := encodeFrames(t, pipeline.FourccVP8, 3)
	stage := NewStage(logger.NewNoop())

	result, err := stage.Execute(context.Background(), pipeline.MuxInput{
		Profile:   pipeline.ProfileVP8,
		Visible:   pipeline.Size{Width: 320, Height: 240},
		Framerate: 25,
		Frames:    frames,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Container != ContainerRaw {
		t.Errorf("expected raw container, got %q", result.Container)
	}
	var want []byte
	for _, f := range frames {
		want = append(want, f.Data...)
	}
	if !bytes.Equal(result.Data, want) {
		t.Error("raw stream should be the concatenated frames")
	}
}

func TestStage_Execute_InvalidInput(t *testing.T) {
	stage := NewStage(logger.NewNoop())

	if _, err := stage.Execute(context.Background(), pipeline.MuxInput{Framerate: 25}); !errors.Is(err, ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
	frames := []pipeline.EncodedFrame{{Data: []byte{1}}}
	if _, err := stage.Execute(context.Background(), pipeline.MuxInput{Frames: frames}); err == nil {
		t.Error("expected error for zero framerate")
	}
}
