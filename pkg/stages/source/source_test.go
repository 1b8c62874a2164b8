package source

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/user/hwencode/pkg/adapters/logger"
	"github.com/user/hwencode/pkg/adapters/swconverter"
	"github.com/user/hwencode/pkg/mocks"
	"github.com/user/hwencode/pkg/pipeline"
)

func testInput() pipeline.SourceInput {
	return pipeline.SourceInput{
		Size:       pipeline.Size{Width: 32, Height: 16},
		Format:     pipeline.PixelFormatNV12,
		FrameCount: 3,
		Framerate:  25,
	}
}

func TestStage_Execute(t *testing.T) {
	renderer := &mocks.FrameRenderer{}
	stage := NewStage(renderer, swconverter.FromImage, logger.NewNoop())

	result, err := stage.Execute(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(result.Frames))
	}
	wantTs := []uint64{0, 40000, 80000}
	for i, f := range result.Frames {
		if f.TimestampUs != wantTs[i] {
			t.Errorf("frame %d: timestamp %d, want %d", i, f.TimestampUs, wantTs[i])
		}
		if f.Frame.Format != pipeline.PixelFormatNV12 {
			t.Errorf("frame %d: format %s", i, f.Frame.Format)
		}
		if f.Frame.Size != (pipeline.Size{Width: 32, Height: 16}) {
			t.Errorf("frame %d: size %s", i, f.Frame.Size)
		}
	}
	if len(renderer.Calls) != 3 || renderer.Calls[2] != 2 {
		t.Errorf("unexpected render calls %v", renderer.Calls)
	}
}

func TestStage_Execute_InvalidInput(t *testing.T) {
	stage := NewStage(&mocks.FrameRenderer{}, swconverter.FromImage, logger.NewNoop())

	tests := []struct {
		name   string
		modify func(*pipeline.SourceInput)
	}{
		{"no frames", func(in *pipeline.SourceInput) { in.FrameCount = 0 }},
		{"no framerate", func(in *pipeline.SourceInput) { in.Framerate = 0 }},
		{"empty size", func(in *pipeline.SourceInput) { in.Size = pipeline.Size{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := testInput()
			tt.modify(&input)
			if _, err := stage.Execute(context.Background(), input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStage_Execute_RenderError(t *testing.T) {
	renderErr := errors.New("render failed")
	renderer := &mocks.FrameRenderer{
		RenderFrameFunc: func(index, total, width, height int) (image.Image, error) {
			if index == 1 {
				return nil, renderErr
			}
			return image.NewRGBA(image.Rect(0, 0, width, height)), nil
		},
	}
	stage := NewStage(renderer, swconverter.FromImage, logger.NewNoop())

	if _, err := stage.Execute(context.Background(), testInput()); !errors.Is(err, renderErr) {
		t.Errorf("expected render error, got %v", err)
	}
}

func TestStage_Execute_ContextCancelled(t *testing.T) {
	stage := NewStage(&mocks.FrameRenderer{}, swconverter.FromImage, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := stage.Execute(ctx, testInput()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
