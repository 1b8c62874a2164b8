// Package encode implements the video encoding stage.
package encode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrEncoderFailed is returned when the component reports an error.
	ErrEncoderFailed = errors.New("encode: encoder failed")

	// ErrItemFailed is returned when a work item completes with a non-OK result.
	ErrItemFailed = errors.New("encode: work item failed")

	// ErrOutOfOrder is returned when items complete out of submission order.
	ErrOutOfOrder = errors.New("encode: work item completed out of order")
)

// Stage encodes raw frames through an encode component.
type Stage struct {
	component ports.EncodeComponent
	blocks    ports.BlockPool
	logger    ports.Logger
}

// NewStage creates a new encode stage. Output blocks are released to blocks
// once their payload has been copied; blocks may be nil.
func NewStage(component ports.EncodeComponent, blocks ports.BlockPool, logger ports.Logger) *Stage {
	return &Stage{
		component: component,
		blocks:    blocks,
		logger:    logger.WithComponent("encode"),
	}
}

// Execute starts the component, queues every frame with end-of-stream on the
// last one, waits for the drain to finish and stops the component.
func (s *Stage) Execute(ctx context.Context, input pipeline.EncodeInput) (pipeline.EncodeResult, error) {
	result := pipeline.EncodeResult{}

	if len(input.Frames) == 0 {
		return result, fmt.Errorf("no frames to encode")
	}

	items := buildItems(input)
	c := newCollector(len(items), s.blocks)
	if err := s.component.SetListener(c); err != nil {
		return result, fmt.Errorf("set listener: %w", err)
	}
	if err := s.component.Start(); err != nil {
		return result, fmt.Errorf("start encoder: %w", err)
	}
	defer func() {
		if err := s.component.Stop(); err != nil {
			s.logger.Warn("Failed to stop encoder: %v", err)
		}
	}()

	s.logger.Debug("Queueing %d work items", len(items))
	if err := s.component.Queue(items); err != nil {
		return result, fmt.Errorf("queue work: %w", err)
	}

	select {
	case <-ctx.Done():
		flushed, err := s.component.Flush(ports.FlushComponent)
		if err != nil {
			s.logger.Warn("Failed to flush encoder: %v", err)
		}
		s.logger.Debug("Cancelled with %d items not submitted", len(flushed))
		return result, ctx.Err()
	case <-c.done:
	}

	return c.result()
}

func buildItems(input pipeline.EncodeInput) []*pipeline.WorkItem {
	var items []*pipeline.WorkItem
	if input.RequestCodecConfig {
		items = append(items, &pipeline.WorkItem{})
	}
	for _, f := range input.Frames {
		items = append(items, &pipeline.WorkItem{
			Index:     uint64(len(items)),
			Timestamp: f.TimestampUs,
			Input:     f.Frame,
		})
	}
	items[len(items)-1].Flags |= pipeline.FlagEndOfStream
	return items
}

// =============================================================================
// Result collection
// =============================================================================

// collector is the component listener. It copies each finished item's
// payload out of the device blocks as soon as the item is reported.
type collector struct {
	blocks ports.BlockPool
	total  int

	mu       sync.Mutex
	frames   []pipeline.EncodedFrame
	csd      []byte
	keys     int
	bytes    int64
	reported int
	nextIdx  uint64
	err      error

	done     chan struct{}
	doneOnce sync.Once
}

func newCollector(total int, blocks ports.BlockPool) *collector {
	return &collector{
		blocks: blocks,
		total:  total,
		done:   make(chan struct{}),
	}
}

func (c *collector) OnWorkDone(items []*pipeline.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range items {
		c.reported++
		if c.err == nil {
			c.err = c.collect(item)
		}
		c.release(item)
		if item.DrainDone() || c.reported >= c.total {
			c.finish()
		}
	}
}

func (c *collector) collect(item *pipeline.WorkItem) error {
	if item.Index != c.nextIdx {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, item.Index, c.nextIdx)
	}
	c.nextIdx++
	if item.Result != pipeline.StatusOK {
		return fmt.Errorf("%w: item %d: %s", ErrItemFailed, item.Index, item.Result)
	}
	if c.csd == nil && item.Output.CodecConfig != nil {
		c.csd = item.Output.CodecConfig
	}
	// The component drops Input once the device returns the frame, so
	// codec config requests are told apart by their empty output.
	if len(item.Output.Buffers) == 0 {
		return nil
	}

	data := item.Bitstream()
	key := item.IsKeyFrame()
	if key {
		c.keys++
	}
	c.bytes += int64(len(data))
	c.frames = append(c.frames, pipeline.EncodedFrame{
		Index:       item.Index,
		TimestampUs: item.Timestamp,
		KeyFrame:    key,
		Data:        data,
	})
	return nil
}

func (c *collector) release(item *pipeline.WorkItem) {
	if c.blocks == nil {
		return
	}
	for _, b := range item.Output.Buffers {
		c.blocks.Release(b.Block)
	}
	item.Output.Buffers = nil
}

func (c *collector) OnError(status pipeline.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %s", ErrEncoderFailed, status)
	}
	c.finish()
}

func (c *collector) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *collector) result() (pipeline.EncodeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return pipeline.EncodeResult{}, c.err
	}
	return pipeline.EncodeResult{
		CodecConfig: c.csd,
		Frames:      c.frames,
		KeyFrames:   c.keys,
		TotalBytes:  c.bytes,
	}, nil
}

var _ ports.Listener = (*collector)(nil)
