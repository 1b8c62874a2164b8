// Package blockpool provides an in-process pool of linear memory blocks.
package blockpool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/user/hwencode/pkg/pipeline"
	"github.com/user/hwencode/pkg/ports"
)

var (
	// ErrExhausted is returned when the outstanding block limit is reached.
	ErrExhausted = errors.New("blockpool: no block available")

	// ErrInvalidSize is returned for a non-positive block size.
	ErrInvalidSize = errors.New("blockpool: invalid block size")
)

// Pool hands out blocks and recycles released ones. It is safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	limit       int
	nextID      int
	free        []*pipeline.Block
	outstanding map[int]*pipeline.Block
}

// New creates a pool. A limit of zero means unlimited outstanding blocks.
func New(limit int) *Pool {
	return &Pool{
		limit:       limit,
		nextID:      1,
		outstanding: make(map[int]*pipeline.Block),
	}
}

// FetchLinearBlock returns a block of at least size bytes.
func (p *Pool) FetchLinearBlock(size int) (*pipeline.Block, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && len(p.outstanding) >= p.limit {
		return nil, ErrExhausted
	}

	for i, b := range p.free {
		if len(b.Data) >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			p.outstanding[b.ID] = b
			return b, nil
		}
	}

	b := &pipeline.Block{ID: p.nextID, Data: make([]byte, size)}
	p.nextID++
	p.outstanding[b.ID] = b
	return b, nil
}

// Release returns a block to the pool. Unknown blocks are ignored.
func (p *Pool) Release(b *pipeline.Block) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.outstanding[b.ID]; !ok {
		return
	}
	delete(p.outstanding, b.ID)
	p.free = append(p.free, b)
}

// Outstanding returns the number of blocks not yet released.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

var _ ports.BlockPool = (*Pool)(nil)
