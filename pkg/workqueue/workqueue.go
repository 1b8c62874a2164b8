// Package workqueue holds work items between submission by the client and
// completion by the encoder.
//
// Items wait in a Pending FIFO until their input is handed to the device, then
// move to an InFlight FIFO until both their input and output halves resolve.
// Completed items always leave InFlight from the front, so results are
// reported in submission order even when the device completes out of order.
package workqueue

import (
	"github.com/user/hwencode/pkg/pipeline"
)

// =============================================================================
// Pending
// =============================================================================

// Pending is the FIFO of items not yet submitted to the device.
type Pending struct {
	items []*pipeline.WorkItem
}

// Push appends an item.
func (p *Pending) Push(item *pipeline.WorkItem) {
	p.items = append(p.items, item)
}

// Front returns the oldest item, or nil.
func (p *Pending) Front() *pipeline.WorkItem {
	if len(p.items) == 0 {
		return nil
	}
	return p.items[0]
}

// Back returns the newest item, or nil.
func (p *Pending) Back() *pipeline.WorkItem {
	if len(p.items) == 0 {
		return nil
	}
	return p.items[len(p.items)-1]
}

// Pop removes and returns the oldest item, or nil.
func (p *Pending) Pop() *pipeline.WorkItem {
	if len(p.items) == 0 {
		return nil
	}
	item := p.items[0]
	p.items[0] = nil
	p.items = p.items[1:]
	return item
}

// Len returns the number of items.
func (p *Pending) Len() int {
	return len(p.items)
}

// Empty reports whether there are no items.
func (p *Pending) Empty() bool {
	return len(p.items) == 0
}

// DrainAll removes and returns every item in order.
func (p *Pending) DrainAll() []*pipeline.WorkItem {
	items := p.items
	p.items = nil
	return items
}

// =============================================================================
// InFlight
// =============================================================================

// Entry is an item that has been handed to the device.
type Entry struct {
	Item *pipeline.WorkItem

	hadInput      bool
	inputReturned bool
}

// HadInput reports whether the item carried a frame when submitted.
func (e *Entry) HadInput() bool {
	return e.hadInput
}

// InputReturned reports whether the device has released the item's input.
func (e *Entry) InputReturned() bool {
	return !e.hadInput || e.inputReturned
}

// MarkInputReturned records that the input slot was dequeued and drops the
// reference to the client frame.
func (e *Entry) MarkInputReturned() {
	e.inputReturned = true
	e.Item.Input = nil
}

// AddOutput attaches an encoded buffer.
func (e *Entry) AddOutput(buf *pipeline.EncodedBuffer) {
	e.Item.Output.Buffers = append(e.Item.Output.Buffers, buf)
}

// Done reports whether the item can be released to the client:
// an end-of-stream item needs its drain to have finished, and an item that
// carried a frame needs its input returned and at least one output buffer.
func (e *Entry) Done() bool {
	if e.Item.IsEndOfStream() && !e.Item.DrainDone() {
		return false
	}
	if !e.InputReturned() {
		return false
	}
	if e.hadInput && len(e.Item.Output.Buffers) == 0 {
		return false
	}
	return true
}

// InFlight is the FIFO of submitted items, ordered by submission.
type InFlight struct {
	entries []*Entry
}

// Push appends an item that has just been submitted.
func (q *InFlight) Push(item *pipeline.WorkItem) *Entry {
	e := &Entry{Item: item, hadInput: item.HasInput()}
	q.entries = append(q.entries, e)
	return e
}

// Front returns the oldest entry, or nil.
func (q *InFlight) Front() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// Back returns the newest entry, or nil.
func (q *InFlight) Back() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[len(q.entries)-1]
}

// Len returns the number of entries.
func (q *InFlight) Len() int {
	return len(q.entries)
}

// Empty reports whether there are no entries.
func (q *InFlight) Empty() bool {
	return len(q.entries) == 0
}

// FindByIndex returns the entry for a work index. Used for input completions,
// which may arrive in any order.
func (q *InFlight) FindByIndex(index uint64) *Entry {
	for _, e := range q.entries {
		if e.Item.Index == index {
			return e
		}
	}
	return nil
}

// FindByTimestamp returns the entry for an output timestamp. Items that
// carried no frame are skipped since they may reuse another item's timestamp.
func (q *InFlight) FindByTimestamp(ts uint64) *Entry {
	for _, e := range q.entries {
		if !e.hadInput {
			continue
		}
		if e.Item.Timestamp == ts {
			return e
		}
	}
	return nil
}

// PopCompleted removes and returns every done entry at the front, stopping
// at the first one that is not done.
func (q *InFlight) PopCompleted() []*pipeline.WorkItem {
	var done []*pipeline.WorkItem
	for len(q.entries) > 0 && q.entries[0].Done() {
		done = append(done, q.entries[0].Item)
		q.entries[0] = nil
		q.entries = q.entries[1:]
	}
	return done
}

// DrainAll removes and returns every item in order.
func (q *InFlight) DrainAll() []*pipeline.WorkItem {
	items := make([]*pipeline.WorkItem, 0, len(q.entries))
	for _, e := range q.entries {
		items = append(items, e.Item)
	}
	q.entries = nil
	return items
}
