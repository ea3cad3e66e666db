// Package stream implements the live ingestion pipeline: a reconnecting
// websocket client feeding raw records through a double buffer into the
// persistence sink, without ever blocking the read path on disk I/O.
package stream

import (
	"sync/atomic"
)

// activeSlot selects which of the two buffer slots receives appends.
type activeSlot int

const (
	slotA activeSlot = iota
	slotB
)

// other returns the opposite slot.
func (s activeSlot) other() activeSlot {
	if s == slotA {
		return slotB
	}
	return slotA
}

// DoubleBuffer holds two record slots and an active selector. Exactly one
// slot is active at any instant; the other is either empty or mid-flush.
//
// Append is called only from the single read loop. CompleteFlush is called
// from the flush goroutine; the busy flag orders the two. A swap that would
// target a slot still mid-flush is a programming error and panics: it means
// the flush threshold fired twice before the previous flush drained.
type DoubleBuffer struct {
	slots     [2][]string
	active    activeSlot
	threshold int

	busy         atomic.Bool
	flushingSlot activeSlot
}

// NewDoubleBuffer creates a buffer pair that triggers a swap once the
// active slot holds threshold records.
func NewDoubleBuffer(threshold int) *DoubleBuffer {
	b := &DoubleBuffer{threshold: threshold}
	b.slots[slotA] = make([]string, 0, threshold+1)
	b.slots[slotB] = make([]string, 0, threshold+1)
	return b
}

// Append adds rec to the active slot. When the active slot already holds
// the threshold, the selector swaps first, rec lands in the fresh slot, and
// the full slot's records are returned for flushing. The returned slice
// must not be retained past CompleteFlush.
func (b *DoubleBuffer) Append(rec string) (full []string, needFlush bool) {
	if len(b.slots[b.active]) >= b.threshold {
		if !b.busy.CompareAndSwap(false, true) {
			panic("stream: buffer swap requested while a flush is still in progress")
		}
		b.flushingSlot = b.active
		b.active = b.active.other()
		b.slots[b.active] = append(b.slots[b.active], rec)
		return b.slots[b.flushingSlot], true
	}

	b.slots[b.active] = append(b.slots[b.active], rec)
	return nil, false
}

// CompleteFlush truncates the flushed slot and clears the busy flag, making
// the slot eligible as the next swap target.
func (b *DoubleBuffer) CompleteFlush() {
	if !b.busy.Load() {
		panic("stream: CompleteFlush without a flush in progress")
	}
	b.slots[b.flushingSlot] = b.slots[b.flushingSlot][:0]
	b.busy.Store(false)
}

// FlushInProgress reports whether a flushed slot has not yet been drained.
func (b *DoubleBuffer) FlushInProgress() bool {
	return b.busy.Load()
}

// Len returns the active slot's record count.
func (b *DoubleBuffer) Len() int {
	return len(b.slots[b.active])
}

// Drain returns the active slot's records and truncates it. Used for the
// shutdown flush, which bypasses the size threshold.
func (b *DoubleBuffer) Drain() []string {
	records := b.slots[b.active]
	out := make([]string, len(records))
	copy(out, records)
	b.slots[b.active] = b.slots[b.active][:0]
	return out
}
