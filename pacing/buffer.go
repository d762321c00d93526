/*
NAME
  buffer.go

DESCRIPTION
  buffer.go provides a fixed-capacity, single-producer/single-consumer
  circular buffer of pacing items, used to hand off TS packets from the
  stream reader to the wall-clock-paced sender.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pacing provides a circular item buffer and a PCR-driven pacer
// for timing paced network output of MPEG-TS data.
package pacing

import (
	"errors"
	"sync"
	"time"
)

// Default poll intervals for producer/consumer backpressure, matching
// the sleep-in-small-increments style of github.com/ausocean/utils/pool's
// timeout-bounded Next/Write.
const (
	DefaultProducerPoll = 50 * time.Millisecond
	DefaultConsumerPoll = 10 * time.Millisecond
)

// eosMarker is the single byte of a terminal EOS item; it is chosen to be
// distinct from the TS sync byte (0x47) so a misrouted EOS item cannot be
// mistaken for a TS packet by a downstream reader.
const eosMarker = 0x00

// Item is one element of a Buffer: either a chunk of TS packet bytes or,
// as the final item in the stream, an EOS marker.
type Item struct {
	Data  []byte
	IsEOS bool
}

// EOS returns a terminal EOS Item.
func EOS() Item { return Item{Data: []byte{eosMarker}, IsEOS: true} }

// ErrJammed is returned by Push when the buffer detects it has
// deadlocked: full with no PCR ever having been observed by the pacer
// feeding from it, so it can never drain.
var ErrJammed = errors.New("pacing: buffer jammed before any PCR was seen")

// Buffer is a fixed-capacity ring of Items with one producer and one
// consumer. It keeps two slots unused so start == (end+1) mod cap
// unambiguously means empty, and (pending+2) mod cap == start means full.
type Buffer struct {
	mu    sync.Mutex
	items []Item

	start   int // Next slot to read.
	pending int // Next slot to write.
	end     int // Last ready-to-read slot.

	producerPoll time.Duration
	consumerPoll time.Duration

	sawPCR func() bool // Reports whether the consuming pacer has ever seen a PCR; used for jam detection.

	closed bool
}

// NewBuffer returns a Buffer with room for cap items. The full check
// (pending+2 mod cap == start) leaves two slots unusable, so cap must be
// >= 3 to hold at least one item; smaller values are raised to 3. sawPCR,
// if non-nil, is consulted by Push to detect a jam (a full buffer that
// can never drain because pacing hasn't started).
func NewBuffer(cap int, sawPCR func() bool) *Buffer {
	if cap < 3 {
		cap = 3
	}
	return &Buffer{
		items:        make([]Item, cap),
		end:          cap - 1,
		producerPoll: DefaultProducerPoll,
		consumerPoll: DefaultConsumerPoll,
		sawPCR:       sawPCR,
	}
}

// SetPollIntervals overrides the default producer/consumer backpressure
// poll intervals.
func (b *Buffer) SetPollIntervals(producer, consumer time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if producer > 0 {
		b.producerPoll = producer
	}
	if consumer > 0 {
		b.consumerPoll = consumer
	}
}

func (b *Buffer) cap() int { return len(b.items) }

// isEmpty reports whether there are no items ready to read. Caller must
// hold b.mu.
func (b *Buffer) isEmpty() bool {
	return b.start == (b.end+1)%b.cap()
}

// isFull reports whether there is no room to write another item. Caller
// must hold b.mu.
func (b *Buffer) isFull() bool {
	return (b.pending+2)%b.cap() == b.start
}

// isJammed reports the fatal condition: the buffer is full and no PCR has
// ever been seen, so nothing will ever arrive to prime the pacer and
// start draining it. Caller must hold b.mu.
func (b *Buffer) isJammed() bool {
	if b.sawPCR == nil || b.sawPCR() {
		return false
	}
	return b.isFull()
}

// Push appends item to the buffer, blocking (polling at producerPoll)
// while full, and returning ErrJammed if the jam condition is detected.
func (b *Buffer) Push(item Item) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return errors.New("pacing: buffer closed")
		}
		if b.isJammed() {
			b.mu.Unlock()
			return ErrJammed
		}
		if !b.isFull() {
			b.items[b.pending] = item
			b.end = b.pending
			b.pending = (b.pending + 1) % b.cap()
			b.mu.Unlock()
			return nil
		}
		poll := b.producerPoll
		b.mu.Unlock()
		time.Sleep(poll)
	}
}

// Pop removes and returns the next item, blocking (polling at
// consumerPoll) while empty.
func (b *Buffer) Pop() (Item, error) {
	for {
		b.mu.Lock()
		if !b.isEmpty() {
			item := b.items[b.start]
			b.items[b.start] = Item{} // Release reference.
			b.start = (b.start + 1) % b.cap()
			b.mu.Unlock()
			return item, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Item{}, errors.New("pacing: buffer closed")
		}
		poll := b.consumerPoll
		b.mu.Unlock()
		time.Sleep(poll)
	}
}

// Close unblocks any pending Push/Pop with an error; further calls also
// error.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Len reports the number of items currently ready to read.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isEmpty() {
		return 0
	}
	n := b.end - b.start + 1
	if n <= 0 {
		n += b.cap()
	}
	return n
}
