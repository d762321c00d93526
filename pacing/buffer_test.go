/*
NAME
  buffer_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pacing

import (
	"testing"
	"time"
)

func TestBufferPushPop(t *testing.T) {
	b := NewBuffer(5, nil) // Usable capacity is cap-2; need room for 3 items.
	b.SetPollIntervals(time.Millisecond, time.Millisecond)

	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}

	for i := 0; i < 3; i++ {
		if err := b.Push(Item{Data: []byte{byte(i)}}); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if got := b.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	for i := 0; i < 3; i++ {
		item, err := b.Pop()
		if err != nil {
			t.Fatalf("Pop(%d): %v", i, err)
		}
		if len(item.Data) != 1 || item.Data[0] != byte(i) {
			t.Fatalf("Pop(%d) = %+v, want Data[0]=%d", i, item, i)
		}
	}
	if !b.isEmpty() {
		t.Fatal("buffer should be empty after draining all pushes")
	}
}

func TestBufferEOS(t *testing.T) {
	b := NewBuffer(4, nil)
	b.SetPollIntervals(time.Millisecond, time.Millisecond)

	if err := b.Push(EOS()); err != nil {
		t.Fatalf("Push(EOS): %v", err)
	}
	item, err := b.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if !item.IsEOS || len(item.Data) != 1 || item.Data[0] == 0x47 {
		t.Fatalf("Pop() = %+v, want an EOS item distinct from TS sync byte", item)
	}
}

func TestBufferFullBlocksUntilDrained(t *testing.T) {
	b := NewBuffer(3, nil) // 1 usable slot after the two unused ones.
	b.SetPollIntervals(2*time.Millisecond, 2*time.Millisecond)

	if err := b.Push(Item{Data: []byte{1}}); err != nil {
		t.Fatalf("Push(1): %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Push(Item{Data: []byte{2}}) }()

	select {
	case <-done:
		t.Fatal("second Push returned before buffer was drained")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := b.Pop(); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Push(2) after drain: %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("second Push never unblocked after Pop freed a slot")
	}
}

func TestBufferJammed(t *testing.T) {
	sawPCR := false
	b := NewBuffer(3, func() bool { return sawPCR })
	b.SetPollIntervals(time.Millisecond, time.Millisecond)

	if err := b.Push(Item{Data: []byte{1}}); err != nil {
		t.Fatalf("Push(1): %v", err)
	}
	if err := b.Push(Item{Data: []byte{2}}); err != ErrJammed {
		t.Fatalf("Push(2) = %v, want ErrJammed", err)
	}
}

func TestBufferCloseUnblocks(t *testing.T) {
	b := NewBuffer(4, nil)
	b.SetPollIntervals(time.Millisecond, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := b.Pop()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Pop after Close should return an error")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Pop never unblocked after Close")
	}
}
