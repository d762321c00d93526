/*
NAME
  reader_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ts

import (
	"bytes"
	"io"
	"testing"
)

func packetBytes(pid uint16, cc byte) []byte {
	p := &Packet{
		PUSI:    cc == 0,
		PID:     pid,
		CC:      cc,
		AFC:     AFCPayloadOnly,
		Payload: bytes.Repeat([]byte{byte(cc)}, PacketSize-HeadSize),
	}
	return p.Bytes(nil)
}

// TestReaderSyncRecovery exercises the spec's sync-recovery scenario: four
// junk bytes followed by five valid packets must yield exactly five packets
// starting at offset 4, with no error.
func TestReaderSyncRecovery(t *testing.T) {
	var src []byte
	src = append(src, 0xab, 0xcd, 0xef, 0x01)
	for cc := byte(0); cc < 5; cc++ {
		src = append(src, packetBytes(0x100, cc)...)
	}

	r := NewReader(bytes.NewReader(src), 0)
	var got []*Packet
	for {
		p, err := r.ReadPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		got = append(got, p)
	}

	if len(got) != 5 {
		t.Fatalf("got %d packets, want 5", len(got))
	}
	for i, p := range got {
		if p.PID != 0x100 {
			t.Errorf("packet %d: got PID %#x, want 0x100", i, p.PID)
		}
		if p.CC != byte(i) {
			t.Errorf("packet %d: got CC %d, want %d", i, p.CC, i)
		}
	}
}

func TestReaderAlignedRead(t *testing.T) {
	var src []byte
	for cc := byte(0); cc < 3; cc++ {
		src = append(src, packetBytes(0x101, cc)...)
	}

	r := NewReader(bytes.NewReader(src), 0)
	for i := 0; i < 3; i++ {
		p, err := r.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		if p.CC != byte(i) {
			t.Errorf("got CC %d, want %d", p.CC, i)
		}
	}
	if _, err := r.ReadPacket(); err != io.EOF {
		t.Errorf("got error %v, want io.EOF", err)
	}
}

// zeroReader supplies an endless run of zero bytes, never matching SyncByte.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestReaderBadSync(t *testing.T) {
	r := NewReader(io.LimitReader(zeroReader{}, resyncBudget+1024), 0)
	_, err := r.ReadPacket()
	if _, ok := err.(*BadSyncError); !ok {
		t.Errorf("got error %v, want *BadSyncError", err)
	}
}

func TestReaderPosition(t *testing.T) {
	junk := []byte{0xab, 0xcd, 0xef, 0x01}
	src := append(append([]byte(nil), junk...), packetBytes(0x100, 0)...)

	r := NewReader(bytes.NewReader(src), 0)
	if _, err := r.ReadPacket(); err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got := r.Position(); got != int64(len(src)) {
		t.Errorf("got Position %d, want %d", got, len(src))
	}
}
