/*
NAME
  packet_test.go

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
	"testing"
)

func TestPacketBytesParseRoundTrip(t *testing.T) {
	want := &Packet{
		PUSI:    true,
		PID:     0x100,
		CC:      5,
		AFC:     AFCPayloadOnly,
		Payload: bytes.Repeat([]byte{0xab}, PacketSize-HeadSize),
	}
	raw := want.Bytes(nil)
	if len(raw) != PacketSize {
		t.Fatalf("got %d bytes, want %d", len(raw), PacketSize)
	}
	if raw[0] != SyncByte {
		t.Fatalf("got sync byte %#x, want %#x", raw[0], SyncByte)
	}

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PUSI != want.PUSI || got.PID != want.PID || got.CC != want.CC {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("payload mismatch: got %v, want %v", got.Payload, want.Payload)
	}
}

func TestPacketPCRRoundTrip(t *testing.T) {
	const pcr = 12345678901
	want := &Packet{
		PID:  0x100,
		AFC:  AFCAdaptationPayload,
		PCRF: true,
		PCR:  pcr,
	}
	raw := want.Bytes(nil)
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.PCRF {
		t.Fatal("PCRF not set after round trip")
	}
	if got.PCR != pcr {
		t.Errorf("got PCR %d, want %d", got.PCR, pcr)
	}
}

func TestParseRejectsBadSync(t *testing.T) {
	buf := make([]byte, PacketSize)
	buf[0] = 0x00
	if _, err := Parse(buf); err != ErrBadSync {
		t.Errorf("got error %v, want %v", err, ErrBadSync)
	}
}

func TestParseRejectsShortPacket(t *testing.T) {
	if _, err := Parse(make([]byte, PacketSize-1)); err != ErrInvalidLen {
		t.Errorf("got error %v, want %v", err, ErrInvalidLen)
	}
}
