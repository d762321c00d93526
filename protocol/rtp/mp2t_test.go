/*
NAME
  mp2t_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package rtp

import "testing"

func TestMP2TEncapsulateHeader(t *testing.T) {
	e := NewMP2TEncapsulator()
	payload := make([]byte, 188)
	buf := e.Encapsulate(payload, 27000000, nil)

	if len(buf) != defaultHeadSize+len(payload) {
		t.Fatalf("len(buf) = %d, want %d", len(buf), defaultHeadSize+len(payload))
	}
	if pt := buf[1] & 0x7f; pt != MP2TPayloadType {
		t.Errorf("payload type = %d, want %d", pt, MP2TPayloadType)
	}
	gotSSRC, err := SSRC(buf)
	if err != nil {
		t.Fatalf("SSRC: %v", err)
	}
	if gotSSRC != e.SSRC() {
		t.Errorf("SSRC = %d, want %d", gotSSRC, e.SSRC())
	}
	gotTS, err := Timestamp(buf)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if want := uint32(27000000 / 300); gotTS != want {
		t.Errorf("timestamp = %d, want %d", gotTS, want)
	}
}

func TestMP2TSequenceMonotone(t *testing.T) {
	e := NewMP2TEncapsulator()
	payload := make([]byte, 188)

	b1 := e.Encapsulate(payload, 0, nil)
	b2 := e.Encapsulate(payload, 300, nil)

	s1, err := Sequence(b1)
	if err != nil {
		t.Fatalf("Sequence(1): %v", err)
	}
	s2, err := Sequence(b2)
	if err != nil {
		t.Fatalf("Sequence(2): %v", err)
	}
	if s2 != s1+1 {
		t.Errorf("sequence did not advance monotonically: %d -> %d", s1, s2)
	}
}
