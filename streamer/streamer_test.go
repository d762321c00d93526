/*
NAME
  streamer_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package streamer

import (
	"bytes"
	"testing"

	"github.com/ausocean/tsreader/container/ts"
	"github.com/ausocean/tsreader/container/ts/psi"
	"github.com/ausocean/tsreader/pacing"
	sconfig "github.com/ausocean/tsreader/streamer/config"
	"github.com/ausocean/utils/logging"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() logging.Logger {
	return logging.New(logging.Error, discardWriter{}, true)
}

func TestEncodeDecodeItemRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	data := encodeItem(payload, 12345.5, 987654321)
	gotPayload, gotRelease, gotPCR := decodeItem(data)

	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("got payload %v, want %v", gotPayload, payload)
	}
	if gotRelease != 12345.5 {
		t.Errorf("got release %v, want 12345.5", gotRelease)
	}
	if gotPCR != 987654321 {
		t.Errorf("got pcr %v, want 987654321", gotPCR)
	}
}

func TestPacerModeMapping(t *testing.T) {
	cases := []struct {
		in   uint8
		want pacing.Mode
	}{
		{sconfig.PCRModeNone, pacing.ModeNone},
		{sconfig.PCRModeSrc, pacing.ModeSrcPCR},
		{sconfig.PCRModeDstTS, pacing.ModeDstTS},
		{sconfig.PCRModeDstPMT, pacing.ModeDstPMT},
	}
	for _, c := range cases {
		if got := pacerMode(c.in); got != c.want {
			t.Errorf("pacerMode(%d) = %v, want %v", c.in, got, c.want)
		}
	}
}

func newTestStreamer(t *testing.T) *Streamer {
	t.Helper()
	cfg := sconfig.NewConfig(testLogger())
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.asm = ts.NewPSIAssembler(testLogger())
	return s
}

func TestHandleCommandModeAndStream(t *testing.T) {
	s := newTestStreamer(t)

	if stop := s.handleCommand('p'); stop {
		t.Fatal("'p' should not stop the streamer")
	}
	if s.currentMode() != 'p' {
		t.Errorf("got mode %q, want 'p'", s.currentMode())
	}

	if stop := s.handleCommand('5'); stop {
		t.Fatal("'5' should not stop the streamer")
	}
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != '5' {
		t.Errorf("got stream %q, want '5'", stream)
	}

	if stop := s.handleCommand('q'); !stop {
		t.Fatal("'q' should stop the streamer")
	}
}

func TestFeedPSIResolvesPCRPID(t *testing.T) {
	s := newTestStreamer(t)
	s.cfg.Program = 1

	const pmtPID = 0x100
	const pcrPID = 0x101

	pat := psi.NewPAT(1, pmtPID)
	patPacket := &ts.Packet{PID: ts.PatPID, PUSI: true, Payload: pat.Bytes()}
	s.feedPSI(patPacket)

	if got := s.pmtPID(); got != pmtPID {
		t.Fatalf("pmtPID() = %#x, want %#x", got, pmtPID)
	}

	pmt := psi.NewPMT(pcrPID, 0x1b, 0x102)
	pmtPacket := &ts.Packet{PID: pmtPID, PUSI: true, Payload: pmt.Bytes()}
	s.feedPSI(pmtPacket)

	if s.pcrPID != pcrPID {
		t.Fatalf("pcrPID = %#x, want %#x", s.pcrPID, pcrPID)
	}
}

func TestFeedPSIIgnoresOtherProgram(t *testing.T) {
	s := newTestStreamer(t)
	s.cfg.Program = 2

	pat := psi.NewPAT(1, 0x100)
	patPacket := &ts.Packet{PID: ts.PatPID, PUSI: true, Payload: pat.Bytes()}
	s.feedPSI(patPacket)

	if got := s.pmtPID(); got != 0 {
		t.Fatalf("pmtPID() = %#x, want 0 (program mismatch)", got)
	}
}
