/*
NAME
  analyzer_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package analysis

import (
	"testing"

	"github.com/ausocean/tsreader/container/ts"
)

func pkt(pid uint16, cc byte, di bool) *ts.Packet {
	return &ts.Packet{PID: pid, AFC: ts.AFCPayloadOnly, CC: cc, DI: di}
}

func TestCCInOrder(t *testing.T) {
	a := NewAnalyzer()
	for i := byte(0); i < 5; i++ {
		if reports := a.Observe(pkt(0x100, i, false), make([]byte, 188)); len(reports) != 0 {
			t.Fatalf("cc=%d: unexpected reports %+v", i, reports)
		}
	}
}

func TestCCGapFlagged(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(pkt(0x100, 0, false), make([]byte, 188))
	reports := a.Observe(pkt(0x100, 5, false), make([]byte, 188))
	if len(reports) != 1 || reports[0].Kind != "continuity" {
		t.Fatalf("expected a single continuity report, got %+v", reports)
	}
}

func TestCCToleratesOneDuplicate(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(pkt(0x100, 0, false), make([]byte, 188))
	if reports := a.Observe(pkt(0x100, 0, false), make([]byte, 188)); len(reports) != 0 {
		t.Fatalf("expected a tolerated duplicate, got %+v", reports)
	}
	// A second consecutive duplicate is not tolerated.
	reports := a.Observe(pkt(0x100, 0, false), make([]byte, 188))
	if len(reports) != 1 {
		t.Fatalf("expected the second duplicate to be flagged, got %+v", reports)
	}
}

func TestCCDiscontinuityIndicatorResets(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(pkt(0x100, 0, false), make([]byte, 188))
	if reports := a.Observe(pkt(0x100, 9, true), make([]byte, 188)); len(reports) != 0 {
		t.Fatalf("DI-flagged jump should not be flagged, got %+v", reports)
	}
	if reports := a.Observe(pkt(0x100, 10, false), make([]byte, 188)); len(reports) != 0 {
		t.Fatalf("expected resumed sequence to validate, got %+v", reports)
	}
}

func TestPTSPrecedesDTSFlagged(t *testing.T) {
	a := NewAnalyzer()
	reports := a.ObservePTSDTS(0x100, 1000, 2000, true)
	found := false
	for _, r := range reports {
		if r.Kind == "pts-dts" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a pts-dts report, got %+v", reports)
	}
}

func TestDTSMonotonic(t *testing.T) {
	a := NewAnalyzer()
	a.ObservePTSDTS(0x100, 5000, 4000, true)
	reports := a.ObservePTSDTS(0x100, 3000, 2000, true)
	found := false
	for _, r := range reports {
		if r.Kind == "dts-monotonic" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a dts-monotonic report, got %+v", reports)
	}
}

func TestDiff33Wrap(t *testing.T) {
	const wrap = uint64(1) << 33
	if d := diff33(wrap-10, 5); d != 15 {
		t.Errorf("diff33 across wrap = %d, want 15", d)
	}
	if d := diff33(5, wrap-10); d != -15 {
		t.Errorf("diff33 across wrap (reverse) = %d, want -15", d)
	}
}

func TestBitrateWindow(t *testing.T) {
	a := NewAnalyzer()
	s := a.Stats(0x100)

	// Two PCRs 0.25s apart (27e6/4 units), 1000 bytes in between.
	p1 := &ts.Packet{PID: 0x100, PCRF: true, PCR: 0}
	a.Observe(p1, make([]byte, 1000))
	p2 := &ts.Packet{PID: 0x100, PCRF: true, PCR: pcrFrequency / 4}
	a.Observe(p2, make([]byte, 1000))

	if s.Bitrate <= 0 {
		t.Fatalf("expected a positive bitrate, got %v", s.Bitrate)
	}
}
