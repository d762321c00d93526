/*
NAME
  pcr_test.go

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

func TestUnwrap(t *testing.T) {
	if got := unwrap(100, 150); got != 50 {
		t.Errorf("unwrap(100,150) = %d, want 50", got)
	}
	// Wraps past pcrMax.
	if got := unwrap(pcrMax-10, 5); got != 15 {
		t.Errorf("unwrap(pcrMax-10,5) = %d, want 15", got)
	}
}

func TestPacerModeNone(t *testing.T) {
	p := NewPacer(ModeNone, 1000) // 1000 bytes/s.
	r1, disc := p.Next(Observation{Bytes: 500})
	if disc {
		t.Fatal("unexpected discontinuity in ModeNone")
	}
	if want := 500.0 * 1e6 / 1000; r1 != want {
		t.Errorf("release(1) = %v, want %v", r1, want)
	}
	r2, _ := p.Next(Observation{Bytes: 500})
	if want := r1 + 500.0*1e6/1000; r2 != want {
		t.Errorf("release(2) = %v, want %v", r2, want)
	}
}

func TestPacerSrcPCREstablishesRate(t *testing.T) {
	p := NewPacer(ModeSrcPCR, 1000)

	// First PCR: establishes baseline only.
	p.Next(Observation{Bytes: 100, GotPCR: true, PCR: 0})
	// 1000 bytes arrive over 1 real second: delta PCR = 27e6.
	p.Next(Observation{Bytes: 500})
	release, disc := p.Next(Observation{Bytes: 500, GotPCR: true, PCR: 27e6})
	if disc {
		t.Fatal("unexpected discontinuity")
	}
	if !p.haveRate {
		t.Fatal("expected rate to be established after second PCR")
	}
	if release <= 0 {
		t.Errorf("release = %v, want > 0", release)
	}
}

func TestPacerDiscontinuityOnForwardJump(t *testing.T) {
	p := NewPacer(ModeSrcPCR, 1000)
	p.Next(Observation{Bytes: 100, GotPCR: true, PCR: 0})
	_, disc := p.Next(Observation{Bytes: 100, GotPCR: true, PCR: maxPCRJump + 27e6})
	if !disc {
		t.Fatal("expected discontinuity on >2s forward jump")
	}
	if p.haveRate {
		t.Fatal("pacer state should be reset on discontinuity")
	}
}

func TestPacerSawPCR(t *testing.T) {
	p := NewPacer(ModeSrcPCR, 1000)
	if p.SawPCR() {
		t.Fatal("SawPCR should be false before any PCR observed")
	}
	p.Next(Observation{Bytes: 10, GotPCR: true, PCR: 1234})
	if !p.SawPCR() {
		t.Fatal("SawPCR should be true after a PCR observation")
	}
}

func TestPacerDstFlushInterpolates(t *testing.T) {
	p := NewPacer(ModeDstTS, 1000)
	p.Next(Observation{Bytes: 100, GotPCR: true, PCR: 0})
	// Two items accumulate before the next PCR closes the interval.
	p.Next(Observation{Bytes: 50})
	p.Next(Observation{Bytes: 50})
	release, _ := p.Next(Observation{Bytes: 0, GotPCR: true, PCR: 27e6})
	if want := float64(27e6) / 27; release != want {
		t.Errorf("release at flush = %v, want %v", release, want)
	}
}

func TestWallClockNoWaitThenMandatoryPause(t *testing.T) {
	w := NewWallClock()
	w.SetMaxNoWait(3, 5*time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		w.Wait(0, nil)
	}
	elapsed := time.Since(start)
	if elapsed < 5*time.Millisecond {
		t.Errorf("expected a mandatory wait after maxNoWait zero-wait sends, elapsed %v", elapsed)
	}
}

func TestWallClockDriftResetsBaseline(t *testing.T) {
	w := NewWallClock()
	var drifted time.Duration
	w.Wait(0, nil)
	// A release far in the past should report drift and reset the baseline
	// rather than trying to "catch up" instantaneously forever.
	w.Wait(-1e9, func(d time.Duration) { drifted = d })
	if drifted <= 0 {
		t.Fatal("expected drift to be reported for a release far in the past")
	}
}
