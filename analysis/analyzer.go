/*
NAME
  analyzer.go

DESCRIPTION
  analyzer.go implements per-PID stream health analysis of an MPEG-TS
  stream: continuity counter validation, PTS/DTS/PCR ordering checks, a
  linear PCR predictor, and a sliding bitrate window.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package analysis provides a BufferingAnalyzer that inspects a live
// MPEG-TS packet stream for continuity, timestamp and clock anomalies.
package analysis

import (
	"github.com/ausocean/tsreader/container/ts"
)

// pcrFrequency is the PCR clock rate, 27MHz.
const pcrFrequency = 27e6

// sysClockFrequency is the 90kHz clock PTS/DTS are expressed in.
const sysClockFrequency = 90000

// bitrateWindow is the width of the sliding bitrate measurement window,
// expressed in 27MHz PCR units (0.5s).
const bitrateWindow = pcrFrequency / 2

// wrap33 is the modulus of the 33-bit PTS/DTS/PCR-base clock.
const wrap33 = 1 << 33

// StreamStats holds the running analysis state for a single PID.
type StreamStats struct {
	PID uint16

	haveCC     bool
	expectCC   byte
	dupSeen    bool
	CCErrors   int

	havePTS    bool
	havePCR    bool
	lastDTS    uint64
	lastPCR    uint64
	PTSDTSErrors int
	DTSMonotonicErrors int
	DTSPCRErrors int

	havePredict bool
	havePCR2    bool
	pcrRatePerByte float64
	firstPredPCR uint64
	firstPredBytes int64
	MinPredictError int64
	MaxPredictError int64

	bitrateSamples []bitrateSample
	Bitrate    float64
	MaxBitrate float64

	bytesSincePCR int64
}

type bitrateSample struct {
	pcrTime uint64
	bytes   int64
}

// Report is a single anomaly observed by the analyzer.
type Report struct {
	PID     uint16
	Kind    string
	Message string
}

// Analyzer inspects a sequence of TS packets and reports anomalies,
// tracking state per PID.
type Analyzer struct {
	pids map[uint16]*StreamStats
}

// NewAnalyzer returns an empty Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{pids: make(map[uint16]*StreamStats)}
}

// Stats returns the StreamStats tracked for pid, creating it if this is
// the first time pid has been seen.
func (a *Analyzer) Stats(pid uint16) *StreamStats {
	s, ok := a.pids[pid]
	if !ok {
		s = &StreamStats{PID: pid, MinPredictError: 0, MaxPredictError: 0}
		a.pids[pid] = s
	}
	return s
}

// diff33 returns the signed difference b-a of two 33-bit wrapping clock
// values, resolved into (-2^32, 2^32) as required to disambiguate wrap
// from a genuine large jump.
func diff33(a, b uint64) int64 {
	d := int64(b) - int64(a)
	half := int64(wrap33 / 2)
	switch {
	case d > half:
		d -= wrap33
	case d < -half:
		d += wrap33
	}
	return d
}

// Observe processes one TS packet, p, whose raw wire bytes are raw (used
// only for byte accounting in the bitrate window), and returns any
// anomalies detected on p.PID.
func (a *Analyzer) Observe(p *ts.Packet, raw []byte) []Report {
	s := a.Stats(p.PID)
	var reports []Report

	reports = append(reports, s.checkCC(p)...)

	if p.PCRF {
		s.observePCR(p.PCR, int64(len(raw)))
	} else {
		s.bytesSincePCR += int64(len(raw))
	}

	return reports
}

// checkCC validates the continuity counter invariant: cc must equal
// (prev_cc+1) mod 16 for packets carrying a payload, unless the
// discontinuity indicator is set; one duplicate packet (same cc, same
// payload-bearing packet) is tolerated without being flagged.
func (s *StreamStats) checkCC(p *ts.Packet) []Report {
	var reports []Report

	hasPayload := p.AFC == ts.AFCPayloadOnly || p.AFC == ts.AFCAdaptationPayload
	if !hasPayload {
		return nil
	}
	if p.DI {
		s.haveCC = true
		s.expectCC = (p.CC + 1) & 0xf
		s.dupSeen = false
		return nil
	}
	if !s.haveCC {
		s.haveCC = true
		s.expectCC = (p.CC + 1) & 0xf
		return nil
	}

	want := (s.expectCC - 1) & 0xf
	switch {
	case p.CC == s.expectCC:
		s.expectCC = (p.CC + 1) & 0xf
		s.dupSeen = false
	case p.CC == want && !s.dupSeen:
		// One tolerated duplicate of the previous packet.
		s.dupSeen = true
	default:
		s.CCErrors++
		s.expectCC = (p.CC + 1) & 0xf
		s.dupSeen = false
		reports = append(reports, Report{PID: s.PID, Kind: "continuity", Message: "continuity counter discontinuity"})
	}
	return reports
}

// ObservePTSDTS checks PTS>=DTS, DTS monotonicity, and DTS>=PCR/300,
// given the PTS/DTS of the access unit starting at this packet (in
// 90kHz units) and the most recently observed PCR (in 27MHz units).
func (a *Analyzer) ObservePTSDTS(pid uint16, pts, dts uint64, havePTS bool) []Report {
	s := a.Stats(pid)
	var reports []Report

	if havePTS && diff33(dts, pts) < 0 {
		s.PTSDTSErrors++
		reports = append(reports, Report{PID: pid, Kind: "pts-dts", Message: "PTS precedes DTS"})
	}

	if s.havePTS && diff33(s.lastDTS, dts) < 0 {
		s.DTSMonotonicErrors++
		reports = append(reports, Report{PID: pid, Kind: "dts-monotonic", Message: "DTS is not monotonically increasing"})
	}
	s.lastDTS = dts
	s.havePTS = true

	if s.havePCR {
		pcr90 := s.lastPCR / 300
		if diff33(pcr90, dts) < 0 {
			s.DTSPCRErrors++
			reports = append(reports, Report{PID: pid, Kind: "dts-pcr", Message: "DTS precedes PCR"})
		}
	}

	return reports
}

// observePCR folds a newly observed PCR into the predictor and bitrate
// window for this PID.
func (s *StreamStats) observePCR(pcr uint64, bytes int64) {
	if s.havePCR {
		s.runPredictor(pcr)
		s.bytesSincePCR += bytes
	} else {
		s.bytesSincePCR = bytes
	}

	s.lastPCR = pcr
	s.havePCR = true

	s.bitrateSamples = append(s.bitrateSamples, bitrateSample{pcrTime: pcr, bytes: s.bytesSincePCR})
	s.bytesSincePCR = 0
	s.recomputeBitrate()
}

// runPredictor predicts pcr from the rate established after the 2nd PCR
// observation and tracks the signed min/max prediction error.
func (s *StreamStats) runPredictor(pcr uint64) {
	gapBytes := s.bytesSincePCR
	if !s.havePCR2 {
		if gapBytes > 0 {
			s.pcrRatePerByte = float64(diff33(s.lastPCR, pcr)) / float64(gapBytes)
			s.havePCR2 = true
		}
		return
	}

	predicted := s.lastPCR + uint64(float64(gapBytes)*s.pcrRatePerByte)
	errVal := diff33(predicted, pcr)
	if errVal < s.MinPredictError {
		s.MinPredictError = errVal
	}
	if errVal > s.MaxPredictError {
		s.MaxPredictError = errVal
	}
}

// recomputeBitrate drops samples older than bitrateWindow relative to the
// most recent one, then recomputes the instantaneous and max bitrate.
func (s *StreamStats) recomputeBitrate() {
	if len(s.bitrateSamples) == 0 {
		return
	}
	latest := s.bitrateSamples[len(s.bitrateSamples)-1]

	i := 0
	for ; i < len(s.bitrateSamples); i++ {
		if diff33(s.bitrateSamples[i].pcrTime, latest.pcrTime) <= bitrateWindow {
			break
		}
	}
	s.bitrateSamples = s.bitrateSamples[i:]

	var totalBytes int64
	for _, sample := range s.bitrateSamples {
		totalBytes += sample.bytes
	}
	span := diff33(s.bitrateSamples[0].pcrTime, latest.pcrTime)
	if span <= 0 {
		return
	}
	rate := float64(totalBytes) * 8 * pcrFrequency / float64(span)
	s.Bitrate = rate
	if rate > s.MaxBitrate {
		s.MaxBitrate = rate
	}
}
