/*
NAME
  assembler.go

DESCRIPTION
  assembler.go reassembles PSI (PAT/PMT) sections scattered across
  successive TS packets on a PID into complete, CRC-validated sections.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ts

import (
	"github.com/ausocean/tsreader/container/ts/psi"
	"github.com/ausocean/utils/logging"
)

// assemblyState is a per-PID PSI reassembly state, matching the
// Idle/Collecting/Emit state machine.
type assemblyState int

const (
	stateIdle assemblyState = iota
	stateCollecting
)

// pidAssembly is the scatter/gather buffer for one PID. Fragments are
// copied into buf rather than referenced in place, since a fragment's
// backing array belongs to the TS reader's read-ahead buffer and will be
// overwritten by the next ReadPacket call.
type pidAssembly struct {
	state   assemblyState
	buf     []byte
	want    int // total bytes expected, including the 3-byte section_length header and trailing CRC, once known.
}

// PSIAssembler reassembles PSI sections from successive TS packet payload
// fragments, one reassembly buffer per PID, and publishes the latest valid
// PAT and PMT as atomically-replaced snapshots.
type PSIAssembler struct {
	log  logging.Logger
	pids map[uint16]*pidAssembly

	pat *psi.PSI
	pmt *psi.PSI
}

// NewPSIAssembler returns a new, empty PSIAssembler.
func NewPSIAssembler(log logging.Logger) *PSIAssembler {
	return &PSIAssembler{
		log:  log,
		pids: make(map[uint16]*pidAssembly),
	}
}

// PAT returns the most recently assembled, CRC-valid PAT section, or nil if
// none has been seen yet.
func (a *PSIAssembler) PAT() *psi.PSI { return a.pat }

// PMT returns the most recently assembled, CRC-valid PMT section, or nil if
// none has been seen yet.
func (a *PSIAssembler) PMT() *psi.PSI { return a.pmt }

// Feed hands the assembler one TS packet's payload fragment for pid. pusi
// indicates whether the fragment starts a new section (and therefore
// carries a leading pointer_field byte).
func (a *PSIAssembler) Feed(pid uint16, pusi bool, payload []byte) {
	if len(payload) == 0 {
		return
	}
	s, ok := a.pids[pid]
	if !ok {
		s = &pidAssembly{}
		a.pids[pid] = s
	}

	if !pusi {
		if s.state == stateIdle {
			a.log.Warning("discarding unstarted PSI continuation", "pid", pid)
			return
		}
		s.buf = append(s.buf, payload...)
		a.tryEmit(pid, s)
		return
	}

	// pusi=1: the first byte is a pointer_field giving the number of
	// stuffing bytes before the new section starts within this payload.
	if s.state == stateCollecting {
		a.log.Warning("discarding partial PSI section on new pusi", "pid", pid)
	}
	ptr := int(payload[0])
	rest := payload[1:]
	if ptr > len(rest) {
		a.log.Warning("PSI pointer field exceeds payload", "pid", pid)
		s.state = stateIdle
		s.buf = nil
		return
	}
	rest = rest[ptr:]

	s.state = stateCollecting
	s.buf = append([]byte(nil), rest...)
	s.want = 0
	a.tryEmit(pid, s)
}

// tryEmit checks whether s has accumulated section_length bytes yet, and if
// so, parses and publishes it.
func (a *PSIAssembler) tryEmit(pid uint16, s *pidAssembly) {
	if len(s.buf) < 3 {
		return
	}
	if s.want == 0 {
		sectionLen := int(s.buf[1]&0x03)<<8 | int(s.buf[2])
		s.want = 3 + sectionLen
	}
	if len(s.buf) < s.want {
		return
	}

	section := s.buf[:s.want]
	// Parse expects the pointer_field at index 0; reassembled sections
	// don't carry one (it was already consumed), so prepend a zero byte.
	framed := make([]byte, 1+len(section))
	copy(framed[1:], section)

	p, err := psi.Parse(framed)
	s.state = stateIdle
	s.buf = nil
	s.want = 0
	if err != nil {
		a.log.Warning("discarding malformed PSI section", "pid", pid, "error", err)
		return
	}

	switch sd := p.SyntaxSection.SpecificData.(type) {
	case *psi.PAT:
		_ = sd
		a.pat = p
	case *psi.PMT:
		_ = sd
		a.pmt = p
	}
}
