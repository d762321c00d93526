/*
NAME
  demux.go

DESCRIPTION
  demux.go drives a Reader and PSIAssembler together to select a program's
  video and audio elementary streams and yield complete PES packets, and
  optionally mirrors what it reads back out as TS with periodic PAT/PMT
  re-emission.

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
	"io"

	"github.com/ausocean/tsreader/container/pes"
	"github.com/ausocean/tsreader/container/ts/psi"
	"github.com/ausocean/utils/logging"
)

// mirrorPeriod is the default number of PES packets between PAT/PMT
// re-emission in mirror mode.
const mirrorPeriod = 50

// PESDemux selects one program's video (and optionally audio) elementary
// streams from a TS source and yields complete PES packets in arrival
// order.
type PESDemux struct {
	r   *Reader
	asm *PSIAssembler
	log logging.Logger

	program     uint16 // Program number selected once the PAT is known; 0 means "first found".
	videoPID    uint16
	audioPID    uint16
	videoOnly   bool
	haveStreams bool

	pesBuf map[uint16][]byte // per-PID accumulation buffer for the PES packet currently being built.

	mirror         *mirrorWriter
	mirrorPeriod   int
	pesSinceMirror int
	repair         *DiscontinuityRepairer
}

// mirrorWriter wraps a destination and periodic PAT/PMT re-emission state
// for PESDemux's mirror mode.
type mirrorWriter struct {
	w   io.Writer
	buf []byte
}

// NewPESDemux returns a PESDemux reading packets from r. program selects a
// program number to follow; 0 selects the first program found in the PAT.
// videoOnly, if true, causes the audio elementary stream (if any) to be
// ignored.
func NewPESDemux(r *Reader, program uint16, videoOnly bool, log logging.Logger) *PESDemux {
	return &PESDemux{
		r:            r,
		asm:          NewPSIAssembler(log),
		log:          log,
		program:      program,
		videoOnly:    videoOnly,
		pesBuf:       make(map[uint16][]byte),
		mirrorPeriod: mirrorPeriod,
	}
}

// Mirror attaches w as a mirror destination: every TS packet this demux
// reads is also re-emitted to w, with PAT/PMT repeated every K PES packets
// (K configurable via SetMirrorPeriod). Re-emitted packets have their
// discontinuity indicator repaired by a DiscontinuityRepairer so a failed
// write, retried on the next packet, doesn't read as a spurious continuity
// error downstream.
func (d *PESDemux) Mirror(w io.Writer) {
	d.mirror = &mirrorWriter{w: w, buf: make([]byte, PacketSize)}
	d.repair = NewDiscontinuityRepairer()
}

// SetMirrorPeriod overrides the default number of PES packets between
// PAT/PMT re-emission in mirror mode.
func (d *PESDemux) SetMirrorPeriod(n int) {
	if n > 0 {
		d.mirrorPeriod = n
	}
}

// resolveStreams waits until a PAT and the selected program's PMT have been
// observed, and records the video/audio PIDs to follow.
func (d *PESDemux) resolveStreams() error {
	for {
		pat := d.asm.PAT()
		pmt := d.asm.PMT()
		if pat != nil && pmt != nil {
			pm, ok := pat.SyntaxSection.SpecificData.(*psi.PAT)
			if ok && (d.program == 0 || pm.Program == d.program) {
				m := pmt.SyntaxSection.SpecificData.(*psi.PMT)
				for _, s := range m.StreamSpecificData {
					if isVideoStreamType(s.StreamType) && d.videoPID == 0 {
						d.videoPID = s.PID
					}
					if isAudioStreamType(s.StreamType) && d.audioPID == 0 && !d.videoOnly {
						d.audioPID = s.PID
					}
				}
				if d.videoPID != 0 {
					d.haveStreams = true
					return nil
				}
			}
		}
		p, err := d.r.ReadPacket()
		if err != nil {
			return err
		}
		d.feedPSI(p)
		if err := d.mirrorPacket(p); err != nil {
			return err
		}
	}
}

// feedPSI hands p's payload to the PSI assembler if p carries PAT or PMT
// data. The PMT's PID is learned from the PAT, so a packet on that PID is
// fed as soon as the PAT names it, not only once the PMT is already known.
func (d *PESDemux) feedPSI(p *Packet) {
	if pmtPID := d.pmtPID(); p.PID == PatPID || (pmtPID != NullPID && p.PID == pmtPID) {
		d.asm.Feed(p.PID, p.PUSI, p.Payload)
	}
}

// mirrorPacket re-emits p to the mirror destination, if one is attached.
func (d *PESDemux) mirrorPacket(p *Packet) error {
	if d.mirror == nil {
		return nil
	}
	if d.haveStreams && p.PUSI && (p.PID == d.videoPID || (d.audioPID != 0 && p.PID == d.audioPID)) {
		d.pesSinceMirror++
	}
	return d.writeMirror(p)
}

// pmtPID returns the PMT's own PID as named by the PAT, or NullPID if
// unknown.
func (d *PESDemux) pmtPID() uint16 {
	pat := d.asm.PAT()
	if pat == nil {
		return NullPID
	}
	if pm, ok := pat.SyntaxSection.SpecificData.(*psi.PAT); ok {
		return pm.ProgramMapPID
	}
	return NullPID
}

// writeMirror re-encodes p and writes it to the mirror destination,
// prefixing a PAT/PMT pair if the re-emission period has elapsed.
func (d *PESDemux) writeMirror(p *Packet) error {
	if d.pesSinceMirror >= d.mirrorPeriod {
		if pat := d.asm.PAT(); pat != nil {
			if err := d.writeSection(PatPID, pat.Bytes()); err != nil {
				return err
			}
		}
		if pmt := d.asm.PMT(); pmt != nil {
			if err := d.writeSection(d.pmtPID(), pmt.Bytes()); err != nil {
				return err
			}
		}
		d.pesSinceMirror = 0
	}
	raw := p.Bytes(d.mirror.buf)
	if err := d.repair.Repair(raw); err != nil {
		return err
	}
	if _, err := d.mirror.w.Write(raw); err != nil {
		d.repair.Failed(p.PID)
		return err
	}
	return nil
}

// writeSection wraps a PSI section in a single TS packet (assuming it fits
// within one packet's payload) and writes it to the mirror destination.
// section is a PSI.Bytes() encoding, which already carries its own leading
// pointer_field byte.
func (d *PESDemux) writeSection(pid uint16, section []byte) error {
	cc, _ := d.repair.ExpectedCC(pid)
	pkt := &Packet{PUSI: true, PID: pid, AFC: AFCPayloadOnly, CC: byte(cc)}
	payload := section
	if len(payload) < PacketSize-HeadSize {
		padded := make([]byte, PacketSize-HeadSize)
		copy(padded, payload)
		for i := len(payload); i < len(padded); i++ {
			padded[i] = 0xff
		}
		payload = padded
	}
	pkt.Payload = payload
	raw := pkt.Bytes(d.mirror.buf)
	if err := d.repair.Repair(raw); err != nil {
		return err
	}
	if _, err := d.mirror.w.Write(raw); err != nil {
		d.repair.Failed(pid)
		return err
	}
	return nil
}

// NextPESPacket returns the next complete PES packet from the selected
// video or audio PID, or io.EOF once the source is exhausted. A PES
// packet's boundary is the arrival of the next TS packet on the same PID
// with pusi=1, or EOF.
func (d *PESDemux) NextPESPacket() (pid uint16, packet *pes.Packet, err error) {
	if !d.haveStreams {
		if err := d.resolveStreams(); err != nil {
			return 0, nil, err
		}
	}

	for {
		p, err := d.r.ReadPacket()
		if err == io.EOF {
			for candidate, buf := range d.pesBuf {
				if len(buf) > 0 {
					pkt, perr := pes.Parse(buf)
					d.pesBuf[candidate] = nil
					if perr != nil {
						d.log.Warning("discarding malformed trailing PES", "pid", candidate, "error", perr)
						continue
					}
					return candidate, pkt, nil
				}
			}
			return 0, nil, io.EOF
		}
		if err != nil {
			return 0, nil, err
		}

		d.feedPSI(p)
		if err := d.mirrorPacket(p); err != nil {
			return 0, nil, err
		}

		if p.PID != d.videoPID && p.PID != d.audioPID {
			continue
		}

		if p.PUSI {
			prev := d.pesBuf[p.PID]
			d.pesBuf[p.PID] = append([]byte(nil), p.Payload...)
			if len(prev) > 0 {
				pkt, perr := pes.Parse(prev)
				if perr != nil {
					d.log.Warning("discarding malformed PES", "pid", p.PID, "error", perr)
					continue
				}
				return p.PID, pkt, nil
			}
			continue
		}
		if buf, ok := d.pesBuf[p.PID]; ok {
			d.pesBuf[p.PID] = append(buf, p.Payload...)
		}
	}
}

// VideoPID returns the selected video elementary stream's PID, valid once
// the first PES packet has been resolved.
func (d *PESDemux) VideoPID() uint16 { return d.videoPID }

// AudioPID returns the selected audio elementary stream's PID, 0 if none
// or video-only mode is active.
func (d *PESDemux) AudioPID() uint16 { return d.audioPID }

// isVideoStreamType reports whether t is a stream_type this package
// recognises as video (H.262 or H.264).
func isVideoStreamType(t byte) bool {
	switch t {
	case 0x02, 0x1b:
		return true
	default:
		return false
	}
}

// isAudioStreamType reports whether t is a stream_type this package
// recognises as audio (MPEG audio or AAC ADTS).
func isAudioStreamType(t byte) bool {
	switch t {
	case 0x03, 0x04, 0x0f:
		return true
	default:
		return false
	}
}
