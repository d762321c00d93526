/*
NAME
  ps.go

DESCRIPTION
  ps.go provides a reader over an MPEG-2 Program Stream: pack headers,
  system headers and PES packets delimited by start codes, ending at the
  MPEG_program_end_code.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ps provides decoding of MPEG-2 Program Stream containers.
package ps

import (
	"encoding/binary"
	"io"

	"github.com/ausocean/tsreader/container/pes"
	"github.com/pkg/errors"
)

// Start codes delimiting Program Stream units.
const (
	PackStartCode       = 0xba
	SystemHeaderCode    = 0xbb
	ProgramStreamMapCode = 0xbc
	ProgramEndCode      = 0xb9
)

// PackHeader is a decoded MPEG-2 program stream pack header.
type PackHeader struct {
	SCR           uint64 // System clock reference, 42-bit (base*300+extension), 27MHz.
	MuxRate       uint32 // program_mux_rate, units of 50 bytes/s.
	StuffingBytes int
}

// SystemHeader is a decoded program stream system header; stream-bound
// fields are not modelled beyond the rate bound, which is the only field
// every reader of this package's callers has needed.
type SystemHeader struct {
	RateBound uint32
	Raw       []byte // Full header payload, including stream-bound entries, for callers that need more.
}

// Unit is one decoded element of the program stream: exactly one of Pack,
// System, PES or End is non-nil/true.
type Unit struct {
	Pack     *PackHeader
	System   *SystemHeader
	PES      *pes.Packet
	StreamID byte // Valid when PES != nil.
	End      bool
}

// Errors returned by Reader.Next.
var (
	ErrNoStartCode = errors.New("ps: missing 00 00 01 start code")
	ErrShortPack   = errors.New("ps: pack header truncated")
	ErrShortSystem = errors.New("ps: system header truncated")
)

// Reader pulls successive program stream units from an underlying
// io.Reader.
type Reader struct {
	src io.Reader
	buf []byte
	off int
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src, buf: make([]byte, 0, 64*1024)}
}

// fill ensures at least n bytes are available starting at r.buf[r.off].
func (r *Reader) fill(n int) error {
	for len(r.buf)-r.off < n {
		if r.off > 0 {
			copy(r.buf, r.buf[r.off:])
			r.buf = r.buf[:len(r.buf)-r.off]
			r.off = 0
		}
		if len(r.buf)+4096 > cap(r.buf) {
			grown := make([]byte, len(r.buf), cap(r.buf)*2+4096)
			copy(grown, r.buf)
			r.buf = grown
		}
		tmp := make([]byte, 4096)
		m, err := r.src.Read(tmp)
		r.buf = append(r.buf, tmp[:m]...)
		if m == 0 && err != nil {
			return err
		}
	}
	return nil
}

// Next decodes and returns the next unit in the stream: a pack header,
// system header, a PES packet, or the program end code. A program stream
// map is skipped and the unit following it is returned.
func (r *Reader) Next() (*Unit, error) {
	for {
		if err := r.fill(4); err != nil {
			return nil, err
		}
		if r.buf[r.off] != 0x00 || r.buf[r.off+1] != 0x00 || r.buf[r.off+2] != 0x01 {
			return nil, ErrNoStartCode
		}
		code := r.buf[r.off+3]

		switch code {
		case PackStartCode:
			return r.readPack()
		case SystemHeaderCode:
			return r.readSystemHeader()
		case ProgramStreamMapCode:
			if err := r.skipLengthPrefixed(); err != nil {
				return nil, err
			}
			continue
		case ProgramEndCode:
			r.off += 4
			return &Unit{End: true}, nil
		default:
			return r.readPES(code)
		}
	}
}

// readPack decodes a pack_header.
func (r *Reader) readPack() (*Unit, error) {
	if err := r.fill(14); err != nil {
		return nil, errors.Wrap(err, "ps: pack header")
	}
	d := r.buf[r.off : r.off+14]
	if d[4]&0xc0 != 0x40 {
		return nil, ErrShortPack
	}
	scr := decodeSCR(d[4:10])
	muxRate := uint32(d[10])<<14 | uint32(d[11])<<6 | uint32(d[12])>>2
	stuffing := int(d[13] & 0x07)
	r.off += 14
	if err := r.fill(stuffing); err != nil {
		return nil, err
	}
	r.off += stuffing
	return &Unit{Pack: &PackHeader{SCR: scr, MuxRate: muxRate, StuffingBytes: stuffing}}, nil
}

// decodeSCR decodes the 6-byte system clock reference field of a pack
// header: the same 33-bit-base/9-bit-extension layout as a TS PCR, but
// interleaved with marker bits rather than reserved bits.
func decodeSCR(d []byte) uint64 {
	base := uint64(d[0]&0x38)<<27 | uint64(d[0]&0x03)<<28 | uint64(d[1])<<20 |
		uint64(d[2]&0xf8)<<12 | uint64(d[2]&0x03)<<13 | uint64(d[3])<<5 | uint64(d[4]&0xf8)>>3
	ext := uint64(d[4]&0x03)<<7 | uint64(d[5])>>1
	return base*300 + ext
}

// readSystemHeader decodes a system_header, retaining its raw payload.
func (r *Reader) readSystemHeader() (*Unit, error) {
	if err := r.fill(6); err != nil {
		return nil, errors.Wrap(err, "ps: system header")
	}
	length := int(binary.BigEndian.Uint16(r.buf[r.off+4 : r.off+6]))
	if err := r.fill(6 + length); err != nil {
		return nil, errors.Wrap(err, "ps: system header")
	}
	body := r.buf[r.off+6 : r.off+6+length]
	if len(body) < 3 {
		return nil, ErrShortSystem
	}
	rateBound := uint32(body[0]&0x7f)<<15 | uint32(body[1])<<7 | uint32(body[2])>>1
	raw := append([]byte(nil), body...)
	r.off += 6 + length
	return &Unit{System: &SystemHeader{RateBound: rateBound, Raw: raw}}, nil
}

// skipLengthPrefixed consumes a start-code-prefixed unit whose length is a
// 16-bit big-endian field at offset 4 (program_stream_map and similar).
func (r *Reader) skipLengthPrefixed() error {
	if err := r.fill(6); err != nil {
		return err
	}
	length := int(binary.BigEndian.Uint16(r.buf[r.off+4 : r.off+6]))
	if err := r.fill(6 + length); err != nil {
		return err
	}
	r.off += 6 + length
	return nil
}

// readPES decodes a PES packet whose stream_id is code.
func (r *Reader) readPES(code byte) (*Unit, error) {
	if err := r.fill(6); err != nil {
		return nil, errors.Wrap(err, "ps: PES header")
	}
	length := int(binary.BigEndian.Uint16(r.buf[r.off+4 : r.off+6]))
	total := 6 + length
	if length == 0 {
		return nil, errors.New("ps: PES packets with unbounded length are not supported in program stream")
	}
	if err := r.fill(total); err != nil {
		return nil, errors.Wrap(err, "ps: PES packet")
	}
	d := r.buf[r.off : r.off+total]
	r.off += total

	p, err := pes.Parse(d)
	if err != nil {
		return nil, errors.Wrap(err, "ps: malformed PES packet")
	}
	return &Unit{PES: p, StreamID: code}, nil
}
