/*
NAME
  pes.go

DESCRIPTION
  pes.go provides decoding and encoding of packetized elementary stream (PES)
  packet headers, including PTS, DTS and ESCR extraction.

AUTHOR
  Saxon A. Nelson-Milton <saxon.milton@gmail.com>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pes provides decoding and encoding of packetized elementary
// stream (PES) packets.
package pes

import (
	"github.com/Comcast/gots/v2"
	"github.com/pkg/errors"
)

// MaxPesSize is the largest PES packet this package will encode into.
const MaxPesSize = 64 * 1 << 10

// PTS/DTS indicator values (octet 7, bits 6-7).
const (
	PDINone = 0x0
	PDIPTS  = 0x2
	PDIBoth = 0x3
)

/*
Packet encapsulates the fields of a PES packet. Wire layout:

	octet no | content
	---------|----------------------------------------------
	0-2      | 0x00 0x00 0x01 (start code prefix)
	3        | stream_id
	4-5      | PES_packet_length
	6        | 0x2 | SC | Priority | DAI | Copyright | Original
	7        | PDI | ESCRF | ESRF | DSMTMF | ACIF | CRCF | EF
	8        | PES_header_data_length
	9..      | optional fields selected by the flags above
	...      | stuffing bytes (0xFF)
	...      | payload data
*/
type Packet struct {
	StreamID     byte
	Length       uint16 // PES_packet_length: bytes following this field, 0 for "unbounded" video.
	SC           byte   // Scrambling control.
	Priority     bool
	DAI          bool // Data alignment indicator.
	Copyright    bool
	Original     bool
	PDI          byte // PTS/DTS indicator.
	ESCRF        bool
	ESRF         bool
	DSMTMF       bool
	ACIF         bool
	CRCF         bool
	EF           bool
	HeaderLength byte
	PTS          uint64 // 33-bit, present when PDI != PDINone.
	DTS          uint64 // 33-bit, present when PDI == PDIBoth.
	ESCR         uint64 // 42-bit (base*300+extension), present when ESCRF.
	ESR          uint32 // 22-bit elementary stream rate, present when ESRF.
	Stuff        []byte
	Data         []byte
}

// Errors returned by Parse.
var (
	ErrShortHeader    = errors.New("pes: packet shorter than required fixed header")
	ErrBadStartCode   = errors.New("pes: missing 00 00 01 start code prefix")
	ErrShortOptFields = errors.New("pes: declared header length exceeds available data")
)

// Parse decodes a PES packet, including any optional header fields implied
// by its flags, from the start code prefix through to the end of payload
// data. d must hold a complete packet (length zero on the wire, meaning
// "extends to the next PES start", is the caller's responsibility to
// resolve by slicing d to the right bound before calling Parse).
func Parse(d []byte) (*Packet, error) {
	if len(d) < 6 {
		return nil, ErrShortHeader
	}
	if d[0] != 0x00 || d[1] != 0x00 || d[2] != 0x01 {
		return nil, ErrBadStartCode
	}

	p := &Packet{
		StreamID: d[3],
		Length:   uint16(d[4])<<8 | uint16(d[5]),
	}

	if !hasOptionalHeader(p.StreamID) {
		p.Data = d[6:]
		return p, nil
	}
	if len(d) < 9 {
		return nil, ErrShortHeader
	}

	p.SC = (d[6] >> 4) & 0x03
	p.Priority = d[6]&0x08 != 0
	p.DAI = d[6]&0x04 != 0
	p.Copyright = d[6]&0x02 != 0
	p.Original = d[6]&0x01 != 0

	p.PDI = (d[7] >> 6) & 0x03
	p.ESCRF = d[7]&0x20 != 0
	p.ESRF = d[7]&0x10 != 0
	p.DSMTMF = d[7]&0x08 != 0
	p.ACIF = d[7]&0x04 != 0
	p.CRCF = d[7]&0x02 != 0
	p.EF = d[7]&0x01 != 0

	p.HeaderLength = d[8]
	fieldsEnd := 9 + int(p.HeaderLength)
	if fieldsEnd > len(d) {
		return nil, ErrShortOptFields
	}

	off := 9
	if p.PDI == PDIPTS || p.PDI == PDIBoth {
		if off+5 > len(d) {
			return nil, ErrShortOptFields
		}
		p.PTS = gots.ExtractTime(d[off : off+5])
		off += 5
		if p.PDI == PDIBoth {
			if off+5 > len(d) {
				return nil, ErrShortOptFields
			}
			p.DTS = gots.ExtractTime(d[off : off+5])
			off += 5
		}
	}
	if p.ESCRF {
		if off+6 > len(d) {
			return nil, ErrShortOptFields
		}
		p.ESCR = extractESCR(d[off : off+6])
		off += 6
	}
	if p.ESRF {
		if off+3 > len(d) {
			return nil, ErrShortOptFields
		}
		p.ESR = extractESR(d[off : off+3])
		off += 3
	}

	if fieldsEnd > off {
		p.Stuff = d[off:fieldsEnd]
	}
	if len(d) > fieldsEnd {
		p.Data = d[fieldsEnd:]
	}
	return p, nil
}

// hasOptionalHeader reports whether streamID carries the optional PES
// header fields; a handful of stream ids (padding, program stream
// directory, etc.) never do.
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xbc, 0xbe, 0xbf, 0xf0, 0xf1, 0xff, 0xf2, 0xf8:
		return false
	default:
		return true
	}
}

// extractESCR decodes the 6-byte on-wire ESCR field (33-bit base, 9-bit
// extension, interleaved with marker bits) into a single 42-bit value
// base*300+extension.
func extractESCR(d []byte) uint64 {
	base := uint64(d[0]&0x38)<<27 | uint64(d[0]&0x03)<<28 | uint64(d[1])<<20 |
		uint64(d[2]&0xf8)<<12 | uint64(d[2]&0x03)<<13 | uint64(d[3])<<5 | uint64(d[4]&0xf8)>>3
	ext := uint64(d[4]&0x03)<<7 | uint64(d[5])>>1
	return base*300 + ext
}

// insertESCR encodes a 42-bit ESCR value (base*300+extension) into the
// 6-byte on-wire field, with marker bits set per the standard.
func insertESCR(escr uint64, buf []byte) {
	base := escr / 300
	ext := escr % 300
	buf[0] = byte(base>>28&0x03) | 0x04 | byte(base>>30&0x07)<<3 | 0x80
	buf[1] = byte(base >> 20)
	buf[2] = byte(base>>13&0x03) | 0x04 | byte(base>>15&0x1f)<<3
	buf[3] = byte(base >> 5)
	buf[4] = byte(ext>>7&0x03) | 0x04 | byte(base<<3)&0xf8
	buf[5] = 0x01 | byte(ext<<1)
}

// extractESR decodes the 3-byte on-wire elementary stream rate field.
func extractESR(d []byte) uint32 {
	return uint32(d[0]&0x7f)<<15 | uint32(d[1])<<7 | uint32(d[2])>>1
}

// insertESR encodes a 22-bit elementary stream rate into the 3-byte
// on-wire field.
func insertESR(r uint32, buf []byte) {
	buf[0] = byte(r>>15)&0x7f | 0x80
	buf[1] = byte(r >> 7)
	buf[2] = 0x01 | byte(r<<1)
}

// Bytes encodes p. buf is reused when it has MaxPesSize capacity, matching
// the scratch-buffer convention used by callers streaming many packets.
func (p *Packet) Bytes(buf []byte) []byte {
	if buf == nil || cap(buf) != MaxPesSize {
		buf = make([]byte, 0, MaxPesSize)
	}
	buf = buf[:0]
	buf = append(buf, 0x00, 0x00, 0x01,
		p.StreamID,
		byte(p.Length>>8), byte(p.Length),
	)

	if !hasOptionalHeader(p.StreamID) {
		return append(buf, p.Data...)
	}

	buf = append(buf,
		0x80|p.SC<<4|boolByte(p.Priority)<<3|boolByte(p.DAI)<<2|boolByte(p.Copyright)<<1|boolByte(p.Original),
		p.PDI<<6|boolByte(p.ESCRF)<<5|boolByte(p.ESRF)<<4|boolByte(p.DSMTMF)<<3|boolByte(p.ACIF)<<2|boolByte(p.CRCF)<<1|boolByte(p.EF),
		p.HeaderLength,
	)

	if p.PDI == PDIPTS || p.PDI == PDIBoth {
		i := len(buf)
		buf = buf[:i+5]
		gots.InsertPTS(buf[i:], p.PTS)
		buf[i] = 0x20 | buf[i]&0x0e | 0x01
		if p.PDI == PDIBoth {
			j := len(buf)
			buf = buf[:j+5]
			gots.InsertPTS(buf[j:], p.DTS)
			buf[j] = 0x10 | buf[j]&0x0e | 0x01
		}
	}
	if p.ESCRF {
		i := len(buf)
		buf = buf[:i+6]
		insertESCR(p.ESCR, buf[i:])
	}
	if p.ESRF {
		i := len(buf)
		buf = buf[:i+3]
		insertESR(p.ESR, buf[i:])
	}

	buf = append(buf, p.Stuff...)
	buf = append(buf, p.Data...)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
