/*
NAME
  psi.go

DESCRIPTION
  psi.go provides encoding and decoding of MPEG-TS program specific
  information sections (PAT, PMT), including section-length and CRC
  bookkeeping.

AUTHOR
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package psi provides decoding and encoding of MPEG-TS program specific
// information sections.
package psi

import (
	"github.com/pkg/errors"
)

// Lengths of section definitions.
const (
	ESSDataLen = 5
	DescDefLen = 2
	PMTDefLen  = 4
	PATLen     = 4
	TSSDefLen  = 5
)

// Table IDs.
const (
	patTableID = 0x00
	pmtTableID = 0x02
)

// MetadataTag is the descriptor tag used for ausocean-style embedded metadata.
const MetadataTag = 0x26

// CRC hash size, in bytes.
const crcSize = 4

// PSI is a decoded program specific information section: a PAT or PMT table.
type PSI struct {
	PointerField    byte
	TableID         byte
	SyntaxIndicator bool
	PrivateBit      bool
	SectionLen      uint16
	SyntaxSection   *SyntaxSection
	CRC             uint32
}

// SyntaxSection is the common table_id_extension/version/section_number
// envelope shared by PAT and PMT sections.
type SyntaxSection struct {
	TableIDExt   uint16
	Version      byte
	CurrentNext  bool
	Section      byte
	LastSection  byte
	SpecificData SpecificData
}

// SpecificData is implemented by PAT and PMT.
type SpecificData interface {
	Bytes() []byte
}

// PAT is a decoded program association table entry: one program_number ->
// PMT_PID mapping. Parse decodes only the first program of a PAT section;
// further programs in the same section are not decoded.
type PAT struct {
	Program       uint16
	ProgramMapPID uint16
}

// PMT is a decoded program map table.
type PMT struct {
	ProgramClockPID    uint16
	ProgramInfoLen     uint16
	Descriptors        []Descriptor
	StreamSpecificData []StreamSpecificData
}

// StreamSpecificData describes one elementary stream entry in a PMT.
type StreamSpecificData struct {
	StreamType    byte
	PID           uint16
	StreamInfoLen uint16
	Descriptors   []Descriptor
}

// Descriptor is a generic tag/length/data descriptor.
type Descriptor struct {
	Tag  byte
	Len  byte
	Data []byte
}

// NewPAT returns a minimal, single-program PAT PSI ready for encoding.
func NewPAT(program, pmtPID uint16) *PSI {
	return &PSI{
		TableID:         patTableID,
		SyntaxIndicator: true,
		SectionLen:      0x0d,
		SyntaxSection: &SyntaxSection{
			TableIDExt:  1,
			CurrentNext: true,
			SpecificData: &PAT{
				Program:       program,
				ProgramMapPID: pmtPID,
			},
		},
	}
}

// NewPMT returns a minimal single-elementary-stream PMT PSI ready for
// encoding.
func NewPMT(pcrPID uint16, streamType byte, streamPID uint16) *PSI {
	return &PSI{
		TableID:         pmtTableID,
		SyntaxIndicator: true,
		SectionLen:      0x12,
		SyntaxSection: &SyntaxSection{
			TableIDExt:  1,
			CurrentNext: true,
			SpecificData: &PMT{
				ProgramClockPID: pcrPID,
				StreamSpecificData: []StreamSpecificData{
					{StreamType: streamType, PID: streamPID},
				},
			},
		},
	}
}

// Bytes encodes p, including the pointer field and trailing CRC.
func (p *PSI) Bytes() []byte {
	out := make([]byte, 4)
	out[0] = p.PointerField
	out[1] = p.TableID
	out[2] = 0x80 | 0x30 | (0x03 & byte(p.SectionLen>>8))
	out[3] = byte(p.SectionLen)
	out = append(out, p.SyntaxSection.Bytes()...)
	return AddCRC(out)
}

// Bytes encodes t.
func (t *SyntaxSection) Bytes() []byte {
	out := make([]byte, TSSDefLen)
	out[0] = byte(t.TableIDExt >> 8)
	out[1] = byte(t.TableIDExt)
	out[2] = 0xc0 | (0x3e & (t.Version << 1)) | (0x01 & asByte(t.CurrentNext))
	out[3] = t.Section
	out[4] = t.LastSection
	return append(out, t.SpecificData.Bytes()...)
}

// Bytes encodes p.
func (p *PAT) Bytes() []byte {
	out := make([]byte, PATLen)
	out[0] = byte(p.Program >> 8)
	out[1] = byte(p.Program)
	out[2] = 0xe0 | (0x1f & byte(p.ProgramMapPID>>8))
	out[3] = byte(p.ProgramMapPID)
	return out
}

// Bytes encodes p.
func (p *PMT) Bytes() []byte {
	out := make([]byte, PMTDefLen)
	out[0] = 0xe0 | (0x1f & byte(p.ProgramClockPID>>8))
	out[1] = byte(p.ProgramClockPID)
	out[2] = 0xf0 | (0x03 & byte(p.ProgramInfoLen>>8))
	out[3] = byte(p.ProgramInfoLen)
	for _, d := range p.Descriptors {
		out = append(out, d.Bytes()...)
	}
	for _, s := range p.StreamSpecificData {
		out = append(out, s.Bytes()...)
	}
	return out
}

// Bytes encodes d.
func (d *Descriptor) Bytes() []byte {
	out := make([]byte, DescDefLen)
	out[0] = d.Tag
	out[1] = d.Len
	return append(out, d.Data...)
}

// Bytes encodes e.
func (e *StreamSpecificData) Bytes() []byte {
	out := make([]byte, ESSDataLen)
	out[0] = e.StreamType
	out[1] = 0xe0 | (0x1f & byte(e.PID>>8))
	out[2] = byte(e.PID)
	out[3] = 0xf0 | (0x03 & byte(e.StreamInfoLen>>8))
	out[4] = byte(e.StreamInfoLen)
	for _, d := range e.Descriptors {
		out = append(out, d.Bytes()...)
	}
	return out
}

func asByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Errors returned by Parse.
var (
	ErrShortSection  = errors.New("psi: section shorter than declared section_length")
	ErrCRCMismatch   = errors.New("psi: CRC32 mismatch")
	ErrUnknownTable  = errors.New("psi: unsupported table_id")
)

// Parse decodes a complete PSI section (pointer field onward, i.e. exactly
// what PSIAssembler hands to its caller) and validates its CRC. Only
// table_id 0x00 (PAT) and 0x02 (PMT) are understood; other table ids yield
// ErrUnknownTable.
func Parse(d []byte) (*PSI, error) {
	if len(d) < 4 {
		return nil, ErrShortSection
	}
	p := &PSI{
		PointerField:    d[0],
		TableID:         d[1],
		SyntaxIndicator: d[2]&0x80 != 0,
		PrivateBit:      d[2]&0x40 != 0,
		SectionLen:      uint16(d[2]&0x03)<<8 | uint16(d[3]),
	}
	total := 4 + int(p.SectionLen)
	if len(d) < total {
		return nil, ErrShortSection
	}
	section := d[:total]
	if !VerifyCRC(section[1:]) {
		return nil, ErrCRCMismatch
	}
	p.CRC = uint32(section[total-4])<<24 | uint32(section[total-3])<<16 | uint32(section[total-2])<<8 | uint32(section[total-1])

	body := d[4 : total-crcSize]
	if len(body) < 5 {
		return nil, ErrShortSection
	}
	ss := &SyntaxSection{
		TableIDExt:  uint16(body[0])<<8 | uint16(body[1]),
		Version:     (body[2] >> 1) & 0x1f,
		CurrentNext: body[2]&0x01 != 0,
		Section:     body[3],
		LastSection: body[4],
	}
	rest := body[5:]

	switch p.TableID {
	case patTableID:
		pat := &PAT{
			Program:       uint16(rest[0])<<8 | uint16(rest[1]),
			ProgramMapPID: uint16(rest[2]&0x1f)<<8 | uint16(rest[3]),
		}
		ss.SpecificData = pat
	case pmtTableID:
		pmt, err := parsePMT(rest)
		if err != nil {
			return nil, err
		}
		ss.SpecificData = pmt
	default:
		return nil, ErrUnknownTable
	}

	p.SyntaxSection = ss
	return p, nil
}

// parsePMT decodes the PMT-specific data following the syntax-section
// envelope.
func parsePMT(d []byte) (*PMT, error) {
	if len(d) < 4 {
		return nil, ErrShortSection
	}
	pmt := &PMT{
		ProgramClockPID: uint16(d[0]&0x1f)<<8 | uint16(d[1]),
		ProgramInfoLen:  uint16(d[2]&0x03)<<8 | uint16(d[3]),
	}
	off := 4
	descEnd := off + int(pmt.ProgramInfoLen)
	if descEnd > len(d) {
		return nil, ErrShortSection
	}
	pmt.Descriptors = parseDescriptors(d[off:descEnd])
	off = descEnd

	for off < len(d) {
		if off+5 > len(d) {
			break
		}
		streamType := d[off]
		pid := uint16(d[off+1]&0x1f)<<8 | uint16(d[off+2])
		infoLen := uint16(d[off+3]&0x03)<<8 | uint16(d[off+4])
		off += 5
		end := off + int(infoLen)
		if end > len(d) {
			return nil, ErrShortSection
		}
		pmt.StreamSpecificData = append(pmt.StreamSpecificData, StreamSpecificData{
			StreamType:    streamType,
			PID:           pid,
			StreamInfoLen: infoLen,
			Descriptors:   parseDescriptors(d[off:end]),
		})
		off = end
	}
	return pmt, nil
}

// parseDescriptors walks a run of tag/length/data descriptors.
func parseDescriptors(d []byte) []Descriptor {
	var out []Descriptor
	for i := 0; i+2 <= len(d); {
		l := int(d[i+1])
		if i+2+l > len(d) {
			break
		}
		out = append(out, Descriptor{Tag: d[i], Len: d[i+1], Data: d[i+2 : i+2+l]})
		i += 2 + l
	}
	return out
}

// ProgramMap returns the program_number -> PMT_PID mapping described by a
// PAT section. It is the decode-time analogue of the PAT struct, useful
// when a section carries more than one program.
func ProgramMap(sections []*PAT) map[uint16]uint16 {
	m := make(map[uint16]uint16, len(sections))
	for _, s := range sections {
		m[s.Program] = s.ProgramMapPID
	}
	return m
}
