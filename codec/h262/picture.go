/*
NAME
  picture.go

DESCRIPTION
  picture.go assembles MPEG-2 video elementary stream units into pictures,
  and pairs field pictures into frames, using the start-code scanner
  provided by the es package.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package h262 provides a picture-level reader over an MPEG-2 (H.262)
// video elementary stream, pairing field pictures into frames.
package h262

import (
	"errors"
	"io"

	"github.com/ausocean/tsreader/es"
)

// MPEG-2 video start codes (ISO/IEC 13818-2 §6.2).
const (
	pictureStartCode     = 0x00
	sliceStartCodeMin    = 0x01
	sliceStartCodeMax    = 0xaf
	userDataStartCode    = 0xb2
	sequenceHeaderCode   = 0xb3
	sequenceErrorCode    = 0xb4
	extensionStartCode   = 0xb5
	sequenceEndCode      = 0xb7
	groupStartCode       = 0xb8
)

// Extension start code identifiers (ISO/IEC 13818-2 §6.2.3).
const (
	extIDSequence        = 0x1
	extIDSequenceDisplay = 0x2
	extIDQuantMatrix     = 0x3
	extIDCopyright       = 0x4
	extIDPictureDisplay  = 0x7
	extIDPictureCoding   = 0x8
)

// PictureStructure values from the picture coding extension.
type PictureStructure byte

const (
	TopField PictureStructure = 1 + iota
	BottomField
	FramePicture
)

// Picture is one decoded MPEG-2 picture: either a coded picture (with its
// constituent start-code units retained verbatim), a sequence header, or
// the sequence end singleton.
type Picture struct {
	Units             []es.Unit
	TemporalReference uint16
	CodingType        byte // picture_coding_type: 1=I, 2=P, 3=B.
	Structure         PictureStructure
	AFD               byte // Active format description, 4 bits; 0 if none seen yet.
	IsSequenceHeader  bool
	IsSequenceEnd     bool
	WasMerged         bool // Set on the first field of a pair once next_frame merges its second field in.
}

// dtg1Signature is the ATSC/DTG user_data signature preceding an Active
// Format Description in MPEG-2 user data.
var dtg1Signature = [4]byte{'D', 'T', 'G', '1'}

// ErrFieldPairing is returned by Builder.NextFrame when two successive
// field pictures cannot be paired because their temporal references
// disagree, even after retrying with the following picture.
var ErrFieldPairing = errors.New("h262: field pairing failed")

// Builder reads successive Pictures from an underlying elementary stream,
// and pairs fields into frames.
type Builder struct {
	scan       *es.StartCodeScanner
	pending    *es.Unit // A unit already read but not yet consumed by the current picture.
	pendingPic *Picture // A whole picture read ahead (by NextFrame's field-pairing probe) and not yet returned.
	lastAFD    byte
}

// NewBuilder returns a Builder reading from r.
func NewBuilder(r *es.Reader) *Builder {
	return &Builder{scan: es.NewStartCodeScanner(r)}
}

// next returns the next unit, either one already pulled back from the
// previous picture's lookahead, or freshly scanned.
func (b *Builder) next() (es.Unit, error) {
	if b.pending != nil {
		u := *b.pending
		b.pending = nil
		return u, nil
	}
	return b.scan.Next()
}

// unread pushes u back so the next call to next returns it again.
func (b *Builder) unread(u es.Unit) {
	b.pending = &u
}

// NextPicture collects elementary stream units until a terminator start
// code is reached and returns the resulting Picture.
//
//   - a picture_start_code picture ends at the first non-slice start code;
//   - a sequence_header_start_code picture ends at the first start code
//     that is not extension_start or user_data_start;
//   - a sequence_end_code picture is a singleton.
func (b *Builder) NextPicture() (Picture, error) {
	if b.pendingPic != nil {
		p := *b.pendingPic
		b.pendingPic = nil
		return p, nil
	}

	first, err := b.next()
	if err != nil {
		return Picture{}, err
	}

	switch first.StartCode {
	case sequenceEndCode:
		return Picture{Units: []es.Unit{first}, IsSequenceEnd: true}, nil
	case sequenceHeaderCode:
		return b.collectSequenceHeader(first)
	case pictureStartCode:
		return b.collectPicture(first)
	default:
		// Not a recognised picture boundary on its own (e.g. a bare
		// group_start_code or extension before a picture_start_code has
		// been seen); treat as a singleton so callers never stall.
		return Picture{Units: []es.Unit{first}}, nil
	}
}

// collectSequenceHeader gathers a sequence header and any trailing
// extension_start/user_data_start units, stopping at the first start code
// that is neither.
func (b *Builder) collectSequenceHeader(first es.Unit) (Picture, error) {
	pic := Picture{Units: []es.Unit{first}, IsSequenceHeader: true, AFD: b.lastAFD}
	for {
		u, err := b.next()
		if err != nil {
			if err == io.EOF {
				return pic, nil
			}
			return pic, err
		}
		if u.StartCode != extensionStartCode && u.StartCode != userDataStartCode {
			b.unread(u)
			return pic, nil
		}
		b.absorb(&pic, u)
	}
}

// collectPicture gathers a coded picture's units: its picture_header,
// any extension_start/user_data_start units carrying the picture coding
// extension and Active Format Description (which, as for a sequence
// header, belong to the picture rather than terminating it), and its
// slices, stopping at the first start code that is none of these.
func (b *Builder) collectPicture(first es.Unit) (Picture, error) {
	pic := Picture{Units: []es.Unit{first}, AFD: b.lastAFD}
	decodePictureHeader(&pic, first.Data)

	for {
		u, err := b.next()
		if err != nil {
			if err == io.EOF {
				return pic, nil
			}
			return pic, err
		}
		switch {
		case u.StartCode == extensionStartCode || u.StartCode == userDataStartCode:
			b.absorb(&pic, u)
		case isSliceStartCode(u.StartCode):
			pic.Units = append(pic.Units, u)
		default:
			b.unread(u)
			return pic, nil
		}
	}
}

// absorb appends u to pic, updating structure/AFD state from extension and
// user data units.
func (b *Builder) absorb(pic *Picture, u es.Unit) {
	pic.Units = append(pic.Units, u)
	switch u.StartCode {
	case extensionStartCode:
		decodePictureCodingExtension(pic, u.Data)
	case userDataStartCode:
		if afd, ok := decodeAFD(u.Data); ok {
			b.lastAFD = afd
			pic.AFD = afd
		}
	}
}

// isSliceStartCode reports whether code is a slice_start_code
// (0x01-0xaf).
func isSliceStartCode(code byte) bool {
	return code >= sliceStartCodeMin && code <= sliceStartCodeMax
}

// decodePictureHeader extracts temporal_reference (10 bits) and
// picture_coding_type (3 bits) from a picture_header's payload, which
// begins immediately after the 00 00 01 00 start code.
func decodePictureHeader(pic *Picture, d []byte) {
	if len(d) < 6 {
		return
	}
	hdr := d[4:]
	pic.TemporalReference = uint16(hdr[0])<<2 | uint16(hdr[1])>>6
	pic.CodingType = (hdr[1] >> 3) & 0x7
}

// decodePictureCodingExtension extracts picture_structure from a
// picture_coding_extension unit, whose payload begins immediately after
// the 00 00 01 B5 start code. Only units whose extension_start_code_id
// identifies a picture coding extension are examined.
func decodePictureCodingExtension(pic *Picture, d []byte) {
	if len(d) < 8 {
		return
	}
	ext := d[4:]
	if ext[0]>>4 != extIDPictureCoding {
		return
	}
	// Bit layout from extension data byte 0 (ISO/IEC 13818-2 §6.3.12):
	//   byte0: extension_start_code_identifier(4) | f_code[0][0](4)
	//   byte1: f_code[0][1](4) | f_code[1][0](4)
	//   byte2: f_code[1][1](4) | intra_dc_precision(2) | picture_structure(2)
	pic.Structure = PictureStructure(ext[2] & 0x03)
}

// decodeAFD scans d (a user_data unit's payload, start code included) for
// the DTG1 Active Format Description signature and, if found and the
// active_format_flag is set, returns the 4-bit AFD value.
func decodeAFD(d []byte) (byte, bool) {
	if len(d) < 4 {
		return 0, false
	}
	body := d[4:]
	for i := 0; i+len(dtg1Signature)+2 <= len(body); i++ {
		if body[i] != dtg1Signature[0] || body[i+1] != dtg1Signature[1] ||
			body[i+2] != dtg1Signature[2] || body[i+3] != dtg1Signature[3] {
			continue
		}
		flags := body[i+4]
		const activeFormatFlag = 0x40
		if flags&activeFormatFlag == 0 {
			return 0, false
		}
		return body[i+5] & 0x0f, true
	}
	return 0, false
}

// NextFrame returns the next complete frame, merging a pair of field
// pictures into one Picture when fields are in use.
//
// If the first picture read is a field picture, NextFrame reads one more
// picture: if its TemporalReference matches, its units are appended to the
// first and WasMerged is set; if not, the first field is discarded and the
// pairing is retried once with the second field as the new first; if that
// also produces a temporal reference mismatch, ErrFieldPairing is
// returned.
func (b *Builder) NextFrame() (Picture, error) {
	first, err := b.NextPicture()
	if err != nil {
		return Picture{}, err
	}
	if first.IsSequenceHeader || first.IsSequenceEnd || (first.Structure != TopField && first.Structure != BottomField) {
		return first, nil
	}

	second, err := b.NextPicture()
	if err != nil {
		if err == io.EOF {
			return first, nil
		}
		return Picture{}, err
	}
	if second.IsSequenceHeader || second.IsSequenceEnd {
		b.unreadPicture(second)
		return first, nil
	}
	if second.TemporalReference == first.TemporalReference {
		first.Units = append(first.Units, second.Units...)
		first.WasMerged = true
		if second.AFD != 0 {
			first.AFD = second.AFD
		}
		return first, nil
	}

	// Retry once: discard first, treat second as the new first field.
	third, err := b.NextPicture()
	if err != nil {
		if err == io.EOF {
			return second, nil
		}
		return Picture{}, err
	}
	if third.IsSequenceHeader || third.IsSequenceEnd || third.TemporalReference != second.TemporalReference {
		b.unreadPicture(third)
		return Picture{}, ErrFieldPairing
	}
	second.Units = append(second.Units, third.Units...)
	second.WasMerged = true
	if third.AFD != 0 {
		second.AFD = third.AFD
	}
	return second, nil
}

// unreadPicture pushes p back so the next call to NextPicture returns it
// again unchanged; used when NextFrame reads one picture too many while
// probing for a field pair.
func (b *Builder) unreadPicture(p Picture) {
	b.pendingPic = &p
}
