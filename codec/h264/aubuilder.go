/*
NAME
  aubuilder.go

DESCRIPTION
  aubuilder.go aggregates H.264 NAL units into access units using the
  AU-delimiter and first-VCL-slice heuristics of Annex to the H.264
  specification, maintaining an SPS/PPS dictionary keyed by parameter-set
  id, and pairs field access units into frames.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h264

import (
	"bytes"
	"errors"
	"io"

	"github.com/ausocean/tsreader/codec/h264/h264dec"
	"github.com/ausocean/tsreader/codec/h264/h264dec/bits"
	"github.com/ausocean/tsreader/es"
)

// NAL unit types referenced by access-unit boundary detection (ITU-T
// H.264 Table 7-1).
const (
	nalSliceNonIDR     = 1
	nalSliceDataPartA  = 2
	nalSliceDataPartB  = 3
	nalSliceDataPartC  = 4
	nalSliceIDR        = 5
	nalSEI             = 6
	nalSPS             = 7
	nalPPS             = 8
	nalAUD             = 9
	nalEndOfSeq        = 10
	nalEndOfStream     = 11
	nalFiller          = 12
	nalSliceAux        = 19
)

// NALUnit is one decoded NAL unit: its header fields and RBSP payload
// (header byte excluded), plus the raw start-code-delimited bytes it came
// from.
type NALUnit struct {
	ForbiddenZeroBit bool
	RefIdc           byte
	Type             byte
	RBSP             []byte
	Raw              []byte
}

// AccessUnit is a set of NAL units delimited by the AU boundary rule.
type AccessUnit struct {
	NALUnits       []NALUnit
	PrimarySlice   *NALUnit
	ContainsIDR    bool
	ContainsSPSPPS bool
	FieldPicFlag   bool
	WasMerged      bool
}

// isVCL reports whether t is a VCL (coded slice) NAL unit type.
func isVCL(t byte) bool {
	switch t {
	case nalSliceNonIDR, nalSliceDataPartA, nalSliceDataPartB, nalSliceDataPartC, nalSliceIDR, nalSliceAux:
		return true
	default:
		return false
	}
}

// sliceHeaderInfo holds the slice header prefix fields the AU boundary
// rule compares between successive VCL NAL units.
type sliceHeaderInfo struct {
	frameNum       uint64
	ppsID          uint64
	fieldPicFlag   bool
	bottomField    bool
	picOrderCntLSB uint64
}

// ErrForbiddenBit is reported (as a warning, not a fatal error) when a NAL
// unit's forbidden_zero_bit is set; the NAL unit is skipped.
var ErrForbiddenBit = errors.New("h264: forbidden_zero_bit set")

// Builder reads an H.264 Annex B elementary stream and aggregates its NAL
// units into AccessUnits.
type Builder struct {
	scan    *es.StartCodeScanner
	pending *es.Unit

	spsSet map[int]*h264dec.SPS
	ppsSet map[int]*h264dec.PPS

	cur     AccessUnit
	haveVCL bool
	prev    *sliceHeaderInfo

	warn func(error, []byte)
}

// NewBuilder returns a Builder reading from r. warn, if non-nil, is called
// with a skipped NAL unit's error and raw bytes.
func NewBuilder(r *es.Reader, warn func(error, []byte)) *Builder {
	return &Builder{
		scan:   es.NewStartCodeScanner(r),
		spsSet: make(map[int]*h264dec.SPS),
		ppsSet: make(map[int]*h264dec.PPS),
		warn:   warn,
	}
}

func (b *Builder) next() (es.Unit, error) {
	if b.pending != nil {
		u := *b.pending
		b.pending = nil
		return u, nil
	}
	return b.scan.Next()
}

func (b *Builder) unread(u es.Unit) { b.pending = &u }

// NextAU returns the next AccessUnit, or io.EOF once the stream is
// exhausted (in which case any NAL units already accumulated are returned
// first, with a nil error, and EOF is returned on the following call).
func (b *Builder) NextAU() (AccessUnit, error) {
	for {
		u, err := b.next()
		if err != nil {
			if err == io.EOF && len(b.cur.NALUnits) > 0 {
				au := b.cur
				b.resetAU()
				return au, nil
			}
			return AccessUnit{}, err
		}

		nal, ok := b.parseNAL(u)
		if !ok {
			continue // Skipped with a warning.
		}

		if nal.Type == nalAUD {
			if len(b.cur.NALUnits) > 0 {
				au := b.cur
				b.resetAU()
				b.appendNAL(nal, nil)
				return au, nil
			}
			b.appendNAL(nal, nil)
			continue
		}

		if isVCL(nal.Type) {
			info, ok := b.parseSliceHeaderPrefix(nal)
			if ok && b.haveVCL && b.prev != nil && sliceStartsNewAU(*b.prev, info) {
				au := b.cur
				b.resetAU()
				b.appendNAL(nal, &info)
				return au, nil
			}
			b.appendNAL(nal, &info)
			continue
		}

		// A non-VCL NAL after a VCL NAL has been seen in the current AU
		// ends it.
		if b.haveVCL {
			au := b.cur
			b.resetAU()
			b.appendNAL(nal, nil)
			return au, nil
		}
		b.appendNAL(nal, nil)
	}
}

// resetAU clears the in-progress access unit's state.
func (b *Builder) resetAU() {
	b.cur = AccessUnit{}
	b.haveVCL = false
	b.prev = nil
}

// appendNAL appends nal to the in-progress access unit, updating its
// summary fields. info is non-nil only for VCL NAL units.
func (b *Builder) appendNAL(nal NALUnit, info *sliceHeaderInfo) {
	b.cur.NALUnits = append(b.cur.NALUnits, nal)
	switch nal.Type {
	case nalSPS, nalPPS:
		b.cur.ContainsSPSPPS = true
	}
	if info != nil {
		idx := len(b.cur.NALUnits) - 1
		if b.cur.PrimarySlice == nil {
			b.cur.PrimarySlice = &b.cur.NALUnits[idx]
		}
		if nal.Type == nalSliceIDR {
			b.cur.ContainsIDR = true
		}
		b.cur.FieldPicFlag = info.fieldPicFlag
		b.haveVCL = true
		b.prev = info
	}
}

// sliceStartsNewAU compares the boundary-relevant slice header prefix
// fields of the previous VCL NAL in the current AU against the next one.
func sliceStartsNewAU(prev, next sliceHeaderInfo) bool {
	return prev.frameNum != next.frameNum ||
		prev.ppsID != next.ppsID ||
		prev.fieldPicFlag != next.fieldPicFlag ||
		prev.bottomField != next.bottomField ||
		prev.picOrderCntLSB != next.picOrderCntLSB
}

// parseNAL decodes u's NAL header, tracking SPS/PPS in the active
// dictionary. A forbidden_zero_bit or a parse error is reported via
// b.warn and the NAL unit is skipped (ok = false).
func (b *Builder) parseNAL(u es.Unit) (NALUnit, bool) {
	if len(u.Data) < 5 {
		b.report(io.ErrUnexpectedEOF, u.Data)
		return NALUnit{}, false
	}
	header := u.Data[3]
	nal := NALUnit{
		ForbiddenZeroBit: header&0x80 != 0,
		RefIdc:           (header >> 5) & 0x3,
		Type:             header & 0x1f,
		RBSP:             u.Data[4:],
		Raw:              u.Data,
	}
	if nal.ForbiddenZeroBit {
		b.report(ErrForbiddenBit, u.Data)
		return NALUnit{}, false
	}

	switch nal.Type {
	case nalSPS:
		sps, err := h264dec.NewSPS(nal.RBSP, false)
		if err != nil {
			b.report(err, u.Data)
			return NALUnit{}, false
		}
		b.spsSet[int(sps.SPSID)] = sps
	case nalPPS:
		pps, err := h264dec.NewPPS(bits.NewBitReader(bytes.NewReader(nal.RBSP)), b.chromaFormatHint())
		if err != nil {
			b.report(err, u.Data)
			return NALUnit{}, false
		}
		b.ppsSet[pps.ID] = pps
	}
	return nal, true
}

// chromaFormatHint returns the chroma_format_idc of the sole tracked SPS,
// or 1 (4:2:0, the overwhelmingly common case) if zero or more than one
// SPS is active; NewPPS needs this only to size an 8x8 scaling-list
// branch this builder never inspects, and the active SPS for a given PPS
// isn't known until the PPS's own seq_parameter_set_id field has been
// read, by which point NewPPS has already consumed the bits.
func (b *Builder) chromaFormatHint() int {
	if len(b.spsSet) == 1 {
		for _, sps := range b.spsSet {
			return int(sps.ChromaFormatIDC)
		}
	}
	return 1
}

// report forwards a skip reason to b.warn, if set.
func (b *Builder) report(err error, raw []byte) {
	if b.warn != nil {
		b.warn(err, raw)
	}
}

// parseSliceHeaderPrefix reads the slice header fields the AU boundary
// rule needs: first_mb_in_slice and slice_type are read and discarded,
// pic_parameter_set_id, frame_num, field_pic_flag, bottom_field_flag and
// (when pic_order_cnt_type == 0) pic_order_cnt_lsb are retained.
func (b *Builder) parseSliceHeaderPrefix(nal NALUnit) (sliceHeaderInfo, bool) {
	br := bits.NewBitReader(bytes.NewReader(nal.RBSP))

	readUe := func() (uint64, bool) {
		n, err := readExpGolombUe(br)
		return n, err == nil
	}

	if _, ok := readUe(); !ok { // first_mb_in_slice
		return sliceHeaderInfo{}, false
	}
	if _, ok := readUe(); !ok { // slice_type
		return sliceHeaderInfo{}, false
	}
	ppsID, ok := readUe()
	if !ok {
		return sliceHeaderInfo{}, false
	}
	pps, ok := b.ppsSet[int(ppsID)]
	if !ok {
		return sliceHeaderInfo{}, false
	}
	sps, ok := b.spsSet[pps.SPSID]
	if !ok {
		return sliceHeaderInfo{}, false
	}

	frameNumBits := int(sps.Log2MaxFrameNumMinus4) + 4
	frameNum, err := br.ReadBits(frameNumBits)
	if err != nil {
		return sliceHeaderInfo{}, false
	}

	info := sliceHeaderInfo{frameNum: frameNum, ppsID: ppsID}

	if !sps.FrameMBSOnlyFlag {
		fieldBit, err := br.ReadBits(1)
		if err != nil {
			return sliceHeaderInfo{}, false
		}
		info.fieldPicFlag = fieldBit == 1
		if info.fieldPicFlag {
			bottomBit, err := br.ReadBits(1)
			if err != nil {
				return sliceHeaderInfo{}, false
			}
			info.bottomField = bottomBit == 1
		}
	}

	if nal.Type == nalSliceIDR {
		if _, ok := readUe(); !ok { // idr_pic_id
			return sliceHeaderInfo{}, false
		}
	}

	if sps.PicOrderCountType == 0 {
		lsbBits := int(sps.Log2MaxPicOrderCntLSBMin4) + 4
		lsb, err := br.ReadBits(lsbBits)
		if err != nil {
			return sliceHeaderInfo{}, false
		}
		info.picOrderCntLSB = lsb
	}

	return info, true
}

// readExpGolombUe reads an unsigned integer Exp-Golomb-coded syntax
// element (descriptor ue(v)), per ITU-T H.264 §9.1: count leading zero
// bits, then read that many bits as the remainder, returning
// 2^leadingZeros - 1 + remainder.
func readExpGolombUe(br *bits.BitReader) (uint64, error) {
	zeros := 0
	for {
		b, err := br.ReadBits(1)
		if err != nil {
			return 0, err
		}
		if b != 0 {
			break
		}
		zeros++
	}
	if zeros == 0 {
		return 0, nil
	}
	rem, err := br.ReadBits(zeros)
	if err != nil {
		return 0, err
	}
	return (uint64(1)<<uint(zeros) - 1) + rem, nil
}

// ErrFieldPairing is returned by NextFrame when two successive field
// access units cannot be paired because their frame_num (the H.264
// analogue of H.262's temporal_reference for this purpose) disagree, even
// after retrying with the following access unit.
var ErrFieldPairing = errors.New("h264: field pairing failed")

// NextFrame returns the next complete frame, merging a pair of field
// access units into one AccessUnit when fields are in use, by the same
// rule as H.262's field pairing (see codec/h262.Builder.NextFrame).
func (b *Builder) NextFrame() (AccessUnit, error) {
	first, err := b.NextAU()
	if err != nil {
		return AccessUnit{}, err
	}
	if !first.FieldPicFlag || first.PrimarySlice == nil {
		return first, nil
	}
	firstFrameNum, ok := b.frameNumOf(first)
	if !ok {
		return first, nil
	}

	second, err := b.NextAU()
	if err != nil {
		if err == io.EOF {
			return first, nil
		}
		return AccessUnit{}, err
	}
	secondFrameNum, ok := b.frameNumOf(second)
	if ok && secondFrameNum == firstFrameNum {
		first.NALUnits = append(first.NALUnits, second.NALUnits...)
		first.WasMerged = true
		if second.ContainsIDR {
			first.ContainsIDR = true
		}
		return first, nil
	}

	third, err := b.NextAU()
	if err != nil {
		if err == io.EOF {
			return second, nil
		}
		return AccessUnit{}, err
	}
	thirdFrameNum, ok := b.frameNumOf(third)
	if !ok || !second.FieldPicFlag || thirdFrameNum != secondFrameNum {
		return AccessUnit{}, ErrFieldPairing
	}
	second.NALUnits = append(second.NALUnits, third.NALUnits...)
	second.WasMerged = true
	if third.ContainsIDR {
		second.ContainsIDR = true
	}
	return second, nil
}

// frameNumOf re-derives the frame_num of au's primary slice by re-parsing
// its cached slice header prefix.
func (b *Builder) frameNumOf(au AccessUnit) (uint64, bool) {
	if au.PrimarySlice == nil {
		return 0, false
	}
	info, ok := b.parseSliceHeaderPrefix(*au.PrimarySlice)
	return info.frameNum, ok
}
