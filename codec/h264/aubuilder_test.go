/*
NAME
  aubuilder_test.go

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
	"io"
	"testing"

	"github.com/ausocean/tsreader/codec/h264/h264dec/bits"
	"github.com/ausocean/tsreader/es"
)

func nalBytes(nalType byte) []byte {
	return []byte{0x00, 0x00, 0x01, nalType, 0x80}
}

func newAUBuilder(t *testing.T, data []byte) *Builder {
	t.Helper()
	src := es.NewFileSource(bytes.NewReader(data), 4096)
	return NewBuilder(es.NewReader(src), nil)
}

func TestAUDSplitsAccessUnits(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(nalBytes(nalSEI))
	buf.Write(nalBytes(nalAUD))
	buf.Write(nalBytes(nalSEI))
	buf.Write(nalBytes(nalAUD))

	b := newAUBuilder(t, buf.Bytes())

	au, err := b.NextAU()
	if err != nil {
		t.Fatalf("NextAU (1): %v", err)
	}
	if len(au.NALUnits) != 1 || au.NALUnits[0].Type != nalSEI {
		t.Fatalf("AU 1 = %+v, want single SEI", au)
	}

	au, err = b.NextAU()
	if err != nil {
		t.Fatalf("NextAU (2): %v", err)
	}
	if len(au.NALUnits) != 2 || au.NALUnits[0].Type != nalAUD || au.NALUnits[1].Type != nalSEI {
		t.Fatalf("AU 2 = %+v, want [AUD, SEI]", au)
	}

	au, err = b.NextAU()
	if err != nil {
		t.Fatalf("NextAU (3): %v", err)
	}
	if len(au.NALUnits) != 1 || au.NALUnits[0].Type != nalAUD {
		t.Fatalf("AU 3 = %+v, want single AUD (flushed at EOF)", au)
	}

	_, err = b.NextAU()
	if err != io.EOF {
		t.Fatalf("NextAU (4): got %v, want io.EOF", err)
	}
}

func TestReadExpGolombUe(t *testing.T) {
	// "1" -> 0, "010" -> 1, "011" -> 2, "00100" -> 3.
	raw := []byte{0b1_010_011_0, 0b0100_0000}
	br := bits.NewBitReader(bytes.NewReader(raw))

	want := []uint64{0, 1, 2, 3}
	for i, w := range want {
		got, err := readExpGolombUe(br)
		if err != nil {
			t.Fatalf("readExpGolombUe(%d): %v", i, err)
		}
		if got != w {
			t.Errorf("readExpGolombUe(%d) = %d, want %d", i, got, w)
		}
	}
}

func TestSliceStartsNewAU(t *testing.T) {
	a := sliceHeaderInfo{frameNum: 1, ppsID: 0}
	b := sliceHeaderInfo{frameNum: 1, ppsID: 0}
	if sliceStartsNewAU(a, b) {
		t.Error("identical slice headers should not start a new AU")
	}
	b.frameNum = 2
	if !sliceStartsNewAU(a, b) {
		t.Error("differing frame_num should start a new AU")
	}
}
