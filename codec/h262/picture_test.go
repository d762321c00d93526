/*
NAME
  picture_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h262

import (
	"bytes"
	"io"
	"testing"

	"github.com/ausocean/tsreader/es"
)

func pictureUnit(temporalRef uint16, codingType byte) []byte {
	b := make([]byte, 8)
	copy(b, []byte{0x00, 0x00, 0x01, 0x00})
	b[4] = byte(temporalRef >> 2)
	b[5] = byte(temporalRef<<6) | codingType<<3
	return b
}

func codingExtension(structure PictureStructure) []byte {
	b := make([]byte, 8)
	copy(b, []byte{0x00, 0x00, 0x01, 0xb5})
	b[4] = extIDPictureCoding << 4
	b[6] = byte(structure)
	return b
}

func newBuilder(t *testing.T, data []byte) *Builder {
	t.Helper()
	src := es.NewFileSource(bytes.NewReader(data), 4096)
	return NewBuilder(es.NewReader(src))
}

func TestNextPictureFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pictureUnit(0, 1))
	buf.Write(codingExtension(FramePicture))
	buf.Write([]byte{0x00, 0x00, 0x01, 0x01, 0xaa, 0xbb}) // a slice.
	buf.Write([]byte{0x00, 0x00, 0x01, 0x00})              // next picture_start_code.

	b := newBuilder(t, buf.Bytes())
	pic, err := b.NextPicture()
	if err != nil {
		t.Fatalf("NextPicture: %v", err)
	}
	if pic.CodingType != 1 {
		t.Errorf("CodingType = %d, want 1", pic.CodingType)
	}
	if pic.Structure != FramePicture {
		t.Errorf("Structure = %d, want FramePicture", pic.Structure)
	}
	if len(pic.Units) != 3 {
		t.Errorf("len(Units) = %d, want 3", len(pic.Units))
	}
}

func TestSequenceEndSingleton(t *testing.T) {
	b := newBuilder(t, []byte{0x00, 0x00, 0x01, 0xb7})
	pic, err := b.NextPicture()
	if err != nil {
		t.Fatalf("NextPicture: %v", err)
	}
	if !pic.IsSequenceEnd {
		t.Error("IsSequenceEnd = false, want true")
	}
}

func TestNextFrameMergesFieldPair(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pictureUnit(5, 1))
	buf.Write(codingExtension(TopField))
	buf.Write(pictureUnit(5, 1))
	buf.Write(codingExtension(BottomField))

	b := newBuilder(t, buf.Bytes())
	frame, err := b.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if !frame.WasMerged {
		t.Error("WasMerged = false, want true")
	}
	if len(frame.Units) != 4 {
		t.Errorf("len(Units) = %d, want 4", len(frame.Units))
	}
}

func TestNextFrameFieldPairingError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pictureUnit(1, 1))
	buf.Write(codingExtension(TopField))
	buf.Write(pictureUnit(2, 1))
	buf.Write(codingExtension(BottomField))
	buf.Write(pictureUnit(4, 1))
	buf.Write(codingExtension(BottomField))

	b := newBuilder(t, buf.Bytes())
	_, err := b.NextFrame()
	if err != ErrFieldPairing {
		t.Fatalf("NextFrame: got %v, want ErrFieldPairing", err)
	}
}

func TestDecodeAFD(t *testing.T) {
	d := []byte{0x00, 0x00, 0x01, 0xb2, 'D', 'T', 'G', '1', 0x40, 0x09}
	afd, ok := decodeAFD(d)
	if !ok {
		t.Fatal("decodeAFD: ok = false, want true")
	}
	if afd != 0x09 {
		t.Errorf("afd = %#x, want 0x9", afd)
	}
}

func TestBuilderEOF(t *testing.T) {
	b := newBuilder(t, nil)
	_, err := b.NextPicture()
	if err != io.EOF {
		t.Fatalf("NextPicture: got %v, want io.EOF", err)
	}
}
