/*
NAME
  clip_test.go

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package ts

import (
	"bytes"
	"testing"

	"github.com/ausocean/tsreader/container/pes"
	"github.com/ausocean/tsreader/container/ts/meta"
	"github.com/ausocean/tsreader/container/ts/psi"
)

const (
	clipVideoPID = 0x100
	clipPMTPID   = 0x1000
)

// clipPMTPacket returns a single PMT packet naming a video stream on
// clipVideoPID, carrying metaVal under key "k" as its metadata descriptor.
func clipPMTPacket(metaVal string) *Packet {
	pmt := psi.NewPMT(clipVideoPID, 0x1b, clipVideoPID)
	pd := pmt.SyntaxSection.SpecificData.(*psi.PMT)
	d := meta.New()
	d.Add("k", metaVal)
	enc := d.Encode()
	pd.Descriptors = []psi.Descriptor{{Tag: psi.MetadataTag, Len: byte(len(enc)), Data: enc}}
	pd.ProgramInfoLen = uint16(psi.DescDefLen + len(enc))
	pmt.SectionLen += pd.ProgramInfoLen
	return &Packet{PID: clipPMTPID, PUSI: true, AFC: AFCPayloadOnly, Payload: clipPad(pmt.Bytes())}
}

func clipPATPacket() *Packet {
	pat := psi.NewPAT(1, clipPMTPID)
	return &Packet{PID: PatPID, PUSI: true, AFC: AFCPayloadOnly, Payload: clipPad(pat.Bytes())}
}

// clipPad pads section (a psi.PSI.Bytes() encoding, already carrying its own
// leading pointer_field byte) to a full packet payload.
func clipPad(section []byte) []byte {
	out := make([]byte, PacketSize-HeadSize)
	copy(out, section)
	for i := len(section); i < len(out); i++ {
		out[i] = 0xff
	}
	return out
}

// clipFramePacket returns a single minimal PES packet on clipVideoPID
// carrying one frame's media bytes, with presentation timestamp pts.
func clipFramePacket(pts uint64, fill byte, n int) *Packet {
	p := &pes.Packet{
		StreamID:     0xe0,
		PDI:          pes.PDIPTS,
		HeaderLength: 5, // One 5-byte PTS-only optional field, no stuffing.
		PTS:          pts,
		Data:         bytes.Repeat([]byte{fill}, n),
	}
	raw := p.Bytes(nil)
	payload := make([]byte, PacketSize-HeadSize)
	copy(payload, raw)
	for i := len(raw); i < len(payload); i++ {
		payload[i] = 0xff
	}
	return &Packet{PID: clipVideoPID, PUSI: true, AFC: AFCPayloadOnly, Payload: payload}
}

// buildClip assembles a raw MPEG-TS clip: a PAT, then one PMT per meta
// value, each followed by frames tagged with that PMT's metadata.
func buildClip() []byte {
	var pkts []*Packet
	pkts = append(pkts, clipPATPacket())
	pkts = append(pkts, clipPMTPacket("v1"))
	pkts = append(pkts, clipFramePacket(1000, 'a', 10))
	pkts = append(pkts, clipFramePacket(2000, 'b', 10))
	pkts = append(pkts, clipPMTPacket("v2"))
	pkts = append(pkts, clipFramePacket(3000, 'c', 10))
	pkts = append(pkts, clipFramePacket(4000, 'd', 10))
	pkts = append(pkts, clipFramePacket(5000, 'e', 10))
	pkts = append(pkts, clipFramePacket(6000, 'f', 10))

	var buf bytes.Buffer
	for _, p := range pkts {
		buf.Write(p.Bytes(nil))
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	clip, err := Extract(buildClip())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	frames := clip.Frames()
	if len(frames) != 6 {
		t.Fatalf("got %d frames, want 6", len(frames))
	}
	wantPTS := []uint64{1000, 2000, 3000, 4000, 5000, 6000}
	wantMeta := []string{"v1", "v1", "v2", "v2", "v2", "v2"}
	for i, f := range frames {
		if f.PTS != wantPTS[i] {
			t.Errorf("frame %d: got PTS %d, want %d", i, f.PTS, wantPTS[i])
		}
		if f.Meta["k"] != wantMeta[i] {
			t.Errorf("frame %d: got meta %q, want %q", i, f.Meta["k"], wantMeta[i])
		}
	}
}

func TestExtractRejectsPartialPacket(t *testing.T) {
	if _, err := Extract(make([]byte, PacketSize+1)); err != ErrClipSize {
		t.Errorf("got error %v, want %v", err, ErrClipSize)
	}
}

func TestClipTrimToPTSRange(t *testing.T) {
	clip, err := Extract(buildClip())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// from falls in the 2000 frame; to falls in the 5000 frame, so the
	// trimmed range runs from the 2000 frame through the frame preceding
	// the 5000 frame.
	sub, err := clip.TrimToPTSRange(2000, 5000)
	if err != nil {
		t.Fatalf("TrimToPTSRange: %v", err)
	}
	frames := sub.Frames()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].PTS != 2000 || frames[1].PTS != 3000 || frames[2].PTS != 4000 {
		t.Errorf("got PTS %d, %d, %d; want 2000, 3000, 4000", frames[0].PTS, frames[1].PTS, frames[2].PTS)
	}
}

func TestClipTrimToMetaRange(t *testing.T) {
	clip, err := Extract(buildClip())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	sub, err := clip.TrimToMetaRange("k", "v1", "v2")
	if err != nil {
		t.Fatalf("TrimToMetaRange: %v", err)
	}
	if len(sub.Frames()) != 3 {
		t.Errorf("got %d frames, want 3", len(sub.Frames()))
	}
}

func TestClipSegmentForMeta(t *testing.T) {
	clip, err := Extract(buildClip())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	segs := clip.SegmentForMeta("k", "v1")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if len(segs[0].Frames()) != 2 {
		t.Errorf("got %d frames in segment, want 2", len(segs[0].Frames()))
	}
}
