/*
NAME
  clip.go

DESCRIPTION
  clip.go extracts media frames from an in-memory MPEG-TS clip and provides
  PTS-range and metadata-range trimming and segmentation over the result.

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
	"sort"

	"github.com/ausocean/tsreader/container/pes"
	"github.com/ausocean/tsreader/container/ts/meta"
	"github.com/ausocean/tsreader/container/ts/psi"
	"github.com/pkg/errors"
)

// Clip is a sequence of media frames extracted from a complete, in-memory
// MPEG-TS clip.
type Clip struct {
	frames  []Frame
	backing []byte
}

// Frame describes one media frame extracted from a PES packet.
type Frame struct {
	Media []byte            // Media payload bytes for this frame.
	PTS   uint64            // Presentation timestamp, 33-bit mod 2^33.
	ID    uint8             // PES stream_id identifying the codec.
	Meta  map[string]string // Metadata from the PMT in effect when this frame was seen, if any.
	idx   int               // Start index of Media within backing.
}

// Frames returns c's frames in stream order.
func (c *Clip) Frames() []Frame { return c.frames }

// Bytes returns the concatenated media bytes of every frame in c.
func (c *Clip) Bytes() []byte {
	if c.backing == nil {
		panic("ts: clip backing array is nil")
	}
	return c.backing
}

// Errors returned by Extract.
var (
	ErrClipSize  = errors.New("ts: clip is not a whole number of TS packets")
	ErrNoMeta    = errors.New("ts: no metadata descriptor present in PMT")
)

// Extract decodes an in-memory MPEG-TS clip (which must contain only
// complete TS packets, and may contain at most one program) into a Clip of
// media frames, attaching the metadata in effect (from the PMT's metadata
// descriptor) to each frame.
func Extract(d []byte) (*Clip, error) {
	if len(d)%PacketSize != 0 {
		return nil, ErrClipSize
	}

	var (
		clip       = &Clip{backing: make([]byte, 0, len(d))}
		frameStart int
		lenOfFrame int
		curMeta    map[string]string
		firstPUSI  = true
		pmtPID     uint16 = NullPID
	)

	for i := 0; i+PacketSize <= len(d); i += PacketSize {
		p, err := Parse(d[i : i+PacketSize])
		if err != nil {
			return nil, errors.Wrap(err, "ts: malformed packet in clip")
		}

		if p.PID == PatPID {
			if p.Payload != nil {
				if sec, err := psi.Parse(p.Payload); err == nil {
					if pat, ok := sec.SyntaxSection.SpecificData.(*psi.PAT); ok {
						pmtPID = pat.ProgramMapPID
					}
				}
			}
			continue
		}
		if p.PID == pmtPID {
			if m, err := metaFromPMTPacket(p); err == nil {
				curMeta = m
			}
			continue
		}
		if p.Payload == nil {
			continue
		}

		if p.PUSI {
			pkt, err := pes.Parse(p.Payload)
			if err != nil {
				return nil, errors.Wrap(err, "ts: malformed PES header")
			}
			clip.frames = append(clip.frames, Frame{PTS: pkt.PTS, ID: pkt.StreamID, Meta: curMeta})
			clip.backing = append(clip.backing, pkt.Data...)
			dataLen := len(pkt.Data)

			if !firstPUSI {
				clip.frames[len(clip.frames)-2].Media = clip.backing[frameStart:lenOfFrame]
				clip.frames[len(clip.frames)-2].idx = frameStart
				frameStart = lenOfFrame
			}
			firstPUSI = false
			lenOfFrame += dataLen
		} else {
			clip.backing = append(clip.backing, p.Payload...)
			lenOfFrame += len(p.Payload)
		}
	}

	if len(clip.frames) == 0 {
		return clip, nil
	}
	last := len(clip.frames) - 1
	clip.frames[last].Media = clip.backing[frameStart:lenOfFrame]
	clip.frames[last].idx = frameStart
	return clip, nil
}

// metaFromPMTPacket extracts the metadata map embedded in a single-packet
// PMT's metadata descriptor.
func metaFromPMTPacket(p *Packet) (map[string]string, error) {
	sec, err := psi.Parse(p.Payload)
	if err != nil {
		return nil, err
	}
	pmt, ok := sec.SyntaxSection.SpecificData.(*psi.PMT)
	if !ok {
		return nil, ErrNoMeta
	}
	for _, d := range pmt.Descriptors {
		if d.Tag == psi.MetadataTag {
			return meta.GetAllAsMap(d.Data)
		}
	}
	return nil, ErrNoMeta
}

// Errors returned by TrimToPTSRange.
var (
	ErrPTSLowerBound = errors.New("ts: PTS 'from' not found")
	ErrPTSUpperBound = errors.New("ts: PTS 'to' not found")
	ErrPTSRange      = errors.New("ts: PTS range invalid")
)

// TrimToPTSRange returns the sub-clip spanning [from, to): the first frame
// is the one in which from falls (or exactly starts), the last is the one
// preceding the frame in which to falls.
func (c *Clip) TrimToPTSRange(from, to uint64) (*Clip, error) {
	if from >= to {
		return nil, ErrPTSRange
	}

	n := len(c.frames) - 1
	start := sort.Search(n, func(i int) bool { return from < c.frames[i+1].PTS })
	if start == n {
		return nil, ErrPTSLowerBound
	}
	startIdx := c.frames[start].idx

	off := start + 1
	n -= off
	end := sort.Search(n, func(i int) bool { return to <= c.frames[i+off].PTS })
	if end == n {
		return nil, ErrPTSUpperBound
	}
	endIdx := c.frames[end+off-1].idx

	return &Clip{
		frames:  c.frames[start : end+off],
		backing: c.backing[startIdx : endIdx+len(c.frames[end+off-1].Media)],
	}, nil
}

// Errors returned by TrimToMetaRange.
var (
	ErrMetaRange      = errors.New("ts: meta range invalid")
	ErrMetaLowerBound = errors.New("ts: meta 'from' not found")
	ErrMetaUpperBound = errors.New("ts: meta 'to' not found")
)

// TrimToMetaRange returns the sub-clip spanning the first frame whose
// Meta[key] == from through the following frame whose Meta[key] == to.
func (c *Clip) TrimToMetaRange(key, from, to string) (*Clip, error) {
	if from == to {
		return nil, ErrMetaRange
	}

	for i, f := range c.frames {
		if f.Meta[key] != from {
			continue
		}
		start := f.idx
		startFrameIdx := i
		for j := i; j < len(c.frames); j++ {
			g := c.frames[j]
			if g.Meta[key] == to {
				return &Clip{
					frames:  c.frames[startFrameIdx : j+1],
					backing: c.backing[start : g.idx+len(g.Media)],
				}, nil
			}
		}
		return nil, ErrMetaUpperBound
	}
	return nil, ErrMetaLowerBound
}

// SegmentForMeta splits c into contiguous runs of frames whose
// Meta[key] == val.
func (c *Clip) SegmentForMeta(key, val string) []Clip {
	var (
		segmenting bool
		res        []Clip
		start      int
	)

	for i, frame := range c.frames {
		if frame.Meta == nil {
			if segmenting {
				res = appendSegment(res, c, start, i)
				segmenting = false
			}
			continue
		}
		if frame.Meta[key] == val && !segmenting {
			start = i
			segmenting = true
		} else if frame.Meta[key] != val && segmenting {
			res = appendSegment(res, c, start, i)
			segmenting = false
		}
	}
	if segmenting {
		res = appendSegment(res, c, start, len(c.frames))
	}
	return res
}

func appendSegment(segs []Clip, c *Clip, start, end int) []Clip {
	return append(segs, Clip{
		frames:  c.frames[start:end],
		backing: c.backing[c.frames[start].idx : c.frames[end-1].idx+len(c.frames[end-1].Media)],
	})
}
