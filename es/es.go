/*
NAME
  es.go

DESCRIPTION
  es.go presents a single virtual elementary-stream byte source — whether
  backed by a raw ES file or a sequence of reassembled PES payloads — and a
  start-code scanner over it that yields ESUnits without per-byte
  allocation.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package es provides a byte-addressable elementary-stream source and a
// start-code scanner that splits it into ESUnits.
package es

import (
	"bytes"
	"io"
)

// Offset names a location in an elementary stream by two coordinates: the
// cumulative byte position within the virtual stream, and the index of the
// TS packet (or PES chunk) that byte originated from. Ordering is
// lexicographic by (FilePosition, PacketIndex).
type Offset struct {
	FilePosition int64
	PacketIndex  int64
}

// Less reports whether o sorts before other.
func (o Offset) Less(other Offset) bool {
	if o.FilePosition != other.FilePosition {
		return o.FilePosition < other.FilePosition
	}
	return o.PacketIndex < other.PacketIndex
}

// Unit is one start-code-delimited elementary stream unit: data begins
// with 00 00 01 <StartCode> and runs up to (not including) the next start
// code, or to the end of the stream for a final, possibly truncated, unit.
type Unit struct {
	StartCode byte
	Start     Offset
	Data      []byte
}

// Chunk is one block of elementary-stream bytes originating from a single
// TS packet (or, for a raw ES file, from a single read).
type Chunk struct {
	Data        []byte
	PacketIndex int64
}

// Source supplies successive Chunks to a Reader. io.EOF ends the stream.
type Source interface {
	NextChunk() (Chunk, error)
}

// fileSource adapts a plain io.Reader into a Source, tagging every chunk
// with an incrementing packet index (one per underlying Read call), which
// degrades gracefully to "chunk number" when there is no true packet
// structure, as is the case reading a bare ES file directly.
type fileSource struct {
	r   io.Reader
	buf []byte
	idx int64
}

// NewFileSource returns a Source that reads raw bytes from r.
func NewFileSource(r io.Reader, bufSize int) Source {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &fileSource{r: r, buf: make([]byte, bufSize)}
}

func (s *fileSource) NextChunk() (Chunk, error) {
	n, err := s.r.Read(s.buf)
	if n == 0 && err != nil {
		return Chunk{}, err
	}
	c := Chunk{Data: append([]byte(nil), s.buf[:n]...), PacketIndex: s.idx}
	s.idx++
	return c, nil
}

// Reader presents a Source as a single virtual byte stream, tracking the
// Offset of the next unread byte, using an internal sliding window so that
// no per-byte allocation is needed.
type Reader struct {
	src Source

	cur     Chunk
	curOff  int   // Index into cur.Data of the next unread byte.
	filePos int64 // Cumulative bytes consumed before cur.
}

// NewReader returns a Reader over src.
func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// Pos returns the Offset of the next unread byte.
func (r *Reader) Pos() Offset {
	return Offset{FilePosition: r.filePos + int64(r.curOff), PacketIndex: r.cur.PacketIndex}
}

// reload advances to the next chunk, accounting the fully-consumed
// previous chunk's bytes into filePos.
func (r *Reader) reload() error {
	r.filePos += int64(len(r.cur.Data))
	c, err := r.src.NextChunk()
	if err != nil {
		return err
	}
	r.cur = c
	r.curOff = 0
	return nil
}

// ReadByte consumes and returns the next byte of the virtual stream.
func (r *Reader) ReadByte() (byte, error) {
	for r.curOff >= len(r.cur.Data) {
		if err := r.reload(); err != nil {
			return 0, err
		}
	}
	b := r.cur.Data[r.curOff]
	r.curOff++
	return b, nil
}

// StartCodeScanner reads forward over a Reader, splitting it into Units at
// each 00 00 01 xx start code prefix.
type StartCodeScanner struct {
	r       *Reader
	window  [2]byte // Trailing two bytes already consumed, to detect a prefix split across ReadByte calls.
	haveWin int
	pending []byte // Bytes of the unit currently being accumulated, start code included.
	start   Offset
	started bool
}

// NewStartCodeScanner returns a StartCodeScanner over r.
func NewStartCodeScanner(r *Reader) *StartCodeScanner {
	return &StartCodeScanner{r: r}
}

// Next returns the next ESUnit, or io.EOF once the underlying stream is
// exhausted. A truncated final unit (no following start code) is still
// returned, without error.
func (s *StartCodeScanner) Next() (Unit, error) {
	if !s.started {
		if err := s.syncToFirstStartCode(); err != nil {
			return Unit{}, err
		}
		s.started = true
	}
	if s.pending == nil {
		return Unit{}, io.EOF
	}

	code := s.pending[3]
	start := s.start
	data := s.pending[:0:0]
	data = append(data, s.pending...)

	for {
		b, err := s.r.ReadByte()
		if err != nil {
			u := Unit{StartCode: code, Start: start, Data: data}
			s.pending = nil
			return u, nil
		}
		if s.matchesPrefix(data, b) {
			// data's last two bytes plus b form 00 00 01; the start code
			// is the byte after b, which we read next.
			next, err := s.r.ReadByte()
			if err != nil {
				data = append(data, b)
				s.pending = nil
				return Unit{StartCode: code, Start: start, Data: data}, nil
			}
			s.pending = []byte{0x00, 0x00, 0x01, next}
			s.start = Offset{FilePosition: s.r.Pos().FilePosition - 4, PacketIndex: s.r.Pos().PacketIndex}
			data = data[:len(data)-2]
			return Unit{StartCode: code, Start: start, Data: data}, nil
		}
		data = append(data, b)
	}
}

// matchesPrefix reports whether the last two bytes of data, followed by b,
// form a 00 00 01 start code prefix.
func (s *StartCodeScanner) matchesPrefix(data []byte, b byte) bool {
	n := len(data)
	return n >= 2 && data[n-2] == 0x00 && data[n-1] == 0x00 && b == 0x01
}

// syncToFirstStartCode discards bytes until the first 00 00 01 prefix is
// found, and primes s.pending/s.start with it.
func (s *StartCodeScanner) syncToFirstStartCode() error {
	var window [3]byte
	filled := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if filled < 3 {
			window[filled] = b
			filled++
			if filled < 3 {
				continue
			}
		} else {
			window[0], window[1], window[2] = window[1], window[2], b
		}
		if window[0] == 0x00 && window[1] == 0x00 && window[2] == 0x01 {
			code, err := s.r.ReadByte()
			if err != nil {
				return err
			}
			s.pending = []byte{0x00, 0x00, 0x01, code}
			pos := s.r.Pos()
			s.start = Offset{FilePosition: pos.FilePosition - 4, PacketIndex: pos.PacketIndex}
			return nil
		}
	}
}

// IndexStartCode returns the byte offset of the first 00 00 01 prefix in
// b, or -1 if none is present. Exposed for callers (e.g. the H.264 access
// unit builder) that already hold a contiguous buffer and don't need the
// streaming scanner.
func IndexStartCode(b []byte) int {
	for i := 0; i+3 <= len(b); {
		idx := bytes.IndexByte(b[i:], 0x00)
		if idx < 0 {
			return -1
		}
		i += idx
		if i+3 <= len(b) && b[i+1] == 0x00 && b[i+2] == 0x01 {
			return i
		}
		i++
	}
	return -1
}
