/*
NAME
  reader.go

DESCRIPTION
  reader.go provides a TS reader that pulls 188-byte packets from an
  arbitrary, possibly unbuffered, octet source, resynchronising on the
  0x47 sync byte when the source is not already packet-aligned.

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
	"io"

	"github.com/pkg/errors"
)

// resyncPackets is the number of consecutive 0x47-anchored packets that must
// verify before resynchronisation is declared successful.
const resyncPackets = 8

// resyncBudget is the maximum number of bytes scanned while looking for
// resynchronisation before a BadSyncError is declared.
const resyncBudget = 8 * 1024 * 1024

// BadSyncError is returned by Reader.ReadPacket when the source cannot be
// resynchronised within resyncBudget bytes.
type BadSyncError struct {
	Scanned int64
}

func (e *BadSyncError) Error() string {
	return "ts: could not resynchronise to 0x47 packet boundary"
}

// Reader pulls successive TS packets from an underlying io.Reader,
// maintaining an internal read-ahead buffer and byte position, and
// transparently resynchronising on loss of alignment.
type Reader struct {
	src io.Reader
	buf []byte // read-ahead buffer, buf[off:len(buf)] is unconsumed.
	off int
	pos int64 // absolute byte offset of buf[off] in the source.

	// seeker, if the underlying source supports it, is used by Seek.
	seeker io.Seeker
}

// NewReader returns a Reader over src. bufSize controls the read-ahead
// buffer capacity; a value of 0 selects a default sized to hold many TS
// packets at once.
func NewReader(src io.Reader, bufSize int) *Reader {
	if bufSize <= 0 {
		bufSize = 188 * 512
	}
	r := &Reader{src: src, buf: make([]byte, 0, bufSize)}
	if s, ok := src.(io.Seeker); ok {
		r.seeker = s
	}
	return r
}

// Position returns the absolute byte offset of the next packet to be read.
func (r *Reader) Position() int64 {
	return r.pos + int64(r.off)
}

// Seek repositions the reader at the given absolute byte offset. It
// requires the underlying source to implement io.Seeker; otherwise an error
// is returned. Any buffered look-ahead is discarded.
func (r *Reader) Seek(offset int64) error {
	if r.seeker == nil {
		return errors.New("ts: underlying source does not support seeking")
	}
	n, err := r.seeker.Seek(offset, io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "ts: seek failed")
	}
	r.buf = r.buf[:0]
	r.off = 0
	r.pos = n
	return nil
}

// fill ensures at least n bytes are available starting at r.buf[r.off],
// refilling from the source and compacting the buffer as needed.
func (r *Reader) fill(n int) error {
	for len(r.buf)-r.off < n {
		if r.off > 0 {
			copy(r.buf, r.buf[r.off:])
			r.buf = r.buf[:len(r.buf)-r.off]
			r.pos += int64(r.off)
			r.off = 0
		}
		if len(r.buf) == cap(r.buf) {
			grown := make([]byte, len(r.buf), cap(r.buf)*2)
			copy(grown, r.buf)
			r.buf = grown
		}
		m, err := r.src.Read(r.buf[len(r.buf):cap(r.buf)])
		r.buf = r.buf[:len(r.buf)+m]
		if m == 0 && err != nil {
			return err
		}
	}
	return nil
}

// readByte consumes and returns the next byte of the source.
func (r *Reader) readByte() (byte, error) {
	if err := r.fill(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// ReadPacket reads and returns the next TS packet from the source. On a
// short read that lands exactly on a packet boundary and hits EOF, io.EOF is
// returned with a nil packet. A non-0x47 byte where a packet boundary is
// expected triggers resynchronisation; if that fails, a *BadSyncError is
// returned.
func (r *Reader) ReadPacket() (*Packet, error) {
	if err := r.fill(1); err != nil {
		return nil, err
	}
	if r.buf[r.off] != SyncByte {
		if err := r.resync(); err != nil {
			return nil, err
		}
	}

	if err := r.fill(PacketSize); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "ts: short read")
	}

	raw := r.buf[r.off : r.off+PacketSize]
	p, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "ts: malformed packet")
	}
	r.off += PacketSize
	return p, nil
}

// resync advances the reader one byte at a time until resyncPackets
// consecutive packets, each starting with 0x47 and spaced PacketSize apart,
// can be verified.
func (r *Reader) resync() error {
	var scanned int64
	for {
		if scanned > resyncBudget {
			return &BadSyncError{Scanned: scanned}
		}
		if err := r.fill(1); err != nil {
			return err
		}
		if r.buf[r.off] != SyncByte {
			r.off++
			scanned++
			continue
		}
		// Normally resyncPackets consecutive packets must verify, but if the
		// source ends before that many remain, accept however many full
		// packets are left: a short valid tail at EOF still confirms
		// alignment and must not be mistaken for bad sync.
		err := r.fill(resyncPackets * PacketSize)
		n := (len(r.buf) - r.off) / PacketSize
		if err != nil {
			if err != io.EOF {
				return err
			}
			if n == 0 {
				return &BadSyncError{Scanned: scanned}
			}
		} else {
			n = resyncPackets
		}
		ok := true
		for i := 0; i < n; i++ {
			if r.buf[r.off+i*PacketSize] != SyncByte {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
		r.off++
		scanned++
	}
}
