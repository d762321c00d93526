/*
NAME
  mp2t.go

DESCRIPTION
  mp2t.go provides RTP encapsulation of MPEG-2 Transport Stream datagrams
  per RFC 2250: a fixed payload type of 33, a 90kHz timestamp derived
  from the stream's PCR, and a monotone per-datagram sequence number.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package rtp

import (
	"math/rand"
)

// MP2TPayloadType is the static RTP payload type assigned to MPEG-2
// Transport Stream (RFC 2250 §2).
const MP2TPayloadType = 33

// MP2TClockRate is the RTP clock rate used for MP2T payloads: 90kHz.
const MP2TClockRate = 90000

// MP2TEncapsulator wraps a sequence of TS-packet payloads in RTP headers
// for UDP transport, per RFC 2250.
type MP2TEncapsulator struct {
	ssrc uint32
	seq  uint16
}

// NewMP2TEncapsulator returns an MP2TEncapsulator with a randomized SSRC.
func NewMP2TEncapsulator() *MP2TEncapsulator {
	return &MP2TEncapsulator{ssrc: rand.Uint32()}
}

// SSRC returns the synchronisation source identifier established for
// this encapsulator at construction.
func (e *MP2TEncapsulator) SSRC() uint32 { return e.ssrc }

// Encapsulate builds the RTP packet carrying payload (one or more
// concatenated 188-byte TS packets), timestamped from pcr (the 27MHz
// Program Clock Reference covering this payload, scaled to the 90kHz RTP
// clock as pcr/300 per RFC 2250 §2), and writes it into buf, returning
// the resulting byte slice.
func (e *MP2TEncapsulator) Encapsulate(payload []byte, pcr uint64, buf []byte) []byte {
	p := &Packet{
		Version:    rtpVer,
		PacketType: MP2TPayloadType,
		Sync:       e.seq,
		Timestamp:  uint32(pcr / 300),
		SSRC:       e.ssrc,
		Payload:    payload,
	}
	e.seq++
	return p.Bytes(buf)
}
