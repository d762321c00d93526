/*
NAME
  crc.go

DESCRIPTION
  crc.go implements the CRC-32 variant (poly 0x04C11DB7, init 0xFFFFFFFF, no
  reflection, no final XOR) used to protect MPEG-TS PSI sections.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package psi

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
)

// AddCRC appends the CRC32 of out (as computed over out[1:], skipping the
// pointer field) to a new slice holding out plus four trailing bytes.
func AddCRC(out []byte) []byte {
	t := make([]byte, len(out)+4)
	copy(t, out)
	UpdateCrc(t[1:])
	return t
}

// UpdateCrc computes the CRC32 of b[:len(b)-4] and writes it into the last
// four bytes of b.
func UpdateCrc(b []byte) {
	c := crc32Update(0xffffffff, crc32MakeTable(bits.Reverse32(crc32.IEEE)), b[:len(b)-4])
	binary.BigEndian.PutUint32(b[len(b)-4:], c)
}

// VerifyCRC reports whether the trailing four bytes of b (skipping the
// pointer field, as UpdateCrc expects) match the CRC32 of the preceding
// bytes.
func VerifyCRC(b []byte) bool {
	if len(b) < crcSize {
		return false
	}
	want := binary.BigEndian.Uint32(b[len(b)-4:])
	got := crc32Update(0xffffffff, crc32MakeTable(bits.Reverse32(crc32.IEEE)), b[:len(b)-4])
	return want == got
}

func crc32MakeTable(poly uint32) *crc32.Table {
	var t crc32.Table
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

func crc32Update(crc uint32, tab *crc32.Table, p []byte) uint32 {
	for _, v := range p {
		crc = tab[byte(crc>>24)^v] ^ (crc << 8)
	}
	return crc
}
