/*
NAME
  senders.go

DESCRIPTION
  senders.go provides the outgoing UDP writers used by the streamer: a
  plain TS-datagram sender and an RTP-encapsulated sender, matching the
  shape of revid's udp-destination senders.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package streamer

import (
	"net"

	"github.com/ausocean/tsreader/protocol/rtp"
	"github.com/ausocean/utils/logging"
)

// sender is the interface implemented by both outgoing datagram writers:
// Send sends one item's payload; pcr is the PCR (27MHz units) governing
// its RTP timestamp when applicable, ignored by udpSender.
type sender interface {
	Send(payload []byte, pcr uint64) error
	Close() error
}

// udpSender writes raw TS datagrams to a UDP destination, optionally
// multicast, with no RTP encapsulation.
type udpSender struct {
	conn net.Conn
	log  logging.Logger
}

// newUDPSender dials addr (host:port). If iface is non-empty, outgoing
// multicast packets are bound to that local interface.
func newUDPSender(addr, iface string, log logging.Logger) (*udpSender, error) {
	conn, err := dialUDP(addr, iface)
	if err != nil {
		return nil, err
	}
	return &udpSender{conn: conn, log: log}, nil
}

func (s *udpSender) Send(payload []byte, pcr uint64) error {
	_, err := s.conn.Write(payload)
	if err != nil {
		s.log.Warning("udpSender: write error", "error", err.Error())
	}
	return err
}

func (s *udpSender) Close() error { return s.conn.Close() }

// rtpSender wraps each outgoing datagram in an RTP header per spec.md
// §6: PT=33, 90kHz PCR/300 timestamp, randomized SSRC, monotone sequence
// number.
type rtpSender struct {
	conn net.Conn
	enc  *rtp.MP2TEncapsulator
	buf  []byte
	log  logging.Logger
}

func newRTPSender(addr, iface string, log logging.Logger) (*rtpSender, error) {
	conn, err := dialUDP(addr, iface)
	if err != nil {
		return nil, err
	}
	return &rtpSender{conn: conn, enc: rtp.NewMP2TEncapsulator(), log: log}, nil
}

func (s *rtpSender) Send(payload []byte, pcr uint64) error {
	s.buf = s.enc.Encapsulate(payload, pcr, s.buf)
	_, err := s.conn.Write(s.buf)
	if err != nil {
		s.log.Warning("rtpSender: write error", "error", err.Error())
	}
	return err
}

func (s *rtpSender) Close() error { return s.conn.Close() }

// dialUDP dials a UDP destination addr, binding to a named local
// interface's address first when iface is non-empty (required for
// multicast output to egress on a particular NIC).
func dialUDP(addr, iface string) (net.Conn, error) {
	if iface == "" {
		return net.Dial("udp", addr)
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return net.Dial("udp", addr)
	}
	ipNet, ok := addrs[0].(*net.IPNet)
	if !ok {
		return net.Dial("udp", addr)
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	laddr := &net.UDPAddr{IP: ipNet.IP}
	return net.DialUDP("udp", laddr, raddr)
}
