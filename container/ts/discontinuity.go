/*
NAME
  discontinuity.go

DESCRIPTION
  discontinuity.go tracks expected continuity counters per PID and marks the
  adaptation field's discontinuity indicator when a gap is detected on
  re-emission, so that downstream readers don't report spurious
  ContinuityErrors for a gap the repairer already knows about.

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

// DiscontinuityRepairer tracks, for each PID it has seen, the continuity
// counter expected on the next packet, and repairs re-emitted clips whose
// first packet's counter doesn't match by setting the discontinuity
// indicator in its adaptation field.
type DiscontinuityRepairer struct {
	expCC map[uint16]int
}

// NewDiscontinuityRepairer returns a new, empty DiscontinuityRepairer.
func NewDiscontinuityRepairer() *DiscontinuityRepairer {
	return &DiscontinuityRepairer{expCC: make(map[uint16]int)}
}

// Failed is to be called after a failed send so that the expected counter
// for pid is rolled back to align with the counter of the chunk that failed.
func (dr *DiscontinuityRepairer) Failed(pid uint16) {
	dr.decExpectedCC(pid)
}

// Repair checks the first packet of d (which must be exactly PacketSize
// bytes) against the expected continuity counter for its PID, and sets the
// discontinuity indicator if the counter doesn't match. d is modified in
// place.
func (dr *DiscontinuityRepairer) Repair(d []byte) error {
	p, err := Parse(d[:PacketSize])
	if err != nil {
		return err
	}
	cc := int(p.CC)
	expect, known := dr.ExpectedCC(p.PID)
	if known && cc != expect {
		if p.AFC == AFCAdaptationOnly || p.AFC == AFCAdaptationPayload {
			d[AdaptationFieldsIdx] |= DiscontinuityIndicatorMask
		} else if err := insertDiscontinuityField(d); err != nil {
			return err
		}
	}
	dr.SetExpectedCC(p.PID, cc)
	dr.IncExpectedCC(p.PID)
	return nil
}

// insertDiscontinuityField carves a minimal 2-byte adaptation field
// (length=1, discontinuity_indicator=1) into d, a PacketSize-length,
// payload-only packet, sacrificing the trailing two bytes of payload.
func insertDiscontinuityField(d []byte) error {
	if len(d) != PacketSize {
		return ErrInvalidLen
	}
	copy(d[HeadSize+2:], d[HeadSize:PacketSize-2])
	d[AdaptationControlIdx] = d[AdaptationControlIdx]&^AdaptationControlMask | AFCAdaptationPayload<<4
	d[AdaptationIdx] = 1
	d[AdaptationFieldsIdx] = DiscontinuityIndicatorMask
	return nil
}

// ExpectedCC returns the continuity counter expected on the next packet for
// pid, and whether any packet on pid has been observed yet.
func (dr *DiscontinuityRepairer) ExpectedCC(pid uint16) (int, bool) {
	cc, ok := dr.expCC[pid]
	return cc, ok
}

// IncExpectedCC increments the expected counter for pid.
func (dr *DiscontinuityRepairer) IncExpectedCC(pid uint16) {
	dr.expCC[pid] = (dr.expCC[pid] + 1) & 0xf
}

// decExpectedCC decrements the expected counter for pid.
func (dr *DiscontinuityRepairer) decExpectedCC(pid uint16) {
	dr.expCC[pid] = (dr.expCC[pid] - 1) & 0xf
}

// SetExpectedCC sets the expected counter for pid directly.
func (dr *DiscontinuityRepairer) SetExpectedCC(pid uint16, cc int) {
	dr.expCC[pid] = cc
}
