package h264

import "github.com/lanikai/rtspcam/internal/bitio"

// POCTracker recovers Picture Order Count (presentation order) across a
// sequence of slices, per ITU-T H.264 §8.2.1 (type-0 POC derivation). It
// holds the (prevLsb, prevMsb) state that derivation carries across slices.
type POCTracker struct {
	sps *SeqParamSet

	prevLsb int
	prevMsb int
}

// NewPOCTracker creates a tracker bound to the stream's current SPS. Callers
// must construct a new tracker whenever the active SPS changes; Reset clears
// the wrap state but keeps the SPS the tracker was built with.
func NewPOCTracker(sps *SeqParamSet) *POCTracker {
	return &POCTracker{sps: sps}
}

// Reset clears accumulated state, e.g. after an encoder reconfiguration.
func (t *POCTracker) Reset() {
	t.prevLsb = 0
	t.prevMsb = 0
}

// Decode parses the slice header prefix of nal (which must be TypeNonIDRSlice,
// TypePartitionA, or TypeIDRSlice) far enough to recover its Picture Order
// Count, and returns msb+lsb.
func (t *POCTracker) Decode(nal NALUnit) (poc int, err error) {
	r := bitio.NewReader(nal.RBSP())

	r.ReadUE() // first_mb_in_slice
	r.ReadUE() // slice_type
	r.ReadUE() // pic_parameter_set_id
	r.ReadBits(t.sps.FrameBits) // frame_num

	if t.sps.Interlaced {
		fieldPic := r.ReadFlag() // field_pic_flag
		if fieldPic {
			r.SkipBits(1) // bottom_field_flag
		}
	}

	isIDR := nal.Type() == TypeIDRSlice
	if isIDR {
		r.ReadUE() // idr_pic_id
		t.prevLsb = 0
		t.prevMsb = 0
	}

	if t.sps.PocType != 0 {
		// Only type-0 POC recovery is implemented; other types are rare in
		// this server's target encoders and the caller should treat the
		// access unit as arriving in decode order.
		return 0, nil
	}

	lsb := int(r.ReadBits(t.sps.PocLsbBits))
	maxLsb := 1 << uint(t.sps.PocLsbBits)

	msb := t.prevMsb
	switch {
	case lsb < t.prevLsb && t.prevLsb-lsb >= maxLsb/2:
		msb = t.prevMsb + maxLsb
	case lsb > t.prevLsb && lsb-t.prevLsb > maxLsb/2:
		msb = t.prevMsb - maxLsb
	}

	if nal.RefIdc() != 0 {
		t.prevLsb = lsb
		t.prevMsb = msb
	}

	return msb + lsb, nil
}
