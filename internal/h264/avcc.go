package h264

import "fmt"

// AvcC is a decoded ISO/IEC 14496-15 AVCDecoderConfigurationRecord. This
// server only deals with a single SPS/PPS pair, which is all the capture
// pipeline it targets ever produces.
type AvcC struct {
	LengthSize int // 1, 2, or 4 bytes per NAL length prefix in the mdat
	SPS        NALUnit
	PPS        NALUnit
}

// DecodeAvcC parses an avcC configuration record as laid out by the encoder:
//
//	[0]    = 1 (configurationVersion)
//	[1..3] = profile, compatibility, level
//	[4]    = 0xFC | (lengthSizeMinusOne & 0x3)
//	[5]    = 0xE0 | numSPS (we only support numSPS == 1)
//	then for each SPS: u16-be length, length bytes
//	then: numPPS (we only support numPPS == 1)
//	then for each PPS: u16-be length, length bytes
func DecodeAvcC(raw []byte) (*AvcC, error) {
	if len(raw) < 7 {
		return nil, fmt.Errorf("h264: avcC too short (%d bytes)", len(raw))
	}
	if raw[0] != 1 {
		return nil, fmt.Errorf("h264: unsupported avcC configurationVersion %d", raw[0])
	}

	lengthSize := int(raw[4]&0x3) + 1
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, fmt.Errorf("h264: invalid avcC lengthSize %d", lengthSize)
	}

	numSPS := int(raw[5] & 0x1f)
	if numSPS < 1 {
		return nil, fmt.Errorf("h264: avcC has no SPS")
	}

	off := 6
	readNal := func() (NALUnit, error) {
		if off+2 > len(raw) {
			return nil, fmt.Errorf("h264: truncated avcC (length prefix)")
		}
		n := int(raw[off])<<8 | int(raw[off+1])
		off += 2
		if off+n > len(raw) {
			return nil, fmt.Errorf("h264: truncated avcC (payload)")
		}
		nal := unescapeNAL(raw[off : off+n])
		off += n
		return nal, nil
	}

	sps, err := readNal()
	if err != nil {
		return nil, err
	}
	// Skip any additional SPS entries (unsupported in practice, but don't
	// choke on them).
	for i := 1; i < numSPS; i++ {
		if _, err := readNal(); err != nil {
			return nil, err
		}
	}

	if off+1 > len(raw) {
		return nil, fmt.Errorf("h264: truncated avcC (numPPS)")
	}
	numPPS := int(raw[off])
	off++
	if numPPS < 1 {
		return nil, fmt.Errorf("h264: avcC has no PPS")
	}

	pps, err := readNal()
	if err != nil {
		return nil, err
	}

	return &AvcC{LengthSize: lengthSize, SPS: sps, PPS: pps}, nil
}

// Encode serializes the record back to avcC bytes, matching the layout
// DecodeAvcC expects. Used when the server needs to re-announce the current
// parameter sets (e.g. after a reconfiguration).
func (a *AvcC) Encode() []byte {
	sps := escapeNAL(nil, a.SPS)
	pps := escapeNAL(nil, a.PPS)

	buf := make([]byte, 0, 11+len(sps)+len(pps))
	buf = append(buf, 1, a.SPS[1], a.SPS[2], a.SPS[3])
	buf = append(buf, 0xFC|byte(a.LengthSize-1))
	buf = append(buf, 0xE0|1)
	buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
	buf = append(buf, sps...)
	buf = append(buf, 1)
	buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
	buf = append(buf, pps...)
	return buf
}
