package h264

import "bytes"

var startCode3 = []byte{0x00, 0x00, 0x01}

// AppendAnnexB appends nal to dst as an Annex-B byte stream element: a start
// code followed by nal with emulation-prevention bytes re-inserted. nal must
// already be unescaped (the form UnescapeNAL/unescapeNAL produce and every
// NALUnit in this server is stored as); escapeNAL reverses that exactly once
// here, symmetric with the one-time removal at ingestion.
func AppendAnnexB(dst []byte, nal NALUnit) []byte {
	dst = append(dst, startCode3...)
	return escapeNAL(dst, nal)
}

// escapeNAL appends nal to dst with emulation-prevention 0x03 bytes
// re-inserted after every 00 00 pair, the inverse of unescapeNAL.
func escapeNAL(dst []byte, nal NALUnit) []byte {
	zeroRun := 0
	for _, b := range nal {
		if zeroRun >= 2 && b <= 0x03 {
			dst = append(dst, 0x03)
			zeroRun = 0
		}
		dst = append(dst, b)
		if b == 0x00 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return dst
}

// SplitAnnexB scans an Annex-B byte stream (start-code delimited NAL units),
// strips emulation-prevention bytes, and returns the individual NAL units
// without start codes. Used for reading fixture files recorded in Annex-B
// form. NALUnit values are kept unescaped throughout the rest of this
// server; AppendAnnexB re-escapes only when writing Annex-B back out.
func SplitAnnexB(data []byte) []NALUnit {
	var nalus []NALUnit

	start := indexStartCode(data, 0)
	for start >= 0 {
		payloadStart := start + len(startCode3)
		next := indexStartCode(data, payloadStart)
		var end int
		if next < 0 {
			end = len(data)
		} else {
			end = next
		}
		// Trim a trailing zero byte that belongs to a 4-byte start code
		// before the next NAL.
		for end > payloadStart && data[end-1] == 0x00 {
			end--
		}
		if end > payloadStart {
			nalus = append(nalus, unescapeNAL(data[payloadStart:end]))
		}
		start = next
	}
	return nalus
}

// UnescapeNAL removes emulation-prevention 0x03 bytes from a raw NAL unit
// read from a length-prefixed container (e.g. an mdat record or an avcC
// SPS/PPS entry), producing the unescaped form this server stores and
// passes around.
func UnescapeNAL(raw []byte) NALUnit {
	return unescapeNAL(raw)
}

// unescapeNAL removes emulation-prevention 0x03 bytes from a raw NAL unit.
func unescapeNAL(raw []byte) NALUnit {
	out := make([]byte, 0, len(raw))
	zeroRun := 0
	for _, b := range raw {
		if zeroRun >= 2 && b == 0x03 {
			zeroRun = 0
			continue
		}
		out = append(out, b)
		if b == 0x00 {
			zeroRun++
		} else {
			zeroRun = 0
		}
	}
	return NALUnit(out)
}

// indexStartCode finds the next 3-byte start code at or after from.
func indexStartCode(data []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	i := bytes.Index(data[from:], startCode3)
	if i < 0 {
		return -1
	}
	return from + i
}
