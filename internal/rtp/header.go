// Package rtp builds and sends RTP (RFC 3550) packets for H.264 and AAC
// media, and manages the per-stream session state (sequence numbers,
// timestamps, and Sender Report scheduling) described in the component
// design for RtpSession.
package rtp

import (
	"encoding/binary"
)

// HeaderSize is the fixed 12-byte RTP header length this server emits: no
// padding, no extension, no CSRCs.
const HeaderSize = 12

// WriteHeader encodes the 12-byte RTP header described in the component
// design for RtpSession into dst (which must be at least HeaderSize bytes).
func WriteHeader(dst []byte, payloadType byte, marker bool, seq uint16, timestamp, ssrc uint32) {
	dst[0] = joinByte2114(2, false, false, 0) // V=2, P=0, X=0, CC=0
	dst[1] = joinByte17(marker, payloadType)
	binary.BigEndian.PutUint16(dst[2:4], seq)
	binary.BigEndian.PutUint32(dst[4:8], timestamp)
	binary.BigEndian.PutUint32(dst[8:12], ssrc)
}
