// Package rtcp parses RTCP (RFC 3550 §6) compound packets (sender and
// receiver reports, source descriptions, and goodbyes) and builds sender
// reports.
package rtcp

import (
	"encoding/binary"
	"fmt"
)

const (
	TypeSR   = 200
	TypeRR   = 201
	TypeSDES = 202
	TypeBye  = 203
)

// ReportBlock is one 24-byte reception report block carried by SR and RR
// packets.
type ReportBlock struct {
	SSRC             uint32
	FractionLost     uint8
	CumulativeLost   uint32 // 24-bit field, stored widened
	ExtHighestSeq    uint32
	Jitter           uint32
	LastSR           uint32
	DelaySinceLastSR uint32
}

// SenderReport is an SR (200) packet.
type SenderReport struct {
	SSRC        uint32
	NTPSeconds  uint32
	NTPFraction uint32
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReportBlock
}

// ReceiverReport is an RR (201) packet.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReportBlock
}

// SDESItem is one CNAME/NAME/... item within an SDES chunk.
type SDESItem struct {
	Type byte
	Text string
}

// SourceDescription is an SDES (202) packet.
type SourceDescription struct {
	Chunks []SDESChunk
}

type SDESChunk struct {
	SSRC  uint32
	Items []SDESItem
}

// Goodbye is a BYE (203) packet.
type Goodbye struct {
	Sources []uint32
	Reason  string
}

// Packet is one decoded element of a compound RTCP message. Exactly one of
// the typed fields is non-nil, selected by Type.
type Packet struct {
	Type byte
	SR   *SenderReport
	RR   *ReceiverReport
	SDES *SourceDescription
	BYE  *Goodbye
}

const sdesCNAME = 1

// Parse decodes every packet in a compound RTCP message. Unknown packet
// types are skipped by advancing past their declared length rather than
// causing an error; a malformed version or a length that would run past the
// buffer stops parsing and returns an error, since at that point resync is
// not possible.
func Parse(buf []byte) ([]Packet, error) {
	var packets []Packet
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("rtcp: truncated packet header at offset %d", off)
		}
		version := buf[off] >> 6
		if version != 2 {
			return nil, fmt.Errorf("rtcp: unsupported version %d at offset %d", version, off)
		}
		count := int(buf[off] & 0x1f)
		pt := buf[off+1]
		length := int(binary.BigEndian.Uint16(buf[off+2:off+4]))
		size := (length + 1) * 4
		if off+size > len(buf) {
			return nil, fmt.Errorf("rtcp: packet at offset %d declares length %d past buffer end", off, size)
		}
		body := buf[off+4 : off+size]

		pkt, err := parseOne(pt, count, body)
		if err != nil {
			return nil, fmt.Errorf("rtcp: packet type %d at offset %d: %w", pt, off, err)
		}
		if pkt != nil {
			packets = append(packets, *pkt)
		}
		off += size
	}
	return packets, nil
}

func parseOne(pt byte, count int, body []byte) (*Packet, error) {
	switch pt {
	case TypeSR:
		return parseSR(count, body)
	case TypeRR:
		return parseRR(count, body)
	case TypeSDES:
		return parseSDES(count, body)
	case TypeBye:
		return parseBye(count, body)
	default:
		return nil, nil // unknown type: skip silently, already advanced by size
	}
}

func parseReportBlocks(body []byte, count int) ([]ReportBlock, []byte, error) {
	blocks := make([]ReportBlock, 0, count)
	for i := 0; i < count; i++ {
		if len(body) < 24 {
			return nil, nil, fmt.Errorf("truncated report block %d", i)
		}
		b := ReportBlock{
			SSRC:             binary.BigEndian.Uint32(body[0:4]),
			FractionLost:     body[4],
			CumulativeLost:   uint32(body[5])<<16 | uint32(body[6])<<8 | uint32(body[7]),
			ExtHighestSeq:    binary.BigEndian.Uint32(body[8:12]),
			Jitter:           binary.BigEndian.Uint32(body[12:16]),
			LastSR:           binary.BigEndian.Uint32(body[16:20]),
			DelaySinceLastSR: binary.BigEndian.Uint32(body[20:24]),
		}
		blocks = append(blocks, b)
		body = body[24:]
	}
	return blocks, body, nil
}

func parseSR(count int, body []byte) (*Packet, error) {
	if len(body) < 24 {
		return nil, fmt.Errorf("truncated SR sender info")
	}
	sr := &SenderReport{
		SSRC:        binary.BigEndian.Uint32(body[0:4]),
		NTPSeconds:  binary.BigEndian.Uint32(body[4:8]),
		NTPFraction: binary.BigEndian.Uint32(body[8:12]),
		RTPTime:     binary.BigEndian.Uint32(body[12:16]),
		PacketCount: binary.BigEndian.Uint32(body[16:20]),
		OctetCount:  binary.BigEndian.Uint32(body[20:24]),
	}
	blocks, _, err := parseReportBlocks(body[24:], count)
	if err != nil {
		return nil, err
	}
	sr.Reports = blocks
	return &Packet{Type: TypeSR, SR: sr}, nil
}

func parseRR(count int, body []byte) (*Packet, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("truncated RR")
	}
	rr := &ReceiverReport{SSRC: binary.BigEndian.Uint32(body[0:4])}
	blocks, _, err := parseReportBlocks(body[4:], count)
	if err != nil {
		return nil, err
	}
	rr.Reports = blocks
	return &Packet{Type: TypeRR, RR: rr}, nil
}

func parseSDES(count int, body []byte) (*Packet, error) {
	sdes := &SourceDescription{}
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return nil, fmt.Errorf("truncated SDES chunk %d", i)
		}
		chunk := SDESChunk{SSRC: binary.BigEndian.Uint32(body[0:4])}
		body = body[4:]
		consumed := 4
		for len(body) > 0 && body[0] != 0 {
			if len(body) < 2 {
				return nil, fmt.Errorf("truncated SDES item in chunk %d", i)
			}
			itemType := body[0]
			itemLen := int(body[1])
			if len(body) < 2+itemLen {
				return nil, fmt.Errorf("truncated SDES item text in chunk %d", i)
			}
			chunk.Items = append(chunk.Items, SDESItem{Type: itemType, Text: string(body[2 : 2+itemLen])})
			body = body[2+itemLen:]
			consumed += 2 + itemLen
		}
		// Consume the null terminator and pad to a 32-bit boundary.
		if len(body) > 0 {
			body = body[1:]
			consumed++
		}
		for consumed%4 != 0 && len(body) > 0 {
			body = body[1:]
			consumed++
		}
		sdes.Chunks = append(sdes.Chunks, chunk)
	}
	return &Packet{Type: TypeSDES, SDES: sdes}, nil
}

func parseBye(count int, body []byte) (*Packet, error) {
	bye := &Goodbye{}
	for i := 0; i < count; i++ {
		if len(body) < 4 {
			return nil, fmt.Errorf("truncated BYE source %d", i)
		}
		bye.Sources = append(bye.Sources, binary.BigEndian.Uint32(body[0:4]))
		body = body[4:]
	}
	if len(body) > 0 {
		reasonLen := int(body[0])
		if len(body) >= 1+reasonLen {
			bye.Reason = string(body[1 : 1+reasonLen])
		}
	}
	return &Packet{Type: TypeBye, BYE: bye}, nil
}

// CNAME returns the first chunk's CNAME item, if present.
func (s *SourceDescription) CNAME() (string, bool) {
	if len(s.Chunks) == 0 {
		return "", false
	}
	for _, item := range s.Chunks[0].Items {
		if item.Type == sdesCNAME {
			return item.Text, true
		}
	}
	return "", false
}

// BuildSenderReport encodes a 28-byte SR packet with no report blocks, per
// the fixed layout used by RtpSession: 0x80, 200, 0x00, 0x06, ssrc(32),
// ntp(64), rtpTime(32), packets(32), bytes(32).
func BuildSenderReport(ssrc uint32, ntp uint64, rtpTime, packets, bytes uint32) []byte {
	buf := make([]byte, 28)
	buf[0] = 0x80
	buf[1] = TypeSR
	binary.BigEndian.PutUint16(buf[2:4], 6) // length in words - 1: 28/4 - 1 = 6
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	binary.BigEndian.PutUint64(buf[8:16], ntp)
	binary.BigEndian.PutUint32(buf[16:20], rtpTime)
	binary.BigEndian.PutUint32(buf[20:24], packets)
	binary.BigEndian.PutUint32(buf[24:28], bytes)
	return buf
}
