package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/lanikai/rtspcam/internal/h264"
	"github.com/lanikai/rtspcam/internal/logging"
	"github.com/lanikai/rtspcam/internal/rtcp"
	"github.com/lanikai/rtspcam/internal/subscriber"
)

// DefaultMTU bounds the RTP packet size (header plus payload) this server
// packetizes to, per the
// component design's video/audio packetisation rules.
const DefaultMTU = 1200

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Session tracks one RTP stream's sequence/timestamp state and Sender
// Report scheduling, per the component design's RtpSession.
type Session struct {
	log         *logging.Logger
	transport   Transport
	payloadType byte
	clockRate   uint32
	streamID    int
	mtu         int

	mu          sync.Mutex // single-owner critical section, see concurrency model
	ssrc        uint32
	startSeq    uint16
	packets     uint64
	bytesSent   uint64
	rtpBase     uint32
	ptsBase     float64
	ntpBase     uint64
	haveFirst   bool
	lastSRAt    time.Time
	packetsAtSR uint64
	bytesAtSR   uint64

	sawFirstIDR bool

	rr             *subscriber.Hub[rtcp.ReportBlock]
	sourceDescMu   sync.Mutex
	sourceDescCNAME string
}

// NewSession constructs a session for one SETUP'd stream. clockRate is
// 90000 for H.264 video or the audio sample rate for AAC.
func NewSession(log *logging.Logger, transport Transport, payloadType byte, clockRate uint32, streamID int) *Session {
	return &Session{
		log:         log.WithTag("rtp"),
		transport:   transport,
		payloadType: payloadType,
		clockRate:   clockRate,
		streamID:    streamID,
		mtu:         DefaultMTU,
		startSeq:    randomUint16(),
		rr:          subscriber.New[rtcp.ReportBlock](),
	}
}

func randomUint16() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint16(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint16(b[:])
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}

// ReceiverReports returns a channel of reception reports parsed from
// inbound RTCP RR blocks, for UI/operator observability.
func (s *Session) ReceiverReports() <-chan rtcp.ReportBlock {
	return s.rr.Subscribe(8)
}

// SourceDescription returns the most recently observed CNAME from an
// inbound SDES chunk, if any.
func (s *Session) SourceDescription() (string, bool) {
	s.sourceDescMu.Lock()
	defer s.sourceDescMu.Unlock()
	return s.sourceDescCNAME, s.sourceDescCNAME != ""
}

// HandleRTCP feeds inbound RTCP bytes (from either transport flavor) into
// the session: RR and SR report blocks are published for observability, the
// first SDES chunk's CNAME is recorded, BYE is ignored, and any other parsed
// type is logged at debug level.
func (s *Session) HandleRTCP(buf []byte) {
	packets, err := rtcp.Parse(buf)
	if err != nil {
		s.log.Warn("rtp: malformed RTCP on stream %d: %v", s.streamID, err)
		return
	}
	for _, pkt := range packets {
		switch pkt.Type {
		case rtcp.TypeRR:
			for _, block := range pkt.RR.Reports {
				s.rr.Publish(block)
			}
		case rtcp.TypeSR:
			for _, block := range pkt.SR.Reports {
				s.rr.Publish(block)
			}
		case rtcp.TypeSDES:
			if cname, ok := pkt.SDES.CNAME(); ok {
				s.sourceDescMu.Lock()
				s.sourceDescCNAME = cname
				s.sourceDescMu.Unlock()
			}
		case rtcp.TypeBye:
			// No-op locally; the client will also TEARDOWN.
		default:
			s.log.Debug("rtp: unhandled RTCP packet type %d on stream %d", pkt.Type, s.streamID)
		}
	}
}

// nextHeader allocates the next packet's sequence/timestamp and maintains
// the SR-eligible counters, all under one critical section so SR snapshots
// and packet advancement never observe a torn state.
func (s *Session) nextHeader(pts float64) (seq uint16, timestamp uint32, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveFirst {
		s.ssrc = randomUint32()
		s.rtpBase = randomUint32()
		s.ptsBase = pts
		s.ntpBase = ntpTimestamp(time.Now())
		s.haveFirst = true
	}

	seq = uint16(uint64(s.startSeq) + s.packets)
	delta := int64(math.Round((pts - s.ptsBase) * float64(s.clockRate)))
	timestamp = s.rtpBase + uint32(delta)
	ssrc = s.ssrc
	return
}

// ntpTimestamp converts a wall-clock time to a 64-bit NTP timestamp
// (seconds since 1900 in the high 32 bits, fraction in the low 32).
func ntpTimestamp(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | frac
}

// afterSend records one sent packet's accounting and emits a Sender Report
// if at least one second has elapsed since the last one (or none has been
// sent yet).
func (s *Session) afterSend(payloadLen int, timestamp uint32) {
	s.mu.Lock()
	s.packets++
	s.bytesSent += uint64(payloadLen)

	due := s.lastSRAt.IsZero() || time.Since(s.lastSRAt) >= time.Second
	var sr []byte
	if due {
		packetsDelta := uint32(s.packets - s.packetsAtSR)
		bytesDelta := uint32(s.bytesSent - s.bytesAtSR)
		sr = rtcp.BuildSenderReport(s.ssrc, s.ntpBase, timestamp, packetsDelta, bytesDelta)
		s.lastSRAt = time.Now()
		s.packetsAtSR = s.packets
		s.bytesAtSR = s.bytesSent
	}
	s.mu.Unlock()

	if sr != nil {
		if err := s.transport.SendRTCP(sr); err != nil {
			s.log.Warn("rtp: sending SR on stream %d: %v", s.streamID, err)
		}
	}
}

// SendVideo packetizes one H.264 access unit per RFC 6184 and transmits it.
// NALs before the first IDR in a freshly-playing session are discarded.
func (s *Session) SendVideo(nalus []h264.NALUnit, pts float64) {
	if !s.sawFirstIDR {
		hasIDR := false
		for _, n := range nalus {
			if n.Type() == h264.TypeIDRSlice {
				hasIDR = true
				break
			}
		}
		if !hasIDR {
			return
		}
		s.sawFirstIDR = true
	}

	for i, nal := range nalus {
		lastNAL := i == len(nalus)-1
		if len(nal)+HeaderSize <= s.mtu {
			s.sendSingleNAL(nal, pts, lastNAL)
		} else {
			s.sendFragmented(nal, pts, lastNAL)
		}
	}
}

func (s *Session) sendSingleNAL(nal h264.NALUnit, pts float64, marker bool) {
	seq, ts, ssrc := s.nextHeader(pts)
	packet := make([]byte, HeaderSize+len(nal))
	WriteHeader(packet, s.payloadType, marker, seq, ts, ssrc)
	copy(packet[HeaderSize:], nal)
	s.send(packet)
}

func (s *Session) sendFragmented(nal h264.NALUnit, pts float64, lastNALOfAU bool) {
	header := nal[0]
	payload := nal.RBSP()
	maxFragment := s.mtu - HeaderSize - 2

	for off := 0; off < len(payload); off += maxFragment {
		end := off + maxFragment
		if end > len(payload) {
			end = len(payload)
		}
		start := off == 0
		last := end == len(payload)

		indicator := (header & 0xE0) | h264.TypeFUA
		fuHeader := header & 0x1f
		if start {
			fuHeader |= 0x80
		}
		if last {
			fuHeader |= 0x40
		}

		fragment := payload[off:end]
		packet := make([]byte, HeaderSize+2+len(fragment))
		marker := last && lastNALOfAU
		seq, ts, ssrc := s.nextHeader(pts)
		WriteHeader(packet, s.payloadType, marker, seq, ts, ssrc)
		packet[HeaderSize] = indicator
		packet[HeaderSize+1] = fuHeader
		copy(packet[HeaderSize+2:], fragment)
		s.send(packet)
	}
}

// SendAudio packetizes one AAC access unit per RFC 3640 AAC-hbr, with no
// fragmentation: a packet whose size would exceed the MTU is dropped.
func (s *Session) SendAudio(aac []byte, pts float64) {
	if HeaderSize+4+len(aac) > s.mtu {
		s.log.Warn("rtp: dropping oversized AAC access unit (%d bytes) on stream %d", len(aac), s.streamID)
		return
	}

	packet := make([]byte, HeaderSize+4+len(aac))
	seq, ts, ssrc := s.nextHeader(pts)
	WriteHeader(packet, s.payloadType, true, seq, ts, ssrc)
	binary.BigEndian.PutUint16(packet[HeaderSize:], 16) // AU-headers-length in bits
	auHeader := uint16(len(aac)&0x1fff) << 3
	binary.BigEndian.PutUint16(packet[HeaderSize+2:], auHeader)
	copy(packet[HeaderSize+4:], aac)
	s.send(packet)
}

func (s *Session) send(packet []byte) {
	if err := s.transport.SendRTP(packet); err != nil {
		s.log.Warn("rtp: sending packet on stream %d: %v", s.streamID, err)
		return
	}
	timestamp := binary.BigEndian.Uint32(packet[4:8])
	s.afterSend(len(packet)-HeaderSize, timestamp)
}

// Teardown tears down the transport and closes the receiver-report hub. On a
// UDP transport this closes the sockets, so later sends fail and are logged;
// an interleaved transport has nothing to close and keeps writing to the
// RTSP connection.
func (s *Session) Teardown() {
	s.transport.Teardown()
	s.rr.Close()
}
