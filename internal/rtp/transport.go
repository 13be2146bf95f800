package rtp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Transport abstracts how RTP and RTCP bytes reach a client: either a pair
// of UDP sockets negotiated during SETUP, or the RTSP TCP socket itself
// with interleaved `$` framing. See the component design's RtpTransport
// variants.
type Transport interface {
	SendRTP(packet []byte) error
	SendRTCP(packet []byte) error
	Teardown()
	Description() string
}

// UDPTransport sends RTP on one UDP socket and RTCP on another, each bound
// to an ephemeral local port and sending to the peer ports the client
// advertised in its Transport: header.
type UDPTransport struct {
	conn     *net.UDPConn
	rtcpConn *net.UDPConn
	peerRTP  *net.UDPAddr
	peerRTCP *net.UDPAddr

	localPortRTP  int
	localPortRTCP int
}

// NewUDPTransport binds two ephemeral UDP sockets and directs them at the
// client's advertised client_port pair.
func NewUDPTransport(clientIP net.IP, clientPortRTP, clientPortRTCP int) (*UDPTransport, error) {
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("rtp: binding RTP socket: %w", err)
	}
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("rtp: binding RTCP socket: %w", err)
	}

	return &UDPTransport{
		conn:          rtpConn,
		rtcpConn:      rtcpConn,
		peerRTP:       &net.UDPAddr{IP: clientIP, Port: clientPortRTP},
		peerRTCP:      &net.UDPAddr{IP: clientIP, Port: clientPortRTCP},
		localPortRTP:  rtpConn.LocalAddr().(*net.UDPAddr).Port,
		localPortRTCP: rtcpConn.LocalAddr().(*net.UDPAddr).Port,
	}, nil
}

func (t *UDPTransport) SendRTP(packet []byte) error {
	_, err := t.conn.WriteToUDP(packet, t.peerRTP)
	return err
}

func (t *UDPTransport) SendRTCP(packet []byte) error {
	_, err := t.rtcpConn.WriteToUDP(packet, t.peerRTCP)
	return err
}

func (t *UDPTransport) Teardown() {
	t.conn.Close()
	t.rtcpConn.Close()
}

func (t *UDPTransport) Description() string {
	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		t.peerRTP.Port, t.peerRTCP.Port, t.localPortRTP, t.localPortRTCP)
}

// ReadRTCP blocks for one inbound RTCP datagram. Callers run this in a
// dedicated goroutine per the "suspension points" in the concurrency model.
func (t *UDPTransport) ReadRTCP(buf []byte) (int, error) {
	return t.rtcpConn.Read(buf)
}

// InterleavedWriter is the subset of *rtsp.Connection's socket the
// interleaved transport needs: a single serialized writer, since the RTSP
// response path and the interleaved RTP/RTCP path share one TCP socket.
type InterleavedWriter interface {
	WriteInterleaved(channel byte, payload []byte) error
}

// InterleavedTransport frames RTP and RTCP as `0x24 | channel | u16-be
// length | payload` over the shared RTSP TCP connection.
type InterleavedTransport struct {
	writer      InterleavedWriter
	channelRTP  byte
	channelRTCP byte
}

// NewInterleavedTransport wraps writer to send on the given channel pair.
func NewInterleavedTransport(writer InterleavedWriter, channelRTP, channelRTCP byte) *InterleavedTransport {
	return &InterleavedTransport{writer: writer, channelRTP: channelRTP, channelRTCP: channelRTCP}
}

func (t *InterleavedTransport) SendRTP(packet []byte) error {
	return t.writer.WriteInterleaved(t.channelRTP, packet)
}

func (t *InterleavedTransport) SendRTCP(packet []byte) error {
	return t.writer.WriteInterleaved(t.channelRTCP, packet)
}

func (t *InterleavedTransport) Teardown() {
	// The RTSP socket is owned by the connection; nothing to close here.
}

func (t *InterleavedTransport) Description() string {
	return fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", t.channelRTP, t.channelRTCP)
}

// FrameInterleaved wraps payload in the `$ | channel | u16-be length`
// header used on the server write path; the RtspConnection demultiplexer
// parses that header itself on the read path.
func FrameInterleaved(channel byte, payload []byte) []byte {
	frame := make([]byte, 4+len(payload))
	frame[0] = 0x24
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)
	return frame
}
