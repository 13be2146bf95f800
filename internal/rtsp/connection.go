package rtsp

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/lanikai/rtspcam/internal/logging"
	"github.com/lanikai/rtspcam/internal/rtp"
)

// State is a per-RtspSession state, not per-connection: a single client may
// SETUP multiple streams (video + audio) under one Session ID.
type State int

const (
	StateNone State = iota
	StateSetup
	StatePlaying
)

// Handler supplies everything a Connection needs from the server: the SDP
// body, auth credentials, and the stream parameters needed to build an
// rtp.Session, plus registration hooks so the server can fan out encoded
// frames to every Playing session.
type Handler interface {
	Auth() (username, password string, ok bool)
	Realm() string
	Describe(serverIP string) []byte
	ValidStreamID(id int) bool
	StreamParams(streamID int) (payloadType byte, clockRate uint32)
	Register(conn *Connection)
	Unregister(conn *Connection)
}

// Stream is one SETUP'd media stream within an RtspSession.
type Stream struct {
	ID        int
	Transport rtp.Transport
	RTP       *rtp.Session

	channelRTP  byte
	channelRTCP byte
	interleaved bool
}

// Session is the server's RtspSession: a state plus the set of streams
// negotiated under one Session ID.
type Session struct {
	ID      string
	State   State
	Streams map[int]*Stream
}

// Connection is one accepted TCP socket: the RTSP request/response path and
// (for interleaved transport) the in-band RTP/RTCP path share it, so writes
// must be serialized — see writeMu.
type Connection struct {
	log     *logging.Logger
	conn    net.Conn
	handler Handler
	peerIP  net.IP

	writeMu sync.Mutex // serializes all writes to conn

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewConnection wraps an accepted socket.
func NewConnection(log *logging.Logger, conn net.Conn, handler Handler) *Connection {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return &Connection{
		log:      log.WithTag("rtsp"),
		conn:     conn,
		handler:  handler,
		peerIP:   net.ParseIP(host),
		sessions: make(map[string]*Session),
	}
}

// Serve reads the connection until EOF or a fatal error, dispatching RTSP
// requests and demultiplexing interleaved RTP/RTCP frames. It always
// cleans up every session's transports and unregisters from the handler
// before returning.
func (c *Connection) Serve() {
	defer c.close()

	buf := make([]byte, 0, 4096)

	for {
		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}

		for {
			consumed, handled, perr := c.dispatchOne(buf)
			if perr != nil {
				c.log.Warn("rtsp: %v", perr)
				return
			}
			if !handled {
				break
			}
			buf = buf[consumed:]
		}
	}
}

// dispatchOne attempts to consume exactly one RTSP request or one
// interleaved frame from the front of buf.
func (c *Connection) dispatchOne(buf []byte) (consumed int, handled bool, err error) {
	if len(buf) == 0 {
		return 0, false, nil
	}

	if buf[0] == 0x24 {
		if len(buf) < 4 {
			return 0, false, nil // wait for the rest of the interleaved header
		}
		length := int(buf[2])<<8 | int(buf[3])
		if len(buf) < 4+length {
			return 0, false, nil // partial payload; wait for more bytes
		}
		channel := buf[1]
		payload := buf[4 : 4+length]
		c.dispatchInterleaved(channel, payload)
		return 4 + length, true, nil
	}

	req, n, ok, perr := ParseRequest(buf)
	if perr != nil {
		return 0, false, perr
	}
	if !ok {
		return 0, false, nil
	}
	c.handleRequest(req)
	return n, true, nil
}

// dispatchInterleaved routes an in-band RTP/RTCP frame to the session
// stream that owns its channel number: the RTCP channel carries client
// receiver reports, which RTP.HandleRTCP parses and publishes (SR
// scheduling does not depend on them); the RTP
// channel is this server's own outbound channel, so a client is never
// expected to send on it, but it's matched explicitly (rather than falling
// through the RTCP case) so a misbehaving client doesn't update RTCP state
// from an RTP-channel frame.
func (c *Connection) dispatchInterleaved(channel byte, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		for _, stream := range sess.Streams {
			if !stream.interleaved {
				continue
			}
			switch channel {
			case stream.channelRTCP:
				stream.RTP.HandleRTCP(payload)
				return
			case stream.channelRTP:
				c.log.Debug("rtsp: ignoring unexpected inbound frame on RTP channel %d", channel)
				return
			}
		}
	}
}

// WriteInterleaved implements rtp.InterleavedWriter, serializing writes
// against the RTSP response path on the same socket.
func (c *Connection) WriteInterleaved(channel byte, payload []byte) error {
	frame := rtp.FrameInterleaved(channel, payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(frame)
	return err
}

func (c *Connection) writeResponse(resp *Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.Write(resp.Bytes())
}

const supportedMethods = "OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN"

func (c *Connection) handleRequest(req Request) {
	if !c.authorize(req) {
		resp := NewResponse(401, req.CSeq)
		resp.SetHeader("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, c.handler.Realm()))
		c.writeResponse(resp)
		return
	}

	switch req.Method {
	case "OPTIONS":
		resp := NewResponse(200, req.CSeq)
		resp.SetHeader("Public", supportedMethods)
		c.writeResponse(resp)
	case "DESCRIBE":
		c.handleDescribe(req)
	case "SETUP":
		c.handleSetup(req)
	case "PLAY":
		c.handlePlay(req)
	case "TEARDOWN":
		c.handleTeardown(req)
	default:
		resp := NewResponse(405, req.CSeq)
		resp.SetHeader("Allow", supportedMethods)
		c.writeResponse(resp)
	}
}

// authorize enforces the Basic-Auth gate: OPTIONS and TEARDOWN are always
// permitted; every other method requires a matching Authorization header
// when the handler has credentials configured.
func (c *Connection) authorize(req Request) bool {
	username, password, ok := c.handler.Auth()
	if !ok {
		return true
	}
	if req.Method == "OPTIONS" || req.Method == "TEARDOWN" {
		return true
	}

	header, present := req.Header("authorization")
	if !present {
		return false
	}
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	return string(decoded) == username+":"+password
}

func (c *Connection) handleDescribe(req Request) {
	host, _, _ := net.SplitHostPort(c.conn.LocalAddr().String())
	body := c.handler.Describe(host)
	resp := NewResponse(200, req.CSeq)
	resp.SetHeader("Content-Type", "application/sdp")
	resp.Body = body
	c.writeResponse(resp)
}

// parseStreamID extracts the trailing "streamid=N" path segment from a
// SETUP request URI.
func parseStreamID(uri string) (int, bool) {
	idx := strings.LastIndex(uri, "streamid=")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(uri[idx+len("streamid="):])
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Connection) handleSetup(req Request) {
	streamID, ok := parseStreamID(req.URI)
	if !ok || !c.handler.ValidStreamID(streamID) {
		c.writeResponse(NewResponse(404, req.CSeq))
		return
	}

	transportHeader, ok := req.Header("transport")
	if !ok {
		c.writeResponse(NewResponse(451, req.CSeq))
		return
	}

	sessionID, existing := req.Header("session")
	c.mu.Lock()
	sess, found := c.sessions[sessionID]
	if !found {
		if existing && sessionID != "" {
			// Client supplied a Session ID we don't know about.
			c.mu.Unlock()
			c.writeResponse(NewResponse(454, req.CSeq))
			return
		}
		sessionID = newSessionID()
		sess = &Session{ID: sessionID, State: StateNone, Streams: make(map[int]*Stream)}
		c.sessions[sessionID] = sess
	}
	if sess.State == StatePlaying {
		c.mu.Unlock()
		c.writeResponse(NewResponse(455, req.CSeq))
		return
	}
	if _, dup := sess.Streams[streamID]; dup {
		c.mu.Unlock()
		c.writeResponse(NewResponse(455, req.CSeq))
		return
	}
	c.mu.Unlock()

	stream, description, err := c.buildStream(streamID, transportHeader)
	if err != nil {
		c.writeResponse(NewResponse(451, req.CSeq))
		return
	}

	c.mu.Lock()
	sess.Streams[streamID] = stream
	sess.State = StateSetup
	c.mu.Unlock()

	resp := NewResponse(200, req.CSeq)
	resp.SetHeader("Session", sessionID)
	resp.SetHeader("Transport", description)
	c.writeResponse(resp)
}

func (c *Connection) buildStream(streamID int, transportHeader string) (*Stream, string, error) {
	payloadType, clockRate := c.handler.StreamParams(streamID)
	props := parseTransportProps(transportHeader)

	if clientPort, ok := props["client_port"]; ok {
		rtpPort, rtcpPort, err := splitPortPair(clientPort)
		if err != nil {
			return nil, "", err
		}
		udp, err := rtp.NewUDPTransport(c.peerIP, rtpPort, rtcpPort)
		if err != nil {
			return nil, "", err
		}
		session := rtp.NewSession(c.log, udp, payloadType, clockRate, streamID)
		go c.readUDPRTCP(udp, session)
		return &Stream{ID: streamID, Transport: udp, RTP: session}, udp.Description(), nil
	}

	if interleaved, ok := props["interleaved"]; ok {
		chRTP, chRTCP, err := splitPortPair(interleaved)
		if err != nil {
			return nil, "", err
		}
		it := rtp.NewInterleavedTransport(c, byte(chRTP), byte(chRTCP))
		session := rtp.NewSession(c.log, it, payloadType, clockRate, streamID)
		return &Stream{
			ID: streamID, Transport: it, RTP: session,
			channelRTP: byte(chRTP), channelRTCP: byte(chRTCP), interleaved: true,
		}, it.Description(), nil
	}

	return nil, "", fmt.Errorf("rtsp: Transport header has neither client_port nor interleaved: %q", transportHeader)
}

func (c *Connection) readUDPRTCP(udp *rtp.UDPTransport, session *rtp.Session) {
	buf := make([]byte, 2048)
	for {
		n, err := udp.ReadRTCP(buf)
		if err != nil {
			return
		}
		session.HandleRTCP(buf[:n])
	}
}

func parseTransportProps(header string) map[string]string {
	props := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			props[kv[0]] = kv[1]
		} else {
			props[part] = ""
		}
	}
	return props
}

func splitPortPair(s string) (a, b int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rtsp: malformed port pair %q", s)
	}
	a, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	b, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (c *Connection) handlePlay(req Request) {
	sessionID, ok := req.Header("session")
	if !ok {
		c.writeResponse(NewResponse(451, req.CSeq))
		return
	}

	c.mu.Lock()
	sess, found := c.sessions[sessionID]
	if !found {
		c.mu.Unlock()
		c.writeResponse(NewResponse(454, req.CSeq))
		return
	}
	if sess.State == StatePlaying {
		c.mu.Unlock()
		c.writeResponse(NewResponse(455, req.CSeq))
		return
	}
	sess.State = StatePlaying
	c.mu.Unlock()

	c.handler.Register(c)

	resp := NewResponse(200, req.CSeq)
	resp.SetHeader("Session", sessionID)
	c.writeResponse(resp)
}

func (c *Connection) handleTeardown(req Request) {
	sessionID, ok := req.Header("session")
	if !ok {
		c.writeResponse(NewResponse(451, req.CSeq))
		return
	}

	c.mu.Lock()
	sess, found := c.sessions[sessionID]
	if found {
		delete(c.sessions, sessionID)
	}
	remaining := len(c.sessions)
	c.mu.Unlock()

	if found {
		for _, stream := range sess.Streams {
			stream.RTP.Teardown()
		}
	}
	if remaining == 0 {
		c.handler.Unregister(c)
	}

	resp := NewResponse(200, req.CSeq)
	resp.SetHeader("Session", sessionID)
	c.writeResponse(resp)
}

// ForEachPlayingStream calls fn for every stream with the given streamID
// across every Playing session on this connection, used by the server's
// broadcast path.
func (c *Connection) ForEachPlayingStream(streamID int, fn func(*rtp.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		if sess.State != StatePlaying {
			continue
		}
		if stream, ok := sess.Streams[streamID]; ok {
			fn(stream.RTP)
		}
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = nil
	c.mu.Unlock()

	for _, sess := range sessions {
		for _, stream := range sess.Streams {
			stream.RTP.Teardown()
		}
	}
	c.handler.Unregister(c)
	c.conn.Close()
}

func newSessionID() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "1"
	}
	return strconv.FormatInt(n.Int64(), 10)
}
