package rtsp

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/lanikai/rtspcam/internal/logging"
)

type fakeHandler struct {
	username, password string
	authEnabled        bool
	registered         int
}

func (h *fakeHandler) Auth() (string, string, bool) { return h.username, h.password, h.authEnabled }
func (h *fakeHandler) Realm() string                { return "test" }
func (h *fakeHandler) Describe(serverIP string) []byte {
	return []byte("v=0\r\ns=test\r\n")
}
func (h *fakeHandler) ValidStreamID(id int) bool { return id == 1 || id == 2 }
func (h *fakeHandler) StreamParams(streamID int) (byte, uint32) {
	if streamID == 1 {
		return 96, 90000
	}
	return 97, 48000
}
func (h *fakeHandler) Register(conn *Connection)   { h.registered++ }
func (h *fakeHandler) Unregister(conn *Connection) { h.registered-- }

func newTestConnection(t *testing.T, h *fakeHandler) (client net.Conn, done chan struct{}) {
	t.Helper()
	server, cl := net.Pipe()
	c := NewConnection(logging.DefaultLogger, server, h)
	done = make(chan struct{})
	go func() {
		c.Serve()
		close(done)
	}()
	return cl, done
}

func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return string(buf[:n])
}

func TestOptionsReturns200(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	resp := readResponse(t, client)

	if !strings.HasPrefix(resp, "RTSP/1.0 200") {
		t.Errorf("response = %q, want 200 OK", resp)
	}
	if !strings.Contains(resp, "Public: OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN") &&
		!strings.Contains(resp, "Public: "+supportedMethods) {
		t.Errorf("missing Public header: %q", resp)
	}
}

func TestDescribeReturnsSDP(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("DESCRIBE rtsp://host/ RTSP/1.0\r\nCSeq: 2\r\n\r\n"))
	resp := readResponse(t, client)

	if !strings.Contains(resp, "v=0\r\ns=test\r\n") {
		t.Errorf("response missing SDP body: %q", resp)
	}
}

func TestPlayWithoutSessionReturns451(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("PLAY rtsp://host/ RTSP/1.0\r\nCSeq: 3\r\n\r\n"))
	resp := readResponse(t, client)

	if !strings.HasPrefix(resp, "RTSP/1.0 451") {
		t.Errorf("response = %q, want 451", resp)
	}
}

func TestSetupUnknownStreamReturns404(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("SETUP rtsp://host/streamid=9 RTSP/1.0\r\nCSeq: 4\r\nTransport: RTP/AVP;unicast;client_port=40000-40001\r\n\r\n"))
	resp := readResponse(t, client)

	if !strings.HasPrefix(resp, "RTSP/1.0 404") {
		t.Errorf("response = %q, want 404", resp)
	}
}

func TestSetupUDPThenPlay(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("SETUP rtsp://host/streamid=1 RTSP/1.0\r\nCSeq: 5\r\nTransport: RTP/AVP;unicast;client_port=40000-40001\r\n\r\n"))
	resp := readResponse(t, client)
	if !strings.HasPrefix(resp, "RTSP/1.0 200") {
		t.Fatalf("SETUP response = %q, want 200", resp)
	}
	if !strings.Contains(resp, "Session:") || !strings.Contains(resp, "server_port=") {
		t.Fatalf("SETUP response missing Session/server_port: %q", resp)
	}

	sessionLine := ""
	for _, line := range strings.Split(resp, "\r\n") {
		if strings.HasPrefix(line, "Session:") {
			sessionLine = strings.TrimSpace(strings.TrimPrefix(line, "Session:"))
		}
	}
	if sessionLine == "" {
		t.Fatalf("could not extract Session ID from %q", resp)
	}

	client.Write([]byte("PLAY rtsp://host/ RTSP/1.0\r\nCSeq: 6\r\nSession: " + sessionLine + "\r\n\r\n"))
	resp = readResponse(t, client)
	if !strings.HasPrefix(resp, "RTSP/1.0 200") {
		t.Fatalf("PLAY response = %q, want 200", resp)
	}
	if h.registered != 1 {
		t.Errorf("registered = %d, want 1", h.registered)
	}
}

func TestAuthGateRequiresCredentials(t *testing.T) {
	h := &fakeHandler{username: "admin", password: "secret", authEnabled: true}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("DESCRIBE rtsp://host/ RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	resp := readResponse(t, client)
	if !strings.HasPrefix(resp, "RTSP/1.0 401") {
		t.Fatalf("response = %q, want 401", resp)
	}
	if !strings.Contains(resp, `WWW-Authenticate: Basic realm="test"`) {
		t.Errorf("missing WWW-Authenticate: %q", resp)
	}

	client.Write([]byte("DESCRIBE rtsp://host/ RTSP/1.0\r\nCSeq: 2\r\nAuthorization: Basic YWRtaW46c2VjcmV0\r\n\r\n"))
	resp = readResponse(t, client)
	if !strings.HasPrefix(resp, "RTSP/1.0 200") {
		t.Fatalf("response = %q, want 200", resp)
	}
}

func TestUnknownMethodReturns405(t *testing.T) {
	h := &fakeHandler{}
	client, _ := newTestConnection(t, h)
	defer client.Close()

	client.Write([]byte("FOO * RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	resp := readResponse(t, client)
	if !strings.HasPrefix(resp, "RTSP/1.0 405") {
		t.Errorf("response = %q, want 405", resp)
	}
}
