package rtsp

import (
	"strconv"
	"strings"
	"testing"
)

func TestParseRequestBasic(t *testing.T) {
	raw := "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	req, consumed, ok, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if !ok {
		t.Fatal("ParseRequest: ok = false, want true")
	}
	if consumed != len(raw) {
		t.Errorf("consumed = %d, want %d", consumed, len(raw))
	}
	if req.Method != "OPTIONS" || req.URI != "*" || req.CSeq != 1 {
		t.Errorf("req = %+v", req)
	}
}

func TestParseRequestWithBody(t *testing.T) {
	body := "v=0\r\n"
	raw := "ANNOUNCE rtsp://host/ RTSP/1.0\r\nCSeq: 2\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body + "TRAILING"
	req, consumed, ok, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if !ok {
		t.Fatal("ParseRequest: ok = false, want true")
	}
	if string(req.Body) != body {
		t.Errorf("Body = %q, want %q", req.Body, body)
	}
	if raw[consumed:] != "TRAILING" {
		t.Errorf("remaining after consumed = %q, want TRAILING", raw[consumed:])
	}
}

func TestParseRequestIncompleteBody(t *testing.T) {
	raw := "ANNOUNCE rtsp://host/ RTSP/1.0\r\nCSeq: 2\r\nContent-Length: 100\r\n\r\nshort"
	_, _, ok, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if ok {
		t.Fatal("ParseRequest: ok = true, want false for incomplete body")
	}
}

func TestParseRequestIncompleteHeaders(t *testing.T) {
	raw := "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n"
	_, _, ok, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if ok {
		t.Fatal("ParseRequest: ok = true, want false for incomplete headers")
	}
}

func TestParseRequestMissingCSeq(t *testing.T) {
	raw := "OPTIONS * RTSP/1.0\r\n\r\n"
	_, _, _, err := ParseRequest([]byte(raw))
	if err == nil {
		t.Fatal("ParseRequest: expected error for missing CSeq, got nil")
	}
}

func TestParseRequestHeaderCaseInsensitive(t *testing.T) {
	raw := "OPTIONS * RTSP/1.0\r\nCSEQ: 5\r\nSESSION: abc123\r\n\r\n"
	req, _, ok, err := ParseRequest([]byte(raw))
	if err != nil || !ok {
		t.Fatalf("ParseRequest: ok=%v err=%v", ok, err)
	}
	if session, found := req.Header("Session"); !found || session != "abc123" {
		t.Errorf("Header(Session) = %q,%v, want abc123,true", session, found)
	}
}

func TestResponseBytesFormat(t *testing.T) {
	resp := NewResponse(200, 3)
	resp.SetHeader("Session", "12345")
	out := string(resp.Bytes())

	if !strings.HasPrefix(out, "RTSP/1.0 200 OK\r\n") {
		t.Errorf("status line wrong: %q", out)
	}
	if !strings.Contains(out, "CSeq: 3\r\n") {
		t.Errorf("missing CSeq: %q", out)
	}
	if !strings.Contains(out, "Session: 12345\r\n") {
		t.Errorf("missing Session header: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Errorf("missing trailing blank line: %q", out)
	}
}

func TestResponseBytesWithBody(t *testing.T) {
	resp := NewResponse(200, 1)
	resp.Body = []byte("v=0\r\n")
	out := string(resp.Bytes())
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Errorf("missing Content-Length: %q", out)
	}
	if !strings.HasSuffix(out, "v=0\r\n") {
		t.Errorf("missing body: %q", out)
	}
}
