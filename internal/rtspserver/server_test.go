package rtspserver

import (
	"net"
	"testing"

	"github.com/lanikai/rtspcam/internal/config"
	"github.com/lanikai/rtspcam/internal/logging"
	"github.com/lanikai/rtspcam/internal/rtsp"
)

func TestAuthDisabledWhenNoUsername(t *testing.T) {
	s := &Server{cfg: config.Config{}}
	_, _, ok := s.Auth()
	if ok {
		t.Fatal("Auth() ok = true, want false when no username configured")
	}
}

func TestAuthEnabledReturnsCredentials(t *testing.T) {
	s := &Server{cfg: config.Config{Auth: config.AuthConfig{Username: "admin", Password: "secret"}}}
	user, pass, ok := s.Auth()
	if !ok || user != "admin" || pass != "secret" {
		t.Fatalf("Auth() = %q,%q,%v", user, pass, ok)
	}
}

func TestValidStreamIDVideoAlwaysValid(t *testing.T) {
	s := &Server{}
	if !s.ValidStreamID(streamIDVideo) {
		t.Error("video stream should always be valid")
	}
	if s.ValidStreamID(streamIDAudio) {
		t.Error("audio stream should be invalid when no audio source configured")
	}
	if s.ValidStreamID(99) {
		t.Error("unknown stream id should be invalid")
	}
}

func TestStreamParams(t *testing.T) {
	s := &Server{audioSampleRate: 48000}

	pt, clock := s.StreamParams(streamIDVideo)
	if pt != videoPayloadType || clock != videoClockRate {
		t.Errorf("video params = %d,%d", pt, clock)
	}

	pt, clock = s.StreamParams(streamIDAudio)
	if pt != audioPayloadType || clock != 48000 {
		t.Errorf("audio params = %d,%d", pt, clock)
	}
}

func TestRegisterUnregisterConnectionCount(t *testing.T) {
	s := &Server{conns: make(map[*rtsp.Connection]struct{})}
	server, _ := net.Pipe()
	defer server.Close()
	c := rtsp.NewConnection(logging.DefaultLogger, server, s)

	s.Register(c)
	if s.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount() = %d, want 1 after Register", s.ConnectionCount())
	}

	s.Unregister(c)
	if s.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount() = %d, want 0 after Unregister", s.ConnectionCount())
	}
}

func TestRealmReturnsDeviceName(t *testing.T) {
	s := &Server{cfg: config.Config{DeviceName: "Driveway Cam"}, log: logging.DefaultLogger}
	if s.Realm() != "Driveway Cam" {
		t.Errorf("Realm() = %q", s.Realm())
	}
}
