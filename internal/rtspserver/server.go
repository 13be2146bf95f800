// Package rtspserver wires the RTSP connection state machine, the MP4
// frame extractor, and the RTP session broadcast path together into a
// runnable RTSP server.
package rtspserver

import (
	"context"
	"net"
	"sync"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/rtspcam/internal/capture"
	"github.com/lanikai/rtspcam/internal/config"
	"github.com/lanikai/rtspcam/internal/h264"
	"github.com/lanikai/rtspcam/internal/logging"
	"github.com/lanikai/rtspcam/internal/mp4"
	"github.com/lanikai/rtspcam/internal/rtp"
	"github.com/lanikai/rtspcam/internal/rtsp"
	"github.com/lanikai/rtspcam/internal/sdp"
)

const (
	streamIDVideo = 1
	streamIDAudio = 2

	videoPayloadType = 96
	videoClockRate   = 90000
	audioPayloadType = 97
)

// Server is the top-level RTSP/RTP streaming server: one TCP listener, a
// registry of active connections, and the capture-to-RTP broadcast path.
type Server struct {
	log *logging.Logger
	cfg config.Config

	video capture.VideoSource
	audio capture.AudioSource

	extractor *mp4.FrameExtractor

	listener net.Listener

	mu    sync.Mutex
	conns map[*rtsp.Connection]struct{}

	avccMu sync.Mutex
	avcc   *h264.AvcC

	audioSampleRate uint32
}

// New constructs a Server from a loaded configuration. It opens the
// configured video (and, if enabled, audio) capture sources but does not
// yet start listening; call ListenAndServe for that.
func New(log *logging.Logger, cfg config.Config) (*Server, error) {
	video, err := capture.OpenVideoSource(cfg.Video.Source)
	if err != nil {
		return nil, errors.Errorf("rtspserver: opening video source: %w", err)
	}

	s := &Server{
		log:             log.WithTag("rtspserver"),
		cfg:             cfg,
		video:           video,
		conns:           make(map[*rtsp.Connection]struct{}),
		audioSampleRate: cfg.Audio.SampleRate,
	}

	if cfg.Audio.Enabled {
		audio, err := capture.OpenAudioSource(cfg.Audio.Source)
		if err != nil {
			video.Close()
			return nil, errors.Errorf("rtspserver: opening audio source: %w", err)
		}
		s.audio = audio
		s.audioSampleRate = uint32(audio.SampleRate())
	}

	s.extractor = mp4.NewFrameExtractor(log, s.broadcastVideo, mp4.Options{
		RotateThreshold: cfg.RotateThresholdBytes,
		MaxFileIndex:    cfg.RotateMaxIndex,
	})

	raw, err := mp4.LocateAvcCFile(video.FragmentPath())
	if err != nil {
		video.Close()
		return nil, errors.Errorf("rtspserver: locating avcC in initial fragment: %w", err)
	}
	avcc, err := h264.DecodeAvcC(raw)
	if err != nil {
		video.Close()
		return nil, errors.Errorf("rtspserver: decoding initial avcC: %w", err)
	}
	if err := s.extractor.SetAvcC(avcc); err != nil {
		video.Close()
		return nil, errors.Errorf("rtspserver: %w", err)
	}
	s.avcc = avcc

	return s, nil
}

// ListenAndServe binds the configured listen address and accepts
// connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Errorf("rtspserver: listening on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		if err := s.extractor.Tail(ctx, s.video.FragmentPath()); err != nil {
			s.log.Warn("rtspserver: frame extractor stopped: %v", err)
		}
	}()

	if s.audio != nil {
		go s.pumpAudio(ctx)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return errors.Errorf("rtspserver: accept: %w", err)
			}
		}
		rc := rtsp.NewConnection(s.log, conn, s)
		go rc.Serve()
	}
}

func (s *Server) pumpAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case au, ok := <-s.audio.AccessUnits():
			if !ok {
				return
			}
			s.broadcastAudio(au.Data, au.PTS)
		}
	}
}

func (s *Server) broadcastVideo(nalus []h264.NALUnit, pts float64) {
	s.mu.Lock()
	conns := make([]*rtsp.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ForEachPlayingStream(streamIDVideo, func(session *rtp.Session) {
			session.SendVideo(nalus, pts)
		})
	}
}

func (s *Server) broadcastAudio(aac []byte, pts float64) {
	s.mu.Lock()
	conns := make([]*rtsp.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ForEachPlayingStream(streamIDAudio, func(session *rtp.Session) {
			session.SendAudio(aac, pts)
		})
	}
}

// Auth implements rtsp.Handler.
func (s *Server) Auth() (username, password string, ok bool) {
	if s.cfg.Auth.Username == "" {
		return "", "", false
	}
	return s.cfg.Auth.Username, s.cfg.Auth.Password, true
}

// Realm implements rtsp.Handler.
func (s *Server) Realm() string { return s.cfg.DeviceName }

// Describe implements rtsp.Handler, building the SDP document from the
// current avcC, stream dimensions, and bitrate estimate.
func (s *Server) Describe(serverIP string) []byte {
	s.avccMu.Lock()
	avcc := s.avcc
	s.avccMu.Unlock()

	sps, _ := h264.DecodeSPS(avcc.SPS)
	bps := s.extractor.BitsPerSecond()

	params := sdp.DescribeParams{
		DeviceName:      s.cfg.DeviceName,
		ServerIP:        serverIP,
		Width:           s.video.Width(),
		Height:          s.video.Height(),
		BitsPerSecond:   bps,
		PacketRate:      bps / 8 / rtp.DefaultMTU,
		AudioSampleRate: s.audioSampleRate,
	}
	if sps != nil {
		params.Profile = sps.Profile
		params.Compatibility = sps.Compatibility
		params.Level = sps.Level
	}
	params.SPS = avcc.SPS
	params.PPS = avcc.PPS

	return []byte(sdp.BuildDescribeSession(params).String())
}

// ValidStreamID implements rtsp.Handler.
func (s *Server) ValidStreamID(id int) bool {
	if id == streamIDVideo {
		return true
	}
	return id == streamIDAudio && s.audio != nil
}

// StreamParams implements rtsp.Handler.
func (s *Server) StreamParams(streamID int) (byte, uint32) {
	if streamID == streamIDVideo {
		return videoPayloadType, videoClockRate
	}
	return audioPayloadType, s.audioSampleRate
}

// Register implements rtsp.Handler.
func (s *Server) Register(conn *rtsp.Connection) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

// Unregister implements rtsp.Handler.
func (s *Server) Unregister(conn *rtsp.Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// ConnectionCount reports the number of currently registered connections,
// for observability.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
