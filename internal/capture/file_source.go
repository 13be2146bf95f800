package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
)

func init() {
	RegisterVideoSourceType("file", OpenFileVideoSource)
	RegisterAudioSourceType("file", OpenFileAudioSource)
}

// FileVideoSource stands in for a real capture device: it copies a static
// MP4 fixture into the scratch directory the mp4.FrameExtractor tails, and
// periodically re-copies it under a fresh name to simulate an encoder
// rotating files, so the server can run (and be exercised in tests) without
// real capture hardware.
type FileVideoSource struct {
	fixturePath string
	scratchDir  string
	width       int
	height      int

	currentPath string
	index       int
}

// OpenFileVideoSource opens path (a static .mp4 fixture) as a VideoSource.
// It demuxes the fixture with joy4 once, purely to read the H.264 stream's
// width/height for advertising over SDP; the fixture's bytes themselves are
// handed to mp4.FrameExtractor's box walker unchanged, via FragmentPath.
func OpenFileVideoSource(path string) (VideoSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: opening %s: %w", path, err)
	}
	defer file.Close()

	demuxer := mp4.NewDemuxer(file)
	streams, err := demuxer.Streams()
	if err != nil {
		return nil, fmt.Errorf("capture: demuxing %s: %w", path, err)
	}

	var info av.VideoCodecData
	for _, stream := range streams {
		if stream.Type() == av.H264 {
			info = stream.(av.VideoCodecData)
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("capture: %s has no H.264 stream", path)
	}

	scratchDir := filepath.Join(os.TempDir(), "rtspcam-filesource")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: creating scratch dir: %w", err)
	}

	s := &FileVideoSource{
		fixturePath: path,
		scratchDir:  scratchDir,
		width:       info.Width(),
		height:      info.Height(),
	}
	if err := s.copyFixture(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileVideoSource) copyFixture() error {
	dst := filepath.Join(s.scratchDir, fmt.Sprintf("fragment-%d.mp4", s.index))
	if err := copyFile(s.fixturePath, dst); err != nil {
		return err
	}
	s.currentPath = dst
	return nil
}

func (s *FileVideoSource) Width() int      { return s.width }
func (s *FileVideoSource) Height() int     { return s.height }
func (s *FileVideoSource) Codec() string   { return "H264" }
func (s *FileVideoSource) FragmentPath() string { return s.currentPath }
func (s *FileVideoSource) Close() error    { return nil }

// Loop re-copies the fixture under a new scratch path every period and
// invokes rotate with the new path, mirroring how a real encoder would
// periodically start a new fragment file. maxIndex bounds how many distinct
// paths are cycled through before wrapping, matching
// mp4.Options.MaxFileIndex.
func (s *FileVideoSource) Loop(ctx context.Context, period time.Duration, maxIndex int, rotate func(newPath string)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.index = (s.index + 1) % maxIndex
			if err := s.copyFixture(); err != nil {
				continue
			}
			rotate(s.currentPath)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// FileAudioSource stands in for a real audio capture device: it repeats a
// static raw AAC fixture's access units indefinitely, pacing emission by
// wall clock at one access unit per frameDuration.
type FileAudioSource struct {
	data       []byte
	sampleRate int
	channels   int

	out    chan AudioUnit
	cancel context.CancelFunc
}

// OpenFileAudioSource opens path (a raw headerless AAC fixture, one access
// unit per file for simplicity) as an AudioSource.
func OpenFileAudioSource(path string) (AudioSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: reading %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileAudioSource{
		data:       data,
		sampleRate: 44100,
		channels:   2,
		out:        make(chan AudioUnit, 8),
		cancel:     cancel,
	}
	go s.loop(ctx)
	return s, nil
}

func (s *FileAudioSource) loop(ctx context.Context) {
	defer close(s.out)

	const samplesPerFrame = 1024
	frameDuration := time.Duration(float64(samplesPerFrame) / float64(s.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			select {
			case s.out <- AudioUnit{Data: s.data, PTS: t.Sub(start).Seconds()}:
			default:
			}
		}
	}
}

func (s *FileAudioSource) SampleRate() int                { return s.sampleRate }
func (s *FileAudioSource) Channels() int                  { return s.channels }
func (s *FileAudioSource) AccessUnits() <-chan AudioUnit  { return s.out }
func (s *FileAudioSource) Close() error                   { s.cancel(); return nil }
