// Package capture defines the narrow interfaces the server needs from a
// capture device and H.264/AAC encoder, plus a registry for opening one by
// a colon-separated source string (e.g. "file:/path/to/fixture.mp4"),
// mirroring a media.OpenSource-style constructor registry.
package capture

import (
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// VideoSource describes an encoded H.264 elementary stream arriving as a
// growing MP4 fragment: width/height/codec for SDP, and a path the
// mp4.FrameExtractor can tail.
type VideoSource interface {
	io.Closer

	Width() int
	Height() int
	Codec() string

	// FragmentPath returns the filesystem path of the currently active
	// fragment file for the extractor to tail.
	FragmentPath() string
}

// AudioSource describes a raw AAC access unit stream.
type AudioSource interface {
	io.Closer

	SampleRate() int
	Channels() int

	// AccessUnits returns a channel of already-encoded AAC access units
	// paired with their presentation timestamps (seconds since source
	// start). The channel is closed when the source is exhausted or closed.
	AccessUnits() <-chan AudioUnit
}

// AudioUnit is one AAC access unit paired with its presentation timestamp.
type AudioUnit struct {
	Data []byte
	PTS  float64
}

// OpenVideoFunc opens a VideoSource given the path portion of a source spec.
type OpenVideoFunc func(path string) (VideoSource, error)

// OpenAudioFunc opens an AudioSource given the path portion of a source spec.
type OpenAudioFunc func(path string) (AudioSource, error)

var (
	videoRegistry = map[string]OpenVideoFunc{}
	audioRegistry = map[string]OpenAudioFunc{}
)

// RegisterVideoSourceType registers a video source type under tag, e.g.
// "file" for capture.OpenFileVideoSource.
func RegisterVideoSourceType(tag string, open OpenVideoFunc) {
	videoRegistry[tag] = open
}

// RegisterAudioSourceType registers an audio source type under tag.
func RegisterAudioSourceType(tag string, open OpenAudioFunc) {
	audioRegistry[tag] = open
}

// OpenVideoSource opens a video source from a "tag:path" spec, e.g.
// "file:testdata/sample.mp4".
func OpenVideoSource(spec string) (VideoSource, error) {
	tag, path := splitSpec(spec)
	open, found := videoRegistry[tag]
	if !found {
		return nil, errors.Errorf("capture: video source type %q not registered (known: %v)", tag, knownVideoTags())
	}
	return open(path)
}

// OpenAudioSource opens an audio source from a "tag:path" spec.
func OpenAudioSource(spec string) (AudioSource, error) {
	tag, path := splitSpec(spec)
	open, found := audioRegistry[tag]
	if !found {
		return nil, errors.Errorf("capture: audio source type %q not registered (known: %v)", tag, knownAudioTags())
	}
	return open(path)
}

func splitSpec(spec string) (tag, path string) {
	parts := strings.SplitN(spec, ":", 2)
	tag = parts[0]
	if len(parts) == 2 {
		path = parts[1]
	}
	return tag, path
}

func knownVideoTags() []string {
	var tags []string
	for t := range videoRegistry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func knownAudioTags() []string {
	var tags []string
	for t := range audioRegistry {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
