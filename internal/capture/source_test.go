package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenVideoSourceUnknownTag(t *testing.T) {
	_, err := OpenVideoSource("bogus:whatever")
	if err == nil {
		t.Fatal("expected error for unregistered video source type")
	}
}

func TestOpenAudioSourceUnknownTag(t *testing.T) {
	_, err := OpenAudioSource("bogus:whatever")
	if err == nil {
		t.Fatal("expected error for unregistered audio source type")
	}
}

func TestSplitSpec(t *testing.T) {
	tag, path := splitSpec("file:testdata/sample.mp4")
	if tag != "file" || path != "testdata/sample.mp4" {
		t.Errorf("splitSpec = %q,%q", tag, path)
	}

	tag, path = splitSpec("file")
	if tag != "file" || path != "" {
		t.Errorf("splitSpec(no path) = %q,%q", tag, path)
	}
}

func TestFileAudioSourceEmitsAccessUnits(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "sample.aac")
	if err := os.WriteFile(fixture, []byte{0xAA, 0xBB, 0xCC}, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	src, err := OpenFileAudioSource(fixture)
	if err != nil {
		t.Fatalf("OpenFileAudioSource: %v", err)
	}
	defer src.Close()

	select {
	case au := <-src.AccessUnits():
		if len(au.Data) != 3 {
			t.Errorf("access unit data length = %d, want 3", len(au.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first access unit")
	}

	if src.SampleRate() != 44100 || src.Channels() != 2 {
		t.Errorf("SampleRate/Channels = %d/%d", src.SampleRate(), src.Channels())
	}
}

func TestFileAudioSourceClosesChannelOnClose(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "sample.aac")
	if err := os.WriteFile(fixture, []byte{0x01}, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	src, err := OpenFileAudioSource(fixture)
	if err != nil {
		t.Fatalf("OpenFileAudioSource: %v", err)
	}
	src.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.AccessUnits():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for AccessUnits channel to close")
		}
	}
}
