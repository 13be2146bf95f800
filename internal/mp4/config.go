package mp4

import (
	"fmt"
	"os"
)

// LocateAvcCFile opens path (a completed MP4 file, the "header file" in the
// collaborator contract) and returns its avcC configuration record.
func LocateAvcCFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mp4: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mp4: stat %s: %w", path, err)
	}
	return LocateAvcC(f, info.Size())
}

// sizedReaderAt is satisfied by *os.File; kept narrow so tests can supply a
// bytes.Reader-backed fake without pulling in the filesystem.
type sizedReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// LocateAvcC walks a completed (fully-written moov) MP4 file to find the
// avcC configuration record of its first enabled video track, per the
// "header file dance": moov -> trak(enabled) -> mdia -> minf -> stbl ->
// stsd -> avc1(startAt=8) -> avcC(startAt=78).
func LocateAvcC(r sizedReaderAt, fileSize int64) ([]byte, error) {
	moov, err := findTopLevel(r, fileSize, "moov")
	if err != nil {
		return nil, err
	}

	trak, err := findEnabledTrak(moov, fileSize)
	if err != nil {
		return nil, err
	}

	mdia, err := trak.ChildOf("mdia", 0, trak.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: trak has no mdia: %w", err)
	}
	minf, err := mdia.ChildOf("minf", 0, mdia.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: mdia has no minf: %w", err)
	}
	stbl, err := minf.ChildOf("stbl", 0, minf.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: minf has no stbl: %w", err)
	}
	stsd, err := stbl.ChildOf("stsd", 0, stbl.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: stbl has no stsd: %w", err)
	}

	// stsd's payload begins with an 8-byte full-box-plus-entry-count prefix
	// before the first sample entry.
	avc1, err := stsd.ChildOf("avc1", 8, stsd.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: stsd has no avc1: %w", err)
	}

	avcc, err := avc1.ChildOf("avcC", 78, avc1.NextOffset(fileSize))
	if err != nil {
		return nil, fmt.Errorf("mp4: avc1 has no avcC: %w", err)
	}

	size := avcc.Length - avcc.headerSize
	if size <= 0 {
		return nil, fmt.Errorf("mp4: avcC has non-positive payload size")
	}
	return avcc.Bytes(0, int(size))
}

// findTopLevel scans the root of the file for the first box with the given
// fourcc.
func findTopLevel(r sizedReaderAt, fileSize int64, fourcc string) (Atom, error) {
	off := int64(0)
	for off < fileSize {
		a, err := ReadAtom(r, off)
		if err != nil {
			return Atom{}, fmt.Errorf("mp4: reading top-level atom at %d: %w", off, err)
		}
		if a.Fourcc == fourcc {
			return a, nil
		}
		next := a.NextOffset(fileSize)
		if next <= off {
			return Atom{}, fmt.Errorf("mp4: non-advancing top-level atom %q", a.Fourcc)
		}
		off = next
	}
	return Atom{}, fmt.Errorf("mp4: no top-level %q box found", fourcc)
}

// findEnabledTrak returns the first trak whose tkhd has the track-enabled
// flag (bit 0 of the low-order flags byte) set.
func findEnabledTrak(moov Atom, fileSize int64) (Atom, error) {
	end := moov.NextOffset(fileSize)
	off := moov.DataOffset()
	for off < end {
		child, err := ReadAtom(moov.File, off)
		if err != nil {
			return Atom{}, err
		}
		if child.Fourcc == "trak" {
			enabled, err := trakEnabled(child, fileSize)
			if err != nil {
				return Atom{}, err
			}
			if enabled {
				return child, nil
			}
		}
		next := child.NextOffset(end)
		if next <= off {
			return Atom{}, fmt.Errorf("mp4: non-advancing atom %q in moov", child.Fourcc)
		}
		off = next
	}
	return Atom{}, fmt.Errorf("mp4: moov has no enabled trak")
}

func trakEnabled(trak Atom, fileSize int64) (bool, error) {
	tkhd, err := trak.ChildOf("tkhd", 0, trak.NextOffset(fileSize))
	if err != nil {
		return false, fmt.Errorf("mp4: trak has no tkhd: %w", err)
	}
	flags, err := tkhd.Bytes(0, 4)
	if err != nil {
		return false, err
	}
	// flags[0] is the full-box version; the track-enabled bit is bit 0 of
	// the low-order flags byte, flags[3].
	return flags[3]&0x01 != 0, nil
}
