// Package mp4 walks the box/atom structure of an MP4 file well enough to
// locate the avcC configuration record in a completed fragment, and tails a
// growing fragment's mdat box to pull out newly-written H.264 NAL units as
// they are written by the encoder.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Atom is a view onto one box: its offset and length within the file and its
// fourcc. For "uuid" boxes the 16-byte extended type is counted in the header
// size and skipped, not stored. It does not own
// the underlying file; File is shared across every Atom read from it.
type Atom struct {
	File   io.ReaderAt
	Offset int64 // offset of the box header (the size field)
	Length int64 // total box length including header, or -1 if "extends to EOF"
	Fourcc string

	headerSize int64 // bytes consumed by size+fourcc(+largesize)(+usertype)
}

// DataOffset is the offset of the box's payload, immediately after its
// header.
func (a Atom) DataOffset() int64 {
	return a.Offset + a.headerSize
}

// ReadAtom reads a single box header at off. size==1 extended sizes and
// fourcc=="uuid" extended types are both handled transparently.
func ReadAtom(r io.ReaderAt, off int64) (Atom, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return Atom{}, err
	}

	size := int64(binary.BigEndian.Uint32(hdr[0:4]))
	fourcc := string(hdr[4:8])
	headerSize := int64(8)

	switch size {
	case 1:
		var ext [8]byte
		if _, err := r.ReadAt(ext[:], off+8); err != nil {
			return Atom{}, err
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
		headerSize += 8
	case 0:
		size = -1 // extends to end of parent/file; caller resolves
	}

	if fourcc == "uuid" {
		var usertype [16]byte
		if _, err := r.ReadAt(usertype[:], off+headerSize); err != nil {
			return Atom{}, err
		}
		headerSize += 16
	}

	return Atom{
		File:       r,
		Offset:     off,
		Length:     size,
		Fourcc:     fourcc,
		headerSize: headerSize,
	}, nil
}

// NextOffset returns the offset immediately after this atom, given the
// offset at which its enclosing container ends (used to resolve a
// size==0 "extends to end" atom).
func (a Atom) NextOffset(containerEnd int64) int64 {
	if a.Length < 0 {
		return containerEnd
	}
	return a.Offset + a.Length
}

// ChildOf seeks within [a.DataOffset(), end) for the first child atom whose
// fourcc matches want, starting the scan at startAt bytes into the data
// (useful for boxes like "avc1" and "avcC" that carry a fixed-size prefix
// before their nested boxes begin). end is the offset one past the last
// valid byte of a's payload; pass -1 to scan to EOF.
func (a Atom) ChildOf(want string, startAt int64, end int64) (Atom, error) {
	off := a.DataOffset() + startAt
	for end < 0 || off < end {
		child, err := ReadAtom(a.File, off)
		if err != nil {
			return Atom{}, err
		}
		if child.Fourcc == want {
			return child, nil
		}
		next := child.NextOffset(end)
		if next <= off {
			return Atom{}, fmt.Errorf("mp4: non-advancing atom %q at offset %d", child.Fourcc, off)
		}
		off = next
	}
	return Atom{}, fmt.Errorf("mp4: no child atom %q found", want)
}

// Bytes reads n bytes starting at off bytes into the atom's payload.
func (a Atom) Bytes(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := a.File.ReadAt(buf, a.DataOffset()+off); err != nil {
		return nil, err
	}
	return buf, nil
}
