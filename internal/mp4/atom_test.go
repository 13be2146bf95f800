package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// box builds a box with a 4-byte size + fourcc header and the given payload.
func box(fourcc string, payload []byte) []byte {
	size := 8 + len(payload)
	buf := make([]byte, 4, size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	buf = append(buf, fourcc...)
	buf = append(buf, payload...)
	return buf
}

func TestReadAtomBasicBox(t *testing.T) {
	data := box("free", []byte{1, 2, 3, 4})
	r := bytes.NewReader(data)

	a, err := ReadAtom(r, 0)
	if err != nil {
		t.Fatalf("ReadAtom: %v", err)
	}
	if a.Fourcc != "free" {
		t.Errorf("Fourcc = %q, want free", a.Fourcc)
	}
	if a.Length != int64(len(data)) {
		t.Errorf("Length = %d, want %d", a.Length, len(data))
	}
	if a.DataOffset() != 8 {
		t.Errorf("DataOffset = %d, want 8", a.DataOffset())
	}
}

func TestReadAtomExtendedSize(t *testing.T) {
	payload := make([]byte, 20)
	// size field == 1 signals a following 8-byte largesize.
	buf := []byte{0, 0, 0, 1}
	buf = append(buf, "mdat"...)
	var largesize [8]byte
	binary.BigEndian.PutUint64(largesize[:], uint64(16+len(payload)))
	buf = append(buf, largesize[:]...)
	buf = append(buf, payload...)

	a, err := ReadAtom(bytes.NewReader(buf), 0)
	if err != nil {
		t.Fatalf("ReadAtom: %v", err)
	}
	if a.Length != int64(16+len(payload)) {
		t.Errorf("Length = %d, want %d", a.Length, 16+len(payload))
	}
	if a.DataOffset() != 16 {
		t.Errorf("DataOffset = %d, want 16", a.DataOffset())
	}
}

func TestAtomChildOf(t *testing.T) {
	inner := box("tkhd", []byte{0, 0, 0, 1})
	outer := box("trak", inner)
	data := box("moov", outer)

	moov, err := ReadAtom(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("ReadAtom: %v", err)
	}
	trak, err := moov.ChildOf("trak", 0, moov.NextOffset(int64(len(data))))
	if err != nil {
		t.Fatalf("ChildOf trak: %v", err)
	}
	tkhd, err := trak.ChildOf("tkhd", 0, trak.NextOffset(int64(len(data))))
	if err != nil {
		t.Fatalf("ChildOf tkhd: %v", err)
	}
	flags, err := tkhd.Bytes(0, 4)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if flags[3]&0x01 == 0 {
		t.Errorf("expected enabled-track flag set")
	}
}

func TestAtomChildOfMissing(t *testing.T) {
	data := box("moov", box("trak", nil))
	moov, err := ReadAtom(bytes.NewReader(data), 0)
	if err != nil {
		t.Fatalf("ReadAtom: %v", err)
	}
	if _, err := moov.ChildOf("udta", 0, moov.NextOffset(int64(len(data)))); err == nil {
		t.Fatal("ChildOf: expected error for missing child, got nil")
	}
}

// buildMinimalMP4 assembles just enough of an MP4 box tree for LocateAvcC
// to walk: moov -> trak(enabled) -> mdia -> minf -> stbl -> stsd -> avc1 ->
// avcC, with a disabled trak first to exercise findEnabledTrak's skip.
func buildMinimalMP4(avccPayload []byte) []byte {
	avcC := box("avcC", avccPayload)

	// avc1 sample entry: 6 reserved + 2 data-reference-index + 70 bytes of
	// video sample entry fields (avc1.ChildOf("avcC", 78, ...) means the
	// 78 bytes after avc1's 8-byte header precede avcC; the startAt=8 used
	// for stsd skips its version/flags and entry_count).
	avc1Payload := make([]byte, 78)
	avc1 := box("avc1", append(avc1Payload, avcC...))

	// stsd: version/flags(4) + entry_count(4) then sample entries.
	stsdPayload := append([]byte{0, 0, 0, 0, 0, 0, 0, 1}, avc1...)
	stsd := box("stsd", stsdPayload)
	stbl := box("stbl", stsd)
	minf := box("minf", stbl)
	mdia := box("mdia", minf)

	enabledTkhd := box("tkhd", []byte{0, 0, 0, 1})
	enabledTrak := box("trak", append(append([]byte{}, enabledTkhd...), mdia...))

	disabledTkhd := box("tkhd", []byte{0, 0, 0, 0})
	disabledTrak := box("trak", disabledTkhd)

	moovPayload := append(append([]byte{}, disabledTrak...), enabledTrak...)
	return box("moov", moovPayload)
}

func TestLocateAvcC(t *testing.T) {
	want := []byte{1, 0x64, 0x00, 0x1f, 0xFF, 0xE1, 0x00, 0x02, 0xAA, 0xBB, 0x01, 0x00, 0x01, 0xCC}
	data := buildMinimalMP4(want)

	got, err := LocateAvcC(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("LocateAvcC: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("LocateAvcC = % x, want % x", got, want)
	}
}
