package mp4

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/rtspcam/internal/bitio"
	"github.com/lanikai/rtspcam/internal/h264"
	"github.com/lanikai/rtspcam/internal/logging"
)

// DeliverFunc receives one access unit's NAL units in presentation order,
// paired with the presentation timestamp (seconds since capture start) that
// POC-ordered delivery assigned to it.
type DeliverFunc func(nalus []h264.NALUnit, pts float64)

// Options configures rotation and fragmentation thresholds for a
// FrameExtractor. Zero values fall back to the server's defaults.
type Options struct {
	RotateThreshold int64         // bytes; default 50 MiB
	MaxFileIndex    int           // default 5
	PollInterval    time.Duration // default 20ms
}

const (
	defaultRotateThreshold = 50 << 20
	defaultMaxFileIndex    = 5
	defaultPollInterval    = 20 * time.Millisecond
)

type pendingFrame struct {
	poc   int
	nalus []h264.NALUnit
	bytes int
}

// FrameExtractor tails a growing MP4 fragment written by the capture
// encoder, groups its mdat NAL records into access units, recovers
// presentation order via Picture Order Count, and delivers each access unit
// to DeliverFunc at most once; an access unit for which no presentation
// timestamp is left in the FIFO is dropped with a warning. See the
// component design notes on Mp4Walker
// tailing and POC-ordered delivery for the algorithm this follows.
type FrameExtractor struct {
	log      *logging.Logger
	deliver  DeliverFunc
	rotate   int64
	maxIndex int
	poll     time.Duration

	avcC *h264.AvcC
	poc  *h264.POCTracker

	// times is the capture-side PTS FIFO, fed by PushTimestamp from
	// whatever goroutine owns the encoder's capture loop.
	timesMu sync.Mutex
	times   []float64

	// Everything below is owned exclusively by the goroutine running Tail;
	// no other goroutine may touch it.
	pendingNAL []h264.NALUnit
	havePrev   bool
	prevIdc    byte
	prevType   byte

	buffered []pendingFrame
	prevPOC  int

	firstDeliverPTS *float64
	bitsAccum       int64
	bitsPerSecond   uint32 // atomic

	rotateRequests chan string
}

// NewFrameExtractor constructs an extractor that calls deliver for each
// recovered access unit.
func NewFrameExtractor(log *logging.Logger, deliver DeliverFunc, opts Options) *FrameExtractor {
	rotate := opts.RotateThreshold
	if rotate <= 0 {
		rotate = defaultRotateThreshold
	}
	maxIndex := opts.MaxFileIndex
	if maxIndex <= 0 {
		maxIndex = defaultMaxFileIndex
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &FrameExtractor{
		log:            log.WithTag("mp4"),
		deliver:        deliver,
		rotate:         rotate,
		maxIndex:       maxIndex,
		poll:           poll,
		rotateRequests: make(chan string, 1),
	}
}

// SetAvcC installs the stream's configuration record, decodes its SPS, and
// (re)initializes POC tracking. Must be called once before Tail begins
// emitting access units; the extractor's only observable effect from this
// call is that the caller is expected to announce configData exactly once
// before any access unit reaches DeliverFunc.
func (e *FrameExtractor) SetAvcC(avcc *h264.AvcC) error {
	sps, err := h264.DecodeSPS(avcc.SPS)
	if err != nil {
		return fmt.Errorf("mp4: decoding SPS from avcC: %w", err)
	}
	e.avcC = avcc
	e.poc = h264.NewPOCTracker(sps)
	return nil
}

// BitsPerSecond returns the most recent bitrate estimate, computed over
// access units delivered within the first second after the first delivery.
func (e *FrameExtractor) BitsPerSecond() uint32 {
	return atomic.LoadUint32(&e.bitsPerSecond)
}

// PushTimestamp enqueues one capture-side presentation timestamp, in
// arrival order. Safe to call from any goroutine.
func (e *FrameExtractor) PushTimestamp(pts float64) {
	e.timesMu.Lock()
	e.times = append(e.times, pts)
	e.timesMu.Unlock()
}

func (e *FrameExtractor) popTimestamp() (float64, bool) {
	e.timesMu.Lock()
	defer e.timesMu.Unlock()
	if len(e.times) == 0 {
		return 0, false
	}
	pts := e.times[0]
	e.times = e.times[1:]
	return pts, true
}

// RequestRotation asks Tail to finish draining the current file and switch
// to newPath. It is safe to call from any goroutine; the switch itself
// happens inside Tail's loop so the extractor's owned state is never
// touched concurrently.
func (e *FrameExtractor) RequestRotation(newPath string) {
	e.rotateRequests <- newPath
}

// tailState holds the per-file cursor Tail advances as it reads.
type tailState struct {
	file       *os.File
	path       string
	readOffset int64 // next byte to interpret as a length-prefixed NAL record
	haveMDAT   bool
	mdatData   int64 // offset of mdat's payload (first NAL record)
}

// Tail opens path and polls it for growth; after a requested rotation it
// goes on tailing the new file. It returns only when ctx is cancelled
// (with ctx.Err()) or on an error, never nil.
func (e *FrameExtractor) Tail(ctx context.Context, path string) error {
	st, err := e.openTail(path)
	if err != nil {
		return err
	}
	defer st.file.Close()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case newPath := <-e.rotateRequests:
			if err := e.rotateTo(&st, newPath); err != nil {
				return err
			}
		case <-ticker.C:
			if err := e.pollOnce(&st); err != nil {
				return err
			}
		}
	}
}

func (e *FrameExtractor) openTail(path string) (tailState, error) {
	f, err := os.Open(path)
	if err != nil {
		return tailState{}, fmt.Errorf("mp4: opening %s: %w", path, err)
	}
	return tailState{file: f, path: path}, nil
}

// pollOnce reads whatever new, complete NAL records are available and
// processes them. It never blocks on I/O beyond the single read calls;
// short reads simply leave readOffset unchanged for the next tick.
func (e *FrameExtractor) pollOnce(st *tailState) error {
	info, err := st.file.Stat()
	if err != nil {
		return fmt.Errorf("mp4: stat %s: %w", st.path, err)
	}
	size := info.Size()

	if !st.haveMDAT {
		if err := e.locateMDAT(st, size); err != nil {
			return err
		}
		if !st.haveMDAT {
			return nil // not enough bytes yet to find mdat
		}
	}

	e.readRecords(st, size)

	if size > e.rotate {
		e.log.Warn("mp4: %s exceeds rotation threshold (%d > %d); awaiting rotation request", st.path, size, e.rotate)
	}
	return nil
}

// locateMDAT walks top-level boxes from offset 0 looking for "mdat",
// skipping everything else, per the Mp4Walker tailing rule.
func (e *FrameExtractor) locateMDAT(st *tailState, size int64) error {
	off := st.readOffset
	for {
		if off+8 > size {
			return nil // header not fully written yet; wait
		}
		a, err := ReadAtom(st.file, off)
		if err != nil {
			return fmt.Errorf("mp4: reading atom at %d: %w", off, err)
		}
		if a.Fourcc == "mdat" {
			st.haveMDAT = true
			st.mdatData = a.DataOffset()
			st.readOffset = st.mdatData
			return nil
		}
		if a.Length < 0 {
			// size==0 "extends to EOF" on a non-mdat box would swallow the
			// rest of the file; nothing we can do but wait for it to close.
			return nil
		}
		off += a.Length
	}
}

// readRecords consumes back-to-back [lengthSize|NAL] records from mdat
// until the next record is incompletely written, then stops.
func (e *FrameExtractor) readRecords(st *tailState, size int64) {
	lengthSize := 4
	if e.avcC != nil {
		lengthSize = e.avcC.LengthSize
	}

	for {
		recordStart := st.readOffset
		if recordStart+int64(lengthSize) > size {
			return // length prefix itself not fully written
		}

		lenBuf := make([]byte, lengthSize)
		if _, err := st.file.ReadAt(lenBuf, recordStart); err != nil {
			return
		}
		var nalLen int64
		for _, b := range lenBuf {
			nalLen = nalLen<<8 | int64(b)
		}

		payloadStart := recordStart + int64(lengthSize)
		if payloadStart+nalLen > size {
			// Declared length exceeds what's on disk; rewind to the start
			// of this record and wait for more bytes next poll.
			st.readOffset = recordStart
			return
		}

		raw := make([]byte, nalLen)
		if _, err := st.file.ReadAt(raw, payloadStart); err != nil {
			st.readOffset = recordStart
			return
		}

		e.ingestNAL(h264.UnescapeNAL(raw))
		st.readOffset = payloadStart + nalLen
	}
}

// ingestNAL applies the access-unit grouping heuristic, closing and
// processing the previous access unit whenever nal starts a new one.
func (e *FrameExtractor) ingestNAL(nal h264.NALUnit) {
	idc := nal[0] & 0x60
	t := nal[0] & 0x1f

	boundary := false
	if e.havePrev && e.prevType < 6 {
		switch {
		case t >= 6:
			boundary = true
		case idc != e.prevIdc && (idc == 0 || e.prevIdc == 0):
			boundary = true
		case t != e.prevType && t == h264.TypeIDRSlice:
			boundary = true
		case t >= 1 && t <= 5 && firstMbInSliceIsZero(nal):
			boundary = true
		}
	}

	if boundary && len(e.pendingNAL) > 0 {
		e.closeAccessUnit()
	}

	e.pendingNAL = append(e.pendingNAL, nal)
	e.havePrev = true
	e.prevIdc = idc
	e.prevType = t
}

// firstMbInSliceIsZero peeks the slice header's first_mb_in_slice field,
// the first Exp-Golomb value of the RBSP, i.e. the one right after the
// 8-bit NAL header that RBSP() strips.
func firstMbInSliceIsZero(nal h264.NALUnit) bool {
	r := bitio.NewReader(nal.RBSP())
	return r.ReadUE() == 0
}

// closeAccessUnit finalizes the buffered NALs as one access unit, recovers
// its POC from the first slice NAL, and feeds it into POC-ordered delivery.
func (e *FrameExtractor) closeAccessUnit() {
	nalus := e.pendingNAL
	e.pendingNAL = nil

	poc := e.prevPOC // fallback when no slice NAL is present (e.g. SEI-only)
	bytes := 0
	for _, n := range nalus {
		bytes += len(n)
		if e.poc != nil && h264.IsSlice(n.Type()) {
			if p, err := e.poc.Decode(n); err == nil {
				poc = p
			} else {
				e.log.Warn("mp4: POC decode failed: %v", err)
			}
			break
		}
	}

	e.deliverOrdered(pendingFrame{poc: poc, nalus: nalus, bytes: bytes})
}

// deliverOrdered implements the POC-ordered delivery rule from the
// component design: a zero POC starts a new GOP and flushes the reorder
// buffer; otherwise frames accumulate until a strictly larger POC arrives.
func (e *FrameExtractor) deliverOrdered(cur pendingFrame) {
	if cur.poc == 0 {
		e.flush()
		pts, ok := e.popTimestamp()
		if !ok {
			e.log.Warn("mp4: no timestamp available for access unit; dropping")
			return
		}
		e.deliverOne(cur, pts)
		e.prevPOC = 0
		return
	}

	if cur.poc > e.prevPOC {
		e.flush()
		e.prevPOC = cur.poc
	}
	e.buffered = append(e.buffered, cur)
}

// flush delivers every buffered frame, assigning timestamps per the
// documented indexing: the first buffered frame takes the newest of the
// popped timestamps, and each subsequent frame takes the next-oldest.
func (e *FrameExtractor) flush() {
	k := len(e.buffered)
	if k == 0 {
		return
	}
	ts := make([]float64, k)
	for i := 0; i < k; i++ {
		pts, ok := e.popTimestamp()
		if !ok {
			e.log.Warn("mp4: timestamp FIFO underrun while flushing %d buffered frames", k-i)
			ts = ts[:i]
			break
		}
		ts[i] = pts
	}
	buffered := e.buffered
	e.buffered = nil

	if len(ts) == 0 {
		return
	}
	e.deliverOne(buffered[0], ts[len(ts)-1])
	for i := 1; i < len(buffered) && i-1 < len(ts); i++ {
		e.deliverOne(buffered[i], ts[i-1])
	}
}

func (e *FrameExtractor) deliverOne(f pendingFrame, pts float64) {
	e.deliver(f.nalus, pts)
	e.accumulateBitrate(f.bytes, pts)
}

// accumulateBitrate sums bits delivered within the first second after the
// first delivered frame, publishing the running total as bitsPerSecond.
func (e *FrameExtractor) accumulateBitrate(bytes int, pts float64) {
	if e.firstDeliverPTS == nil {
		first := pts
		e.firstDeliverPTS = &first
	}
	if pts-*e.firstDeliverPTS <= 1.0 {
		e.bitsAccum += int64(bytes) * 8
		atomic.StoreUint32(&e.bitsPerSecond, uint32(e.bitsAccum))
	}
}

// rotateTo drains the remainder of the current file's mdat (re-reading its
// final size so every residual NAL is delivered exactly once), closes and
// removes it, and begins tailing newPath from offset 0.
func (e *FrameExtractor) rotateTo(st *tailState, newPath string) error {
	info, err := st.file.Stat()
	if err != nil {
		return fmt.Errorf("mp4: stat %s before rotation: %w", st.path, err)
	}
	e.readRecords(st, info.Size())
	if len(e.pendingNAL) > 0 {
		e.closeAccessUnit()
	}

	oldPath := st.path
	st.file.Close()
	if err := os.Remove(oldPath); err != nil {
		e.log.Warn("mp4: removing rotated-out file %s: %v", oldPath, err)
	}

	f, err := os.Open(newPath)
	if err != nil {
		return fmt.Errorf("mp4: opening rotated file %s: %w", newPath, err)
	}
	*st = tailState{file: f, path: newPath}
	return nil
}
