package l2frames

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/mocap/l1samples"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// FrameAlignerConfig holds configuration for the FrameAligner.
type FrameAlignerConfig struct {
	// Segments is the bound sensor set for the session. Required.
	Segments []string

	// SampleHz is the nominal per-sensor rate (default 100).
	SampleHz float64

	// Tolerance is the max cross-sensor spread within one frame (default 2ms).
	Tolerance time.Duration

	// Window bounds how long a buffered sample may wait for its peers before
	// a partial frame is emitted (default 40ms).
	Window time.Duration

	// FrameCallback receives each emitted frame, in ascending canonical
	// timestamp order, synchronously with Add/Flush. Optional.
	FrameCallback func(*Frame)

	// DropCallback receives each detected drop event. Optional; drops are
	// also retained and available via Drops.
	DropCallback func(DropEvent)

	// Clock supplies wall time for FlushAged, so buffers age out even when
	// every sensor goes silent at once. Defaults to RealClock; tests install
	// a MockClock.
	Clock timeutil.Clock
}

// FrameAligner buffers per-sensor samples and emits synchronized frames.
// Methods are safe for one producer at a time; the pipeline drives it from a
// single goroutine per session.
type FrameAligner struct {
	mu         sync.Mutex
	segments   []string
	bound      map[string]bool
	intervalUs int64
	tolUs      int64
	windowUs   int64
	window     time.Duration
	clock      timeutil.Clock

	frameCallback func(*Frame)
	dropCallback  func(DropEvent)

	// Per-segment pending samples, sorted by normalized timestamp.
	buffers map[string][]l1samples.Sample

	// Per-segment last ingested sample, for gap and reorder detection.
	lastSeq map[string]uint32
	lastTs  map[string]int64
	seen    map[string]bool

	latestArrivalUs int64
	lastArrivalAt   time.Time
	frameCounter    int
	drops           []DropEvent
	partials        int
}

// NewFrameAligner creates a FrameAligner with the given configuration.
func NewFrameAligner(config FrameAlignerConfig) *FrameAligner {
	if config.SampleHz == 0 {
		config.SampleHz = 100
	}
	if config.Tolerance == 0 {
		config.Tolerance = 2 * time.Millisecond
	}
	if config.Window == 0 {
		config.Window = 40 * time.Millisecond
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}

	bound := make(map[string]bool, len(config.Segments))
	for _, s := range config.Segments {
		bound[s] = true
	}

	return &FrameAligner{
		segments:      append([]string(nil), config.Segments...),
		bound:         bound,
		intervalUs:    int64(1e6 / config.SampleHz),
		tolUs:         config.Tolerance.Microseconds(),
		windowUs:      config.Window.Microseconds(),
		window:        config.Window,
		clock:         config.Clock,
		frameCallback: config.FrameCallback,
		dropCallback:  config.DropCallback,
		buffers:       make(map[string][]l1samples.Sample),
		lastSeq:       make(map[string]uint32),
		lastTs:        make(map[string]int64),
		seen:          make(map[string]bool),
	}
}

// Add ingests one normalized sample. Samples from unbound segments are
// ignored. Emits any frames that become complete or time out.
func (fa *FrameAligner) Add(s l1samples.Sample) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if !fa.bound[s.SegmentID] {
		debugf("[FrameAligner] ignoring sample for unbound segment %s", s.SegmentID)
		return
	}

	if s.NormalizedUs > fa.latestArrivalUs {
		fa.latestArrivalUs = s.NormalizedUs
	}
	fa.lastArrivalAt = fa.clock.Now()

	if fa.seen[s.SegmentID] && s.Seq < fa.lastSeq[s.SegmentID] {
		// Late arrival from a wireless retransmit: reinsert by sequence
		// position, skip gap accounting, keep the in-order high-water marks.
		fa.insert(s)
		fa.emitReady()
		return
	}

	if fa.seen[s.SegmentID] {
		gap := s.NormalizedUs - fa.lastTs[s.SegmentID]
		if gap > fa.intervalUs+fa.intervalUs/2 {
			ev := DropEvent{
				SegmentID: s.SegmentID,
				BeforeUs:  fa.lastTs[s.SegmentID],
				AfterUs:   s.NormalizedUs,
				GapUs:     gap,
				AfterSeq:  s.Seq,
			}
			fa.drops = append(fa.drops, ev)
			if fa.dropCallback != nil {
				fa.dropCallback(ev)
			}
			debugf("[FrameAligner] drop detected: segment=%s gap=%dµs into seq=%d",
				ev.SegmentID, ev.GapUs, ev.AfterSeq)
		}
	}
	fa.seen[s.SegmentID] = true
	fa.lastSeq[s.SegmentID] = s.Seq
	fa.lastTs[s.SegmentID] = s.NormalizedUs

	fa.insert(s)
	fa.emitReady()
}

// insert places s into its segment buffer, keeping timestamp order.
// Duplicate sequence numbers are discarded.
func (fa *FrameAligner) insert(s l1samples.Sample) {
	buf := fa.buffers[s.SegmentID]
	i := sort.Search(len(buf), func(i int) bool {
		return buf[i].NormalizedUs >= s.NormalizedUs
	})
	for _, existing := range buf {
		if existing.Seq == s.Seq {
			return
		}
	}
	buf = append(buf, l1samples.Sample{})
	copy(buf[i+1:], buf[i:])
	buf[i] = s
	fa.buffers[s.SegmentID] = buf
}

// emitReady emits frames while a complete or timed-out group exists at the
// head of the buffers.
func (fa *FrameAligner) emitReady() {
	for {
		earliest, ok := fa.earliestHead()
		if !ok {
			return
		}

		members := fa.groupAround(earliest)
		if len(members) == len(fa.segments) {
			fa.emit(members, nil)
			continue
		}

		// Incomplete group: only force a partial once the head has aged out
		// of the buffer window.
		if fa.latestArrivalUs-earliest < fa.windowUs {
			return
		}
		var missing []string
		for _, seg := range fa.segments {
			if _, ok := members[seg]; !ok {
				missing = append(missing, seg)
			}
		}
		fa.emit(members, missing)
	}
}

// earliestHead returns the smallest head timestamp across non-empty buffers.
func (fa *FrameAligner) earliestHead() (int64, bool) {
	found := false
	var earliest int64
	for _, buf := range fa.buffers {
		if len(buf) == 0 {
			continue
		}
		if !found || buf[0].NormalizedUs < earliest {
			earliest = buf[0].NormalizedUs
			found = true
		}
	}
	return earliest, found
}

// groupAround collects, per segment, the head sample falling within the
// alignment tolerance of the anchor timestamp.
func (fa *FrameAligner) groupAround(anchorUs int64) map[string]l1samples.Sample {
	members := make(map[string]l1samples.Sample)
	for _, seg := range fa.segments {
		buf := fa.buffers[seg]
		if len(buf) == 0 {
			continue
		}
		if head := buf[0]; head.NormalizedUs-anchorUs <= fa.tolUs {
			members[seg] = head
		}
	}
	return members
}

// emit pops the member samples and delivers one frame.
func (fa *FrameAligner) emit(members map[string]l1samples.Sample, missing []string) {
	if len(members) == 0 {
		// Nothing within tolerance of a timed-out head should be impossible
		// (the anchor is itself a head); guard against looping regardless.
		return
	}

	ts := make([]int64, 0, len(members))
	for seg, s := range members {
		fa.buffers[seg] = fa.buffers[seg][1:]
		ts = append(ts, s.NormalizedUs)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })

	frame := &Frame{
		Index:       fa.frameCounter,
		TimestampUs: ts[len(ts)/2],
		Samples:     members,
		Missing:     missing,
	}
	fa.frameCounter++
	if len(missing) > 0 {
		fa.partials++
		debugf("[FrameAligner] partial frame %d: missing %v", frame.Index, missing)
	}

	if fa.frameCallback != nil {
		fa.frameCallback(frame)
	}
}

// Flush force-emits everything still buffered, in timestamp order, allowing
// partial frames. Call at end of a replay or on session shutdown.
func (fa *FrameAligner) Flush() {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.flushLocked()
}

// FlushAged force-emits buffered samples once no sample has arrived for a
// full buffer window of wall time. The arrival-driven timeout in emitReady
// needs new traffic to fire, so a simultaneous pause across all sensors
// would otherwise strand whatever is buffered. Call periodically in live
// mode; replay never pauses mid-stream.
func (fa *FrameAligner) FlushAged() {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.lastArrivalAt.IsZero() || fa.clock.Now().Sub(fa.lastArrivalAt) < fa.window {
		return
	}
	fa.flushLocked()
}

func (fa *FrameAligner) flushLocked() {
	for {
		earliest, ok := fa.earliestHead()
		if !ok {
			return
		}
		members := fa.groupAround(earliest)
		var missing []string
		for _, seg := range fa.segments {
			if _, ok := members[seg]; !ok {
				missing = append(missing, seg)
			}
		}
		fa.emit(members, missing)
	}
}

// Drops returns a copy of all drop events detected so far.
func (fa *FrameAligner) Drops() []DropEvent {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	out := make([]DropEvent, len(fa.drops))
	copy(out, fa.drops)
	return out
}

// Stats returns frames emitted and how many were partial.
func (fa *FrameAligner) Stats() (frames, partials int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.frameCounter, fa.partials
}
