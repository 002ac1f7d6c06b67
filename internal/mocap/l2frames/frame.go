package l2frames

import "github.com/banshee-data/motion.report/internal/mocap/l1samples"

// Frame is one synchronized snapshot across the bound sensor set.
// Invariant: every sample's normalized timestamp lies within the aligner's
// tolerance of TimestampUs.
type Frame struct {
	// Index is the frame's position in the session's emission order.
	Index int

	// TimestampUs is the canonical session-timeline timestamp.
	TimestampUs int64

	// Samples maps segment ID to the sample chosen for this frame.
	Samples map[string]l1samples.Sample

	// Missing lists bound segments that had no sample within the window.
	// Non-empty only for partial frames emitted on window timeout.
	Missing []string
}

// Has reports whether the frame carries a sample for segmentID.
func (f *Frame) Has(segmentID string) bool {
	_, ok := f.Samples[segmentID]
	return ok
}

// SpreadUs returns the spread between the earliest and latest sample
// timestamps in the frame, in microseconds.
func (f *Frame) SpreadUs() int64 {
	first := true
	var lo, hi int64
	for _, s := range f.Samples {
		if first {
			lo, hi = s.NormalizedUs, s.NormalizedUs
			first = false
			continue
		}
		if s.NormalizedUs < lo {
			lo = s.NormalizedUs
		}
		if s.NormalizedUs > hi {
			hi = s.NormalizedUs
		}
	}
	return hi - lo
}

// DropEvent records a detected inter-sample gap for one sensor. The frame
// sequence continues without fabricating data; drops are surfaced alongside
// the frame stream.
type DropEvent struct {
	SegmentID string
	// BeforeUs and AfterUs are the normalized timestamps on either side of
	// the gap; the drop is flagged at the transition into AfterUs.
	BeforeUs int64
	AfterUs  int64
	GapUs    int64
	// AfterSeq is the sequence number of the sample following the gap.
	AfterSeq uint32
}
