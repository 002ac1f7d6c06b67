package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
)

// Stats is the end-of-run session summary surfaced to operators.
type Stats struct {
	SessionID        string
	Frames           int
	PartialFrames    int
	Drops            []l2frames.DropEvent
	Resyncs          int
	DriftEvents      int
	AngleFrames      int
	CalibrationState string

	// JointQuality maps calibrated joints to their axis-fit quality.
	JointQuality map[string]float64

	// SkippedJoints maps skipped joints to the reason.
	SkippedJoints map[string]string
}

// Summary renders a multi-line human-readable report.
func (st *Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s: %d frames (%d partial), %d drops, %d resyncs, %d drift events\n",
		st.SessionID, st.Frames, st.PartialFrames, len(st.Drops), st.Resyncs, st.DriftEvents)
	fmt.Fprintf(&b, "calibration: %s\n", st.CalibrationState)

	ids := make([]string, 0, len(st.JointQuality))
	for id := range st.JointQuality {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  joint %s: axis quality %.3f\n", id, st.JointQuality[id])
	}

	ids = ids[:0]
	for id := range st.SkippedJoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  joint %s: skipped (%s)\n", id, st.SkippedJoints[id])
	}
	if st.AngleFrames > 0 {
		fmt.Fprintf(&b, "angle output: %d frames\n", st.AngleFrames)
	}
	return b.String()
}
