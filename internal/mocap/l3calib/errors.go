package l3calib

import "fmt"

// MissingSegmentError reports that a segment required by a phase was absent
// or disconnected during the phase window. The affected joint is skipped;
// calibration proceeds for the others.
type MissingSegmentError struct {
	SegmentID string
	JointID   string // empty for whole-body phases
	Frame     int    // first frame index where the segment was absent
}

func (e *MissingSegmentError) Error() string {
	if e.JointID != "" {
		return fmt.Sprintf("segment %s missing at frame %d; joint %s skipped", e.SegmentID, e.Frame, e.JointID)
	}
	return fmt.Sprintf("segment %s missing at frame %d", e.SegmentID, e.Frame)
}

// InsufficientStillnessError reports that a static phase window carried too
// much motion. The phase must be recaptured; it does not advance.
type InsufficientStillnessError struct {
	Phase         PhaseKind
	MeanGyroRadS  float64
	ThresholdRadS float64
}

func (e *InsufficientStillnessError) Error() string {
	return fmt.Sprintf("%s phase not still enough: mean gyro %.2f rad/s over threshold %.2f rad/s",
		e.Phase, e.MeanGyroRadS, e.ThresholdRadS)
}

// InsufficientMotionError reports that a functional phase window lacked the
// rotational excursion needed for a well-conditioned axis fit, either at the
// raw motion gate or at the estimator's quality floor. The phase must be
// recaptured; the joint's prior calibration, if any, is left untouched.
type InsufficientMotionError struct {
	JointID       string
	MeanGyroRadS  float64
	ThresholdRadS float64
	Quality       float64 // 0 when the raw motion gate failed
	QualityFloor  float64
}

func (e *InsufficientMotionError) Error() string {
	if e.Quality > 0 {
		return fmt.Sprintf("joint %s axis fit too weak: quality %.2f below floor %.2f",
			e.JointID, e.Quality, e.QualityFloor)
	}
	return fmt.Sprintf("joint %s motion too small: mean gyro %.2f rad/s under threshold %.2f rad/s",
		e.JointID, e.MeanGyroRadS, e.ThresholdRadS)
}
