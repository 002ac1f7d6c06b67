package l3calib

import "github.com/banshee-data/motion.report/internal/mocap/geom"

// PhaseKind identifies a calibration phase.
type PhaseKind string

const (
	PhaseMounting        PhaseKind = "mounting"
	PhaseHeading         PhaseKind = "heading"
	PhaseJointFunctional PhaseKind = "joint_functional"
)

// PhaseSpec is one entry of the externally supplied phase plan: an explicit,
// non-overlapping frame window against the session's frame sequence.
type PhaseSpec struct {
	Kind       PhaseKind `json:"kind"`
	JointID    string    `json:"joint_id,omitempty"` // required for joint_functional
	StartFrame int       `json:"start_frame"`
	EndFrame   int       `json:"end_frame"` // inclusive
}

// Joint names a proximal/distal segment pair.
type Joint struct {
	JointID         string
	ProximalSegment string
	DistalSegment   string
}

// SegmentOffset aligns one sensor's mounting frame with its anatomical
// segment frame: calibrated = Pre · raw · Post. Post carries the mounting
// (tilt) correction in the sensor's local frame; Pre carries the heading
// correction in the world frame.
type SegmentOffset struct {
	Pre  geom.Quat
	Post geom.Quat
}

// Apply maps a raw sensor orientation to the calibrated segment orientation.
func (o SegmentOffset) Apply(raw geom.Quat) geom.Quat {
	return o.Pre.Mul(raw).Mul(o.Post)
}

// IdentityOffset returns the no-op segment offset.
func IdentityOffset() SegmentOffset {
	return SegmentOffset{Pre: geom.QuatIdentity(), Post: geom.QuatIdentity()}
}

// FunctionalAxis is a joint's estimated rotation axis, unit length, in the
// proximal segment's calibrated frame, with the residual-fit quality score
// (dominant eigenvalue share, 1.0 = perfectly planar rotation).
type FunctionalAxis struct {
	Axis    geom.Vec3
	Quality float64
}

// JointCalibration is the per-joint product of the functional phase: the
// estimated axis plus the frame rotation that maps it onto the anatomical
// flexion axis for decomposition.
type JointCalibration struct {
	Axis FunctionalAxis

	// Align rotates the proximal decomposition frame so the functional axis
	// becomes the X (flexion) axis.
	Align geom.Quat
}

// Result is the full calibration output for a session. Written once per
// calibration attempt; recalibration replaces it wholesale.
type Result struct {
	// Offsets maps segment ID to its composed calibration offset.
	Offsets map[string]SegmentOffset

	// Joints maps joint ID to its functional calibration. Joints skipped
	// for missing segments or failed phases are absent.
	Joints map[string]JointCalibration

	// Skipped maps joint ID to the error that excluded it.
	Skipped map[string]error
}
