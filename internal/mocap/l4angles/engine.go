// Package l4angles turns calibrated frames into anatomical joint angles.
//
// The OrientationEngine applies the per-segment calibration offsets produced
// by l3calib, forms each joint's relative orientation, and decomposes it into
// flexion, abduction, and rotation with a fixed order per joint type. ROM
// violations are flagged, never clamped.
package l4angles

import (
	"math"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l3calib"
)

// Result is one joint's output for one frame. When Unavailable is set the
// angle fields are meaningless and Reason names the cause.
type Result struct {
	JointID     string
	TimestampUs int64

	// Anatomical angles in degrees.
	FlexionDeg   float64
	AbductionDeg float64
	RotationDeg  float64

	// OutOfRange is set when any component exceeds the joint's configured
	// ROM bounds. The angle values are reported as computed.
	OutOfRange bool

	// Discontinuity is set when the flexion delta from the previous frame
	// exceeds the joint's smoothness bound, pointing at a calibration or
	// alignment defect rather than physiological motion.
	Discontinuity bool

	Unavailable bool
	Reason      string
}

// Engine computes joint angles for the configured topology. One engine serves
// one session; its calibration is set once per calibration attempt and
// replaced wholesale on recalibration.
type Engine struct {
	joints []config.JointConfig
	calib  *l3calib.Result

	// lastFlexion tracks the previous accepted flexion per joint for the
	// smoothness check.
	lastFlexion map[string]float64
}

// NewEngine creates an engine with no calibration; every joint reports
// Unavailable until SetCalibration is called.
func NewEngine(joints []config.JointConfig) *Engine {
	return &Engine{
		joints:      joints,
		lastFlexion: make(map[string]float64),
	}
}

// SetCalibration installs a completed calibration, replacing any previous
// one. The smoothness tracker resets so the first post-calibration frame is
// never flagged.
func (e *Engine) SetCalibration(res *l3calib.Result) {
	e.calib = res
	e.lastFlexion = make(map[string]float64)
}

// Calibrated reports whether a calibration has been installed.
func (e *Engine) Calibrated() bool { return e.calib != nil }

// ComputeFrame evaluates every configured joint against one frame.
func (e *Engine) ComputeFrame(frame *l2frames.Frame) map[string]Result {
	out := make(map[string]Result, len(e.joints))
	for i := range e.joints {
		out[e.joints[i].JointID] = e.ComputeJointAngle(&e.joints[i], frame)
	}
	return out
}

// ComputeJointAngle evaluates one joint against one frame. The computation
// either fully succeeds or the joint's result is Unavailable; a frame can
// never observe a partially applied offset.
func (e *Engine) ComputeJointAngle(joint *config.JointConfig, frame *l2frames.Frame) Result {
	res := Result{JointID: joint.JointID, TimestampUs: frame.TimestampUs}

	if e.calib == nil {
		return e.unavailable(res, "no completed calibration")
	}
	jc, ok := e.calib.Joints[joint.JointID]
	if !ok {
		return e.unavailable(res, "joint not calibrated")
	}
	proxOff, ok := e.calib.Offsets[joint.ProximalSegment]
	if !ok {
		return e.unavailable(res, "proximal segment "+joint.ProximalSegment+" not calibrated")
	}
	distOff, ok := e.calib.Offsets[joint.DistalSegment]
	if !ok {
		return e.unavailable(res, "distal segment "+joint.DistalSegment+" not calibrated")
	}
	proxSample, ok := frame.Samples[joint.ProximalSegment]
	if !ok {
		return e.unavailable(res, "proximal segment "+joint.ProximalSegment+" missing from frame")
	}
	distSample, ok := frame.Samples[joint.DistalSegment]
	if !ok {
		return e.unavailable(res, "distal segment "+joint.DistalSegment+" missing from frame")
	}

	qProx := proxOff.Apply(proxSample.Orientation)
	qDist := distOff.Apply(distSample.Orientation)
	rel := qProx.Conj().Mul(qDist)

	// Express the joint rotation in the functional frame so flexion happens
	// about X regardless of how the sensor axes landed on the body.
	aligned := jc.Align.Mul(rel).Mul(jc.Align.Conj())

	angles := geom.Decompose(aligned, decompositionOrder(joint.GetType()))
	res.FlexionDeg = geom.Degrees(angles.Flexion)
	res.AbductionDeg = geom.Degrees(angles.Abduction)
	res.RotationDeg = geom.Degrees(angles.Rotation)

	rom := joint.GetROM()
	res.OutOfRange = res.FlexionDeg < rom.FlexionMinDeg || res.FlexionDeg > rom.FlexionMaxDeg ||
		res.AbductionDeg < rom.AbductionMinDeg || res.AbductionDeg > rom.AbductionMaxDeg ||
		res.RotationDeg < rom.RotationMinDeg || res.RotationDeg > rom.RotationMaxDeg
	if res.OutOfRange {
		debugf("joint %s out of range: flex=%.1f abd=%.1f rot=%.1f",
			joint.JointID, res.FlexionDeg, res.AbductionDeg, res.RotationDeg)
	}

	if maxDelta := joint.GetMaxDeltaDegPerFrame(); maxDelta > 0 {
		if prev, seen := e.lastFlexion[joint.JointID]; seen {
			if delta := math.Abs(res.FlexionDeg - prev); delta > maxDelta {
				res.Discontinuity = true
				debugf("joint %s flexion jumped %.1f° in one frame (bound %.1f°)",
					joint.JointID, delta, maxDelta)
			}
		}
	}
	e.lastFlexion[joint.JointID] = res.FlexionDeg

	return res
}

// unavailable marks the result and clears the joint's smoothness tracker:
// after a gap the next accepted flexion has no meaningful previous value to
// be compared against.
func (e *Engine) unavailable(res Result, reason string) Result {
	delete(e.lastFlexion, res.JointID)
	res.Unavailable = true
	res.Reason = reason
	return res
}

// decompositionOrder maps a joint type to its fixed Euler sequence: hinges
// decompose flexion first, ball joints put the large rotations last to avoid
// gimbal trouble near neutral.
func decompositionOrder(t config.JointType) geom.EulerOrder {
	if t == config.JointBall {
		return geom.OrderZXY
	}
	return geom.OrderXYZ
}
