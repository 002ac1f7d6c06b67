package l3calib

import (
	"fmt"

	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

// State names a position in the calibration sequence.
type State string

const (
	StateIdle            State = "idle"
	StateMounting        State = "mounting"
	StateHeading         State = "heading"
	StateJointFunctional State = "joint_functional"
	StateComplete        State = "complete"
	StateFailed          State = "failed"
)

// Config parameterizes a calibration run. Thresholds come from the session
// configuration, never hardcoded by callers.
type Config struct {
	// Segments is the bound segment set, in configuration order. The first
	// entry's heading at the Heading capture becomes the session reference.
	Segments []string

	// Joints to functionally calibrate, in order.
	Joints []Joint

	// StillnessThresholdRadS gates Mounting and Heading windows.
	StillnessThresholdRadS float64

	// MotionThresholdRadS gates JointFunctional windows.
	MotionThresholdRadS float64

	// AxisQualityFloor is the minimum dominant-eigenvalue share accepted
	// from the axis estimator.
	AxisQualityFloor float64

	// SampleHz is the nominal frame rate, used for the finite-difference
	// interval in axis estimation.
	SampleHz float64
}

// StateMachine drives Idle → Mounting → Heading → JointFunctional(joint…) →
// Complete. Failed(reason) is reachable from any active state. One machine
// serves one calibration attempt; recalibration uses a fresh machine and
// replaces the previous Result wholesale.
type StateMachine struct {
	cfg   Config
	state State

	jointIdx int // current joint during the functional phases

	// Window accumulation for the active phase.
	inPhase bool
	phase   PhaseSpec
	window  []*l2frames.Frame

	// Products, written once per phase on success.
	mountingMeans map[string]geom.Quat
	offsets       map[string]SegmentOffset
	joints        map[string]JointCalibration
	skipped       map[string]error

	failure error
}

// NewStateMachine creates a calibration machine in the Idle state.
func NewStateMachine(cfg Config) *StateMachine {
	if cfg.StillnessThresholdRadS == 0 {
		cfg.StillnessThresholdRadS = 1.0
	}
	if cfg.MotionThresholdRadS == 0 {
		cfg.MotionThresholdRadS = 1.5
	}
	if cfg.AxisQualityFloor == 0 {
		cfg.AxisQualityFloor = 0.80
	}
	if cfg.SampleHz == 0 {
		cfg.SampleHz = 100
	}
	return &StateMachine{
		cfg:           cfg,
		state:         StateIdle,
		mountingMeans: make(map[string]geom.Quat),
		offsets:       make(map[string]SegmentOffset),
		joints:        make(map[string]JointCalibration),
		skipped:       make(map[string]error),
	}
}

// State returns the machine's current state.
func (sm *StateMachine) State() State { return sm.state }

// PhaseOpen reports whether a capture window is currently accepting frames.
func (sm *StateMachine) PhaseOpen() bool { return sm.inPhase }

// CurrentJoint returns the joint under functional calibration, if any.
func (sm *StateMachine) CurrentJoint() (Joint, bool) {
	if sm.state != StateJointFunctional || sm.jointIdx >= len(sm.cfg.Joints) {
		return Joint{}, false
	}
	return sm.cfg.Joints[sm.jointIdx], true
}

// StartPhase opens a capture window for the phase the machine currently
// expects. The spec's kind must match the machine state; joint_functional
// specs must name the current joint.
func (sm *StateMachine) StartPhase(spec PhaseSpec) error {
	if sm.inPhase {
		return fmt.Errorf("phase %s already open", sm.phase.Kind)
	}

	switch sm.state {
	case StateIdle:
		if spec.Kind != PhaseMounting {
			return fmt.Errorf("expected mounting phase first, got %s", spec.Kind)
		}
		sm.state = StateMounting
	case StateMounting:
		if spec.Kind != PhaseMounting {
			return fmt.Errorf("mounting phase must be recaptured, got %s", spec.Kind)
		}
	case StateHeading:
		if spec.Kind != PhaseHeading {
			return fmt.Errorf("expected heading phase, got %s", spec.Kind)
		}
	case StateJointFunctional:
		joint, _ := sm.CurrentJoint()
		if spec.Kind != PhaseJointFunctional {
			return fmt.Errorf("expected joint_functional phase for %s, got %s", joint.JointID, spec.Kind)
		}
		if spec.JointID != joint.JointID {
			return fmt.Errorf("expected joint %s, got %s", joint.JointID, spec.JointID)
		}
	case StateComplete, StateFailed:
		return fmt.Errorf("calibration already %s", sm.state)
	}

	sm.inPhase = true
	sm.phase = spec
	sm.window = sm.window[:0]
	return nil
}

// Observe appends one frame to the open phase window.
func (sm *StateMachine) Observe(frame *l2frames.Frame) error {
	if !sm.inPhase {
		return fmt.Errorf("no open phase")
	}
	sm.window = append(sm.window, frame)
	return nil
}

// CompletePhase evaluates the open window. On success the machine advances;
// a gating failure (stillness, motion, quality) leaves the machine in the
// same phase for recapture and prior products untouched. Missing segments in
// a functional window skip the joint and advance.
func (sm *StateMachine) CompletePhase() error {
	if !sm.inPhase {
		return fmt.Errorf("no open phase")
	}
	sm.inPhase = false

	switch sm.phase.Kind {
	case PhaseMounting:
		return sm.completeMounting()
	case PhaseHeading:
		return sm.completeHeading()
	case PhaseJointFunctional:
		return sm.completeJointFunctional()
	default:
		return fmt.Errorf("unknown phase kind %q", sm.phase.Kind)
	}
}

// SkipCurrentJoint abandons the current functional joint (after a failed
// recapture the operator gave up on) and advances to the next.
func (sm *StateMachine) SkipCurrentJoint(reason error) error {
	joint, ok := sm.CurrentJoint()
	if !ok {
		return fmt.Errorf("no joint to skip in state %s", sm.state)
	}
	sm.skipped[joint.JointID] = reason
	monitoring.Logf("[calib] joint %s skipped: %v", joint.JointID, reason)
	sm.advanceJoint()
	return nil
}

// Fail moves the machine to Failed from any active state.
func (sm *StateMachine) Fail(reason error) {
	if sm.state == StateComplete || sm.state == StateFailed {
		return
	}
	sm.state = StateFailed
	sm.failure = reason
	sm.inPhase = false
}

// Failure returns the reason recorded by Fail.
func (sm *StateMachine) Failure() error { return sm.failure }

// Result returns the calibration products. Valid once the machine is
// Complete; partial results (skipped joints recorded) are still usable.
func (sm *StateMachine) Result() (*Result, error) {
	if sm.state != StateComplete {
		return nil, fmt.Errorf("calibration not complete (state %s)", sm.state)
	}
	return &Result{
		Offsets: sm.offsets,
		Joints:  sm.joints,
		Skipped: sm.skipped,
	}, nil
}

func (sm *StateMachine) completeMounting() error {
	still, meanGyro := sm.checkStillness(sm.cfg.Segments)
	if !still {
		return &InsufficientStillnessError{
			Phase:         PhaseMounting,
			MeanGyroRadS:  meanGyro,
			ThresholdRadS: sm.cfg.StillnessThresholdRadS,
		}
	}

	for _, seg := range sm.cfg.Segments {
		qs, firstMissing := collectOrientations(sm.window, seg)
		if len(qs) < len(sm.window) {
			// A segment absent anywhere in a static window cannot produce a
			// trustworthy offset; record and let its joints be skipped later.
			monitoring.Logf("[calib] mounting: segment %s absent from frame %d", seg, firstMissing)
			sm.markJointsMissing(seg)
			continue
		}
		mean := geom.MeanQuat(qs)
		sm.mountingMeans[seg] = mean

		// Mounting removes the tilt component only; heading is corrected by
		// the next phase in the world frame.
		yaw := mean.Yaw()
		tilt := geom.YawRotation(-yaw).Mul(mean) // residual swing after removing twist
		sm.offsets[seg] = SegmentOffset{
			Pre:  geom.QuatIdentity(),
			Post: tilt.Conj(),
		}
	}

	sm.state = StateHeading
	return nil
}

func (sm *StateMachine) completeHeading() error {
	still, meanGyro := sm.checkStillness(sm.cfg.Segments)
	if !still {
		return &InsufficientStillnessError{
			Phase:         PhaseHeading,
			MeanGyroRadS:  meanGyro,
			ThresholdRadS: sm.cfg.StillnessThresholdRadS,
		}
	}

	// Reference heading: first configured segment with a mounting offset.
	refYaw := 0.0
	haveRef := false
	for _, seg := range sm.cfg.Segments {
		off, ok := sm.offsets[seg]
		if !ok {
			continue
		}
		qs, _ := collectOrientations(sm.window, seg)
		if len(qs) == 0 {
			continue
		}
		yaw := off.Apply(geom.MeanQuat(qs)).Yaw()
		if !haveRef {
			refYaw = yaw
			haveRef = true
		}
		off.Pre = geom.YawRotation(refYaw - yaw).Mul(off.Pre)
		sm.offsets[seg] = off
	}
	if !haveRef {
		err := fmt.Errorf("heading phase saw no calibratable segment")
		sm.Fail(err)
		return err
	}

	if len(sm.cfg.Joints) == 0 {
		sm.state = StateComplete
	} else {
		sm.state = StateJointFunctional
		sm.jointIdx = 0
	}
	return nil
}

func (sm *StateMachine) completeJointFunctional() error {
	joint, _ := sm.CurrentJoint()
	segs := []string{joint.ProximalSegment, joint.DistalSegment}

	// Both segments must be present (and calibrated) in every frame.
	for _, seg := range segs {
		if _, ok := sm.offsets[seg]; !ok {
			err := &MissingSegmentError{SegmentID: seg, JointID: joint.JointID}
			sm.skipped[joint.JointID] = err
			sm.advanceJoint()
			return err
		}
		if _, missingAt, ok := windowHasSegment(sm.window, seg); !ok {
			err := &MissingSegmentError{SegmentID: seg, JointID: joint.JointID, Frame: missingAt}
			sm.skipped[joint.JointID] = err
			sm.advanceJoint()
			return err
		}
	}

	meanGyro := meanGyroMagnitude(sm.window, segs)
	if meanGyro < sm.cfg.MotionThresholdRadS {
		return &InsufficientMotionError{
			JointID:       joint.JointID,
			MeanGyroRadS:  meanGyro,
			ThresholdRadS: sm.cfg.MotionThresholdRadS,
		}
	}

	prox := sm.offsets[joint.ProximalSegment]
	dist := sm.offsets[joint.DistalSegment]
	rel := make([]geom.Quat, 0, len(sm.window))
	for _, f := range sm.window {
		qp := prox.Apply(f.Samples[joint.ProximalSegment].Orientation)
		qd := dist.Apply(f.Samples[joint.DistalSegment].Orientation)
		rel = append(rel, qp.Conj().Mul(qd))
	}

	axis, quality, ok := EstimateAxis(rel, 1/sm.cfg.SampleHz)
	if !ok || quality < sm.cfg.AxisQualityFloor {
		return &InsufficientMotionError{
			JointID:      joint.JointID,
			MeanGyroRadS: meanGyro,
			Quality:      quality,
			QualityFloor: sm.cfg.AxisQualityFloor,
		}
	}

	sm.joints[joint.JointID] = JointCalibration{
		Axis:  FunctionalAxis{Axis: axis, Quality: quality},
		Align: axisToFlexionAlign(axis),
	}
	monitoring.Logf("[calib] joint %s axis=(%.3f,%.3f,%.3f) quality=%.3f",
		joint.JointID, axis.X, axis.Y, axis.Z, quality)
	sm.advanceJoint()
	return nil
}

func (sm *StateMachine) advanceJoint() {
	sm.jointIdx++
	if sm.jointIdx >= len(sm.cfg.Joints) {
		sm.state = StateComplete
	} else {
		sm.state = StateJointFunctional
	}
}

// markJointsMissing pre-skips every joint touching an uncalibratable segment.
func (sm *StateMachine) markJointsMissing(seg string) {
	for _, j := range sm.cfg.Joints {
		if j.ProximalSegment == seg || j.DistalSegment == seg {
			sm.skipped[j.JointID] = &MissingSegmentError{SegmentID: seg, JointID: j.JointID}
		}
	}
}

func (sm *StateMachine) checkStillness(segments []string) (bool, float64) {
	meanGyro := meanGyroMagnitude(sm.window, segments)
	return meanGyro < sm.cfg.StillnessThresholdRadS, meanGyro
}

// collectOrientations gathers seg's orientation across the window and the
// index of the first frame where it was absent (-1 if never).
func collectOrientations(window []*l2frames.Frame, seg string) ([]geom.Quat, int) {
	qs := make([]geom.Quat, 0, len(window))
	firstMissing := -1
	for _, f := range window {
		s, ok := f.Samples[seg]
		if !ok {
			if firstMissing < 0 {
				firstMissing = f.Index
			}
			continue
		}
		qs = append(qs, s.Orientation)
	}
	return qs, firstMissing
}

// windowHasSegment reports whether seg appears in every frame of the window.
func windowHasSegment(window []*l2frames.Frame, seg string) (int, int, bool) {
	for _, f := range window {
		if _, ok := f.Samples[seg]; !ok {
			return 0, f.Index, false
		}
	}
	return len(window), 0, true
}

// RunPlan drives a full calibration over a recorded frame sequence using an
// explicit phase plan. Gating failures are collected and returned; phases
// that fail are not retried (a replay has no operator to recapture), and
// functional failures skip the joint so the rest of the plan proceeds.
func (sm *StateMachine) RunPlan(frames []*l2frames.Frame, plan []PhaseSpec) []error {
	var gateErrs []error
	for _, spec := range plan {
		if sm.state == StateComplete || sm.state == StateFailed {
			break
		}
		if err := sm.StartPhase(spec); err != nil {
			sm.Fail(err)
			return append(gateErrs, err)
		}
		for _, f := range frames {
			if f.Index >= spec.StartFrame && f.Index <= spec.EndFrame {
				sm.Observe(f)
			}
		}
		if err := sm.CompletePhase(); err != nil {
			gateErrs = append(gateErrs, err)
			// Static-phase gate failures cannot be recaptured in a replay:
			// without a valid mounting there is nothing downstream to do.
			switch sm.phase.Kind {
			case PhaseMounting, PhaseHeading:
				if _, ok := err.(*InsufficientStillnessError); ok {
					sm.Fail(err)
					return gateErrs
				}
				if sm.state == StateFailed {
					return gateErrs
				}
			case PhaseJointFunctional:
				if _, ok := err.(*InsufficientMotionError); ok {
					sm.SkipCurrentJoint(err)
				}
				// MissingSegmentError already advanced past the joint.
			}
		}
	}
	return gateErrs
}
