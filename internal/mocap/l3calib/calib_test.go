package l3calib

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l1samples"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/testutil"
)

// stillFrames builds n frames holding each segment at a fixed orientation
// with the given gyro magnitude.
func stillFrames(start, n int, orients map[string]geom.Quat, gyroRadS float64) []*l2frames.Frame {
	frames := make([]*l2frames.Frame, 0, n)
	for i := 0; i < n; i++ {
		samples := make(map[string]l1samples.Sample, len(orients))
		for seg, q := range orients {
			samples[seg] = l1samples.Sample{
				SegmentID:    seg,
				Seq:          uint32(start + i),
				NormalizedUs: int64(start+i) * 10_000,
				Orientation:  q,
				Gyro:         geom.Vec3{X: gyroRadS},
			}
		}
		frames = append(frames, &l2frames.Frame{Index: start + i, Samples: samples})
	}
	return frames
}

// hingeFrames builds n frames where dist oscillates about axis relative to a
// stationary prox. Mount rotations are applied sensor-local on both.
func hingeFrames(start, n int, prox, dist string, mounts map[string]geom.Quat, axis geom.Vec3, amplitude, gyroRadS float64) []*l2frames.Frame {
	motion := testutil.HingeMotion(axis, amplitude, n)
	frames := make([]*l2frames.Frame, 0, n)
	for i := 0; i < n; i++ {
		samples := map[string]l1samples.Sample{
			prox: {
				SegmentID:    prox,
				Seq:          uint32(start + i),
				NormalizedUs: int64(start+i) * 10_000,
				Orientation:  mounts[prox],
				Gyro:         geom.Vec3{X: 0.1},
			},
			dist: {
				SegmentID:    dist,
				Seq:          uint32(start + i),
				NormalizedUs: int64(start+i) * 10_000,
				Orientation:  motion[i].Mul(mounts[dist]),
				Gyro:         axis.Scale(gyroRadS),
			},
		}
		frames = append(frames, &l2frames.Frame{Index: start + i, Samples: samples})
	}
	return frames
}

func TestEstimateAxisRecoversHingeAxis(t *testing.T) {
	axis := geom.Vec3{X: 1, Y: 2, Z: 2}.Normalized()
	rel := testutil.HingeMotion(axis, 0.8, 200)

	got, quality, ok := EstimateAxis(rel, 0.01)
	if !ok {
		t.Fatal("estimate failed on clean hinge data")
	}
	if quality < 0.95 {
		t.Errorf("quality = %.3f, want >= 0.95 for single-axis motion", quality)
	}
	// Eigenvector sign is arbitrary for symmetric oscillation.
	if d := math.Abs(got.Dot(axis)); d < 0.999 {
		t.Errorf("axis = %+v, want ±%+v (|dot| = %.4f)", got, axis, d)
	}
}

func TestEstimateAxisNeedsThreeSamples(t *testing.T) {
	rel := testutil.HingeMotion(geom.Vec3{Y: 1}, 0.5, 2)
	if _, _, ok := EstimateAxis(rel, 0.01); ok {
		t.Error("expected failure with fewer than three orientations")
	}
}

func TestEstimateAxisLowQualityOnTumbling(t *testing.T) {
	// Rotation wandering over two perpendicular axes has no dominant axis.
	var rel []geom.Quat
	for i := 0; i < 200; i++ {
		ph := float64(i) * 0.07
		q := geom.FromAxisAngle(geom.Vec3{X: 1}, 0.6*math.Sin(ph)).
			Mul(geom.FromAxisAngle(geom.Vec3{Y: 1}, 0.6*math.Cos(1.3*ph)))
		rel = append(rel, q)
	}
	_, quality, ok := EstimateAxis(rel, 0.01)
	if !ok {
		t.Fatal("estimate failed")
	}
	if quality > 0.9 {
		t.Errorf("quality = %.3f for tumbling motion, want well below a hinge's", quality)
	}
}

func TestPhaseOrderEnforced(t *testing.T) {
	sm := NewStateMachine(Config{Segments: []string{"pelvis"}})

	if err := sm.StartPhase(PhaseSpec{Kind: PhaseHeading}); err == nil {
		t.Error("heading before mounting should be rejected")
	}
	if err := sm.StartPhase(PhaseSpec{Kind: PhaseMounting}); err != nil {
		t.Fatalf("mounting start: %v", err)
	}
	if err := sm.StartPhase(PhaseSpec{Kind: PhaseMounting}); err == nil {
		t.Error("second StartPhase with a window open should be rejected")
	}
}

func TestMountingRequiresStillnessAndAllowsRecapture(t *testing.T) {
	orients := map[string]geom.Quat{"pelvis": geom.QuatIdentity()}
	sm := NewStateMachine(Config{Segments: []string{"pelvis"}})

	testutil.AssertNoError(t, sm.StartPhase(PhaseSpec{Kind: PhaseMounting}))
	for _, f := range stillFrames(0, 50, orients, 2.5) {
		sm.Observe(f)
	}
	err := sm.CompletePhase()
	var stillErr *InsufficientStillnessError
	if !errors.As(err, &stillErr) {
		t.Fatalf("error = %v, want InsufficientStillnessError", err)
	}
	if sm.State() != StateMounting {
		t.Fatalf("state = %s after gate failure, want mounting for recapture", sm.State())
	}

	testutil.AssertNoError(t, sm.StartPhase(PhaseSpec{Kind: PhaseMounting}))
	for _, f := range stillFrames(50, 50, orients, 0.02) {
		sm.Observe(f)
	}
	testutil.AssertNoError(t, sm.CompletePhase())
	if sm.State() != StateHeading {
		t.Fatalf("state = %s after recapture, want heading", sm.State())
	}
}

func TestMountingRemovesTiltKeepsHeadingForNextPhase(t *testing.T) {
	// Sensor strapped on with a 0.3 rad yaw and 0.15 rad forward tilt.
	mount := geom.YawRotation(0.3).Mul(geom.FromAxisAngle(geom.Vec3{X: 1}, 0.15))
	orients := map[string]geom.Quat{"thigh_l": mount}

	sm := NewStateMachine(Config{Segments: []string{"thigh_l"}})
	testutil.AssertNoError(t, sm.StartPhase(PhaseSpec{Kind: PhaseMounting}))
	for _, f := range stillFrames(0, 30, orients, 0.02) {
		sm.Observe(f)
	}
	testutil.AssertNoError(t, sm.CompletePhase())

	// After mounting the calibrated still pose must be pure yaw.
	cal := sm.offsets["thigh_l"].Apply(mount)
	want := geom.YawRotation(0.3)
	if a := geom.AngleBetween(cal, want); a > 1e-6 {
		t.Errorf("calibrated still pose off pure yaw by %.2e rad", a)
	}
}

func TestFullRunProducesJointCalibration(t *testing.T) {
	// Tilt-only mounting errors; heading correction then resolves to identity
	// so relative orientations during motion are the hinge itself.
	mounts := map[string]geom.Quat{
		"thigh_l": geom.FromAxisAngle(geom.Vec3{X: 1}, 0.15),
		"tibia_l": geom.FromAxisAngle(geom.Vec3{Y: 1}, 0.2),
	}
	axis := geom.Vec3{Y: 1}

	var frames []*l2frames.Frame
	frames = append(frames, stillFrames(0, 100, mounts, 0.02)...)
	frames = append(frames, stillFrames(100, 50, mounts, 0.02)...)
	frames = append(frames, hingeFrames(150, 200, "thigh_l", "tibia_l", mounts, axis, 0.9, 4.0)...)

	sm := NewStateMachine(Config{
		Segments: []string{"thigh_l", "tibia_l"},
		Joints:   []Joint{{JointID: "knee_l", ProximalSegment: "thigh_l", DistalSegment: "tibia_l"}},
		SampleHz: 100,
	})
	plan := []PhaseSpec{
		{Kind: PhaseMounting, StartFrame: 0, EndFrame: 99},
		{Kind: PhaseHeading, StartFrame: 100, EndFrame: 149},
		{Kind: PhaseJointFunctional, JointID: "knee_l", StartFrame: 150, EndFrame: 349},
	}
	if errs := sm.RunPlan(frames, plan); len(errs) != 0 {
		t.Fatalf("plan errors: %v", errs)
	}
	if sm.State() != StateComplete {
		t.Fatalf("state = %s, want complete", sm.State())
	}

	res, err := sm.Result()
	testutil.AssertNoError(t, err)
	jc, ok := res.Joints["knee_l"]
	if !ok {
		t.Fatalf("knee_l missing from result (skipped: %v)", res.Skipped)
	}
	if jc.Axis.Quality < 0.95 {
		t.Errorf("axis quality = %.3f, want >= 0.95", jc.Axis.Quality)
	}
	if d := math.Abs(jc.Axis.Axis.Dot(axis)); d < 0.999 {
		t.Errorf("axis = %+v, want ±%+v", jc.Axis.Axis, axis)
	}
	// Align must carry the functional axis onto X.
	mapped := jc.Align.Rotate(jc.Axis.Axis)
	if math.Abs(mapped.X) < 0.999 {
		t.Errorf("aligned axis = %+v, want ±X", mapped)
	}
}

func TestInsufficientMotionSkipsJointKeepsOffsets(t *testing.T) {
	mounts := map[string]geom.Quat{
		"thigh_l": geom.QuatIdentity(),
		"tibia_l": geom.QuatIdentity(),
	}
	var frames []*l2frames.Frame
	frames = append(frames, stillFrames(0, 50, mounts, 0.02)...)
	frames = append(frames, stillFrames(50, 30, mounts, 0.02)...)
	// The "motion" window barely moves.
	frames = append(frames, stillFrames(80, 100, mounts, 0.05)...)

	sm := NewStateMachine(Config{
		Segments: []string{"thigh_l", "tibia_l"},
		Joints:   []Joint{{JointID: "knee_l", ProximalSegment: "thigh_l", DistalSegment: "tibia_l"}},
	})
	plan := []PhaseSpec{
		{Kind: PhaseMounting, StartFrame: 0, EndFrame: 49},
		{Kind: PhaseHeading, StartFrame: 50, EndFrame: 79},
		{Kind: PhaseJointFunctional, JointID: "knee_l", StartFrame: 80, EndFrame: 179},
	}
	errs := sm.RunPlan(frames, plan)
	if len(errs) != 1 {
		t.Fatalf("plan errors = %v, want exactly the motion gate failure", errs)
	}
	var motionErr *InsufficientMotionError
	if !errors.As(errs[0], &motionErr) {
		t.Fatalf("error = %v, want InsufficientMotionError", errs[0])
	}
	if sm.State() != StateComplete {
		t.Fatalf("state = %s, want complete with the joint skipped", sm.State())
	}

	res, err := sm.Result()
	testutil.AssertNoError(t, err)
	if _, ok := res.Joints["knee_l"]; ok {
		t.Error("knee_l calibrated despite failed motion gate")
	}
	if _, ok := res.Skipped["knee_l"]; !ok {
		t.Error("knee_l not recorded as skipped")
	}
	if len(res.Offsets) != 2 {
		t.Errorf("offsets = %d segments, want 2 preserved", len(res.Offsets))
	}
}

func TestMissingSegmentSkipsJointOthersProceed(t *testing.T) {
	mounts := map[string]geom.Quat{
		"pelvis":  geom.QuatIdentity(),
		"thigh_l": geom.QuatIdentity(),
		"tibia_l": geom.QuatIdentity(),
	}
	axis := geom.Vec3{Y: 1}

	var frames []*l2frames.Frame
	frames = append(frames, stillFrames(0, 50, mounts, 0.02)...)
	frames = append(frames, stillFrames(50, 30, mounts, 0.02)...)
	// Hip window: tibia drops out entirely, but the hip only needs
	// pelvis/thigh, which move fine.
	hip := hingeFrames(80, 150, "pelvis", "thigh_l", mounts, axis, 0.8, 4.0)
	frames = append(frames, hip...)
	// Knee window: thigh present and still, tibia absent from every frame.
	for i := 0; i < 150; i++ {
		frames = append(frames, &l2frames.Frame{
			Index: 230 + i,
			Samples: map[string]l1samples.Sample{
				"thigh_l": {SegmentID: "thigh_l", Orientation: geom.QuatIdentity(), Gyro: geom.Vec3{X: 4}},
			},
			Missing: []string{"tibia_l"},
		})
	}

	sm := NewStateMachine(Config{
		Segments: []string{"pelvis", "thigh_l", "tibia_l"},
		Joints: []Joint{
			{JointID: "hip_l", ProximalSegment: "pelvis", DistalSegment: "thigh_l"},
			{JointID: "knee_l", ProximalSegment: "thigh_l", DistalSegment: "tibia_l"},
		},
	})
	plan := []PhaseSpec{
		{Kind: PhaseMounting, StartFrame: 0, EndFrame: 49},
		{Kind: PhaseHeading, StartFrame: 50, EndFrame: 79},
		{Kind: PhaseJointFunctional, JointID: "hip_l", StartFrame: 80, EndFrame: 229},
		{Kind: PhaseJointFunctional, JointID: "knee_l", StartFrame: 230, EndFrame: 379},
	}
	errs := sm.RunPlan(frames, plan)
	if len(errs) != 1 {
		t.Fatalf("plan errors = %v, want only the knee's missing segment", errs)
	}
	var missErr *MissingSegmentError
	if !errors.As(errs[0], &missErr) {
		t.Fatalf("error = %v, want MissingSegmentError", errs[0])
	}
	if missErr.SegmentID != "tibia_l" || missErr.JointID != "knee_l" {
		t.Errorf("missing = %s/%s, want tibia_l/knee_l", missErr.SegmentID, missErr.JointID)
	}

	res, err := sm.Result()
	testutil.AssertNoError(t, err)
	if _, ok := res.Joints["hip_l"]; !ok {
		t.Error("hip_l should calibrate despite the knee's dropout")
	}
	if _, ok := res.Skipped["knee_l"]; !ok {
		t.Error("knee_l not recorded as skipped")
	}
}

func TestHeadingAlignsYawToFirstSegment(t *testing.T) {
	mounts := map[string]geom.Quat{
		"pelvis":  geom.YawRotation(0.25),
		"thigh_l": geom.YawRotation(-0.4),
	}
	var frames []*l2frames.Frame
	frames = append(frames, stillFrames(0, 40, mounts, 0.02)...)
	frames = append(frames, stillFrames(40, 40, mounts, 0.02)...)

	sm := NewStateMachine(Config{Segments: []string{"pelvis", "thigh_l"}})
	plan := []PhaseSpec{
		{Kind: PhaseMounting, StartFrame: 0, EndFrame: 39},
		{Kind: PhaseHeading, StartFrame: 40, EndFrame: 79},
	}
	if errs := sm.RunPlan(frames, plan); len(errs) != 0 {
		t.Fatalf("plan errors: %v", errs)
	}

	res, err := sm.Result()
	testutil.AssertNoError(t, err)
	calP := res.Offsets["pelvis"].Apply(mounts["pelvis"])
	calT := res.Offsets["thigh_l"].Apply(mounts["thigh_l"])
	if a := geom.AngleBetween(calP, calT); a > 1e-6 {
		t.Errorf("calibrated still poses differ by %.2e rad, want aligned headings", a)
	}
}
