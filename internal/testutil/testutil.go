// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across the pipeline test suites.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/motion.report/internal/mocap/geom"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertAnglesClose fails the test unless each anatomical component of got is
// within tolDeg degrees of want.
func AssertAnglesClose(t *testing.T, got, want geom.JointAngles, tolDeg float64) {
	t.Helper()
	diff := func(a, b float64) float64 {
		return math.Abs(geom.Degrees(a - b))
	}
	if diff(got.Flexion, want.Flexion) > tolDeg ||
		diff(got.Abduction, want.Abduction) > tolDeg ||
		diff(got.Rotation, want.Rotation) > tolDeg {
		t.Fatalf("angles (%.2f, %.2f, %.2f)°, want (%.2f, %.2f, %.2f)° ±%.2f°",
			geom.Degrees(got.Flexion), geom.Degrees(got.Abduction), geom.Degrees(got.Rotation),
			geom.Degrees(want.Flexion), geom.Degrees(want.Abduction), geom.Degrees(want.Rotation), tolDeg)
	}
}

// HingeMotion returns n orientations oscillating ±amplitude radians about
// axis, the canonical synthetic input for functional calibration tests.
func HingeMotion(axis geom.Vec3, amplitude float64, n int) []geom.Quat {
	out := make([]geom.Quat, n)
	for i := range out {
		phase := float64(i) / float64(n-1)
		angle := amplitude * math.Sin(4*math.Pi*phase)
		out[i] = geom.FromAxisAngle(axis, angle)
	}
	return out
}
