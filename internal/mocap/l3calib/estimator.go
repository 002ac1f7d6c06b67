package l3calib

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
)

// EstimateAxis fits a joint's functional rotation axis from the relative
// orientation trajectory of a motion trial (SARA-style).
//
// Each consecutive relative-orientation delta is converted to an
// instantaneous angular velocity vector (finite difference of quaternion
// logs over the frame interval). The axis is the direction minimizing the
// summed squared perpendicular distance of those vectors, the dominant
// eigenvector of their second-moment matrix. Quality is the dominant eigenvalue's
// share of the trace; 1.0 means all rotation happened about a single axis.
func EstimateAxis(rel []geom.Quat, dtSec float64) (geom.Vec3, float64, bool) {
	if len(rel) < 3 || dtSec <= 0 {
		return geom.Vec3{}, 0, false
	}

	omegas := make([]geom.Vec3, 0, len(rel)-1)
	for i := 1; i < len(rel); i++ {
		delta := rel[i-1].Conj().Mul(rel[i])
		omegas = append(omegas, delta.Log().Scale(1/dtSec))
	}

	// Second-moment matrix of the angular velocity vectors. No mean
	// subtraction: an oscillating hinge has near-zero mean ω but its
	// spread still lies along the hinge axis.
	var m [3][3]float64
	for _, w := range omegas {
		v := [3]float64{w.X, w.Y, w.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				m[r][c] += v[r] * v[c]
			}
		}
	}

	sym := mat.NewSymDense(3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return geom.Vec3{}, 0, false
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// EigenSym returns ascending eigenvalues; the dominant axis is last.
	dom := 2
	trace := vals[0] + vals[1] + vals[2]
	if trace <= 0 {
		return geom.Vec3{}, 0, false
	}

	axis := geom.Vec3{
		X: vecs.At(0, dom),
		Y: vecs.At(1, dom),
		Z: vecs.At(2, dom),
	}.Normalized()

	// Fix the eigenvector's arbitrary sign: point the axis so most ω
	// samples' dominant excursions project positively onto it.
	var proj float64
	for _, w := range omegas {
		p := w.Dot(axis)
		proj += p * p * sign(p)
	}
	if proj < 0 {
		axis = axis.Scale(-1)
	}

	quality := vals[dom] / trace
	return axis, quality, true
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// axisToFlexionAlign returns the rotation expressing joint rotations in a
// frame where the functional axis coincides with the anatomical flexion
// axis (X).
func axisToFlexionAlign(axis geom.Vec3) geom.Quat {
	x := geom.Vec3{X: 1}
	a := axis.Normalized()
	dot := a.Dot(x)
	switch {
	case dot > 1-1e-9:
		return geom.QuatIdentity()
	case dot < -1+1e-9:
		// Antiparallel: a half turn about any perpendicular axis.
		return geom.FromAxisAngle(geom.Vec3{Z: 1}, math.Pi)
	default:
		n := a.Cross(x)
		return geom.FromAxisAngle(n, math.Acos(dot))
	}
}

// meanGyroMagnitude averages |gyro| for the listed segments over a window of
// frames, skipping frames where a segment is absent.
func meanGyroMagnitude(frames []*l2frames.Frame, segments []string) float64 {
	var sum float64
	var n int
	for _, f := range frames {
		for _, seg := range segments {
			s, ok := f.Samples[seg]
			if !ok {
				continue
			}
			sum += s.Gyro.Norm()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
