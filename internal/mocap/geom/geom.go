// Package geom provides the quaternion and 3-vector math used throughout the
// capture pipeline: orientation composition, rotation-vector logs for angular
// velocity estimation, and the anatomical angle decompositions consumed by the
// orientation engine.
//
// Quaternions are unit, w-first (W, X, Y, Z), matching the on-sensor fusion
// output. Angles are radians internally; degree conversion happens at the
// anatomical decomposition boundary.
package geom

import "math"

// Vec3 is a 3-component vector (gyro rad/s, accel m/s², axes).
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// Cross returns the cross product v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Normalized returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// Quat is a unit quaternion in w-first component order.
type Quat struct {
	W, X, Y, Z float64
}

// QuatIdentity returns the identity rotation.
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// Mul returns the Hamilton product q * o (apply o first, then q).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Conj returns the conjugate of q. For unit quaternions this is the inverse.
func (q Quat) Conj() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Norm returns the quaternion magnitude.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalized returns q scaled to unit norm. A degenerate (near-zero)
// quaternion normalizes to identity rather than propagating NaNs.
func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n < 1e-12 {
		return QuatIdentity()
	}
	return Quat{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Rotate applies the rotation q to vector v.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = q * (0,v) * q⁻¹ expanded without forming intermediate quaternions.
	u := Vec3{q.X, q.Y, q.Z}
	s := q.W
	return u.Scale(2 * u.Dot(v)).
		Add(v.Scale(s*s - u.Dot(u))).
		Add(u.Cross(v).Scale(2 * s))
}

// Log returns the rotation vector (axis * angle, radians) of q.
// The result lives in the tangent space at identity; for small rotations it
// approximates the integral of angular velocity over the rotation interval.
func (q Quat) Log() Vec3 {
	qn := q
	// Take the short arc: q and -q encode the same rotation.
	if qn.W < 0 {
		qn = Quat{-qn.W, -qn.X, -qn.Y, -qn.Z}
	}
	sinHalf := math.Sqrt(qn.X*qn.X + qn.Y*qn.Y + qn.Z*qn.Z)
	if sinHalf < 1e-12 {
		return Vec3{}
	}
	w := qn.W
	if w > 1 {
		w = 1
	}
	angle := 2 * math.Atan2(sinHalf, w)
	scale := angle / sinHalf
	return Vec3{qn.X * scale, qn.Y * scale, qn.Z * scale}
}

// FromAxisAngle builds the quaternion rotating by angle radians about axis.
// The axis need not be unit length.
func FromAxisAngle(axis Vec3, angle float64) Quat {
	a := axis.Normalized()
	half := angle / 2
	s := math.Sin(half)
	return Quat{
		W: math.Cos(half),
		X: a.X * s,
		Y: a.Y * s,
		Z: a.Z * s,
	}
}

// AngleBetween returns the rotation angle in radians separating q and o.
func AngleBetween(q, o Quat) float64 {
	return q.Conj().Mul(o).Log().Norm()
}

// Yaw returns the heading component of q: the rotation about the world
// vertical (Z) axis, in radians, extracted by swing-twist decomposition so it
// stays meaningful even when the sensor is tilted.
func (q Quat) Yaw() float64 {
	// Twist about Z: project the quaternion vector part onto the Z axis.
	t := Quat{W: q.W, Z: q.Z}.Normalized()
	return 2 * math.Atan2(t.Z, t.W)
}

// YawRotation returns the pure heading rotation of angle radians.
func YawRotation(angle float64) Quat {
	return FromAxisAngle(Vec3{Z: 1}, angle)
}

// MeanQuat averages a set of orientations that are mutually close (a static
// capture window). It accumulates components after sign-aligning each sample
// with the first, then renormalizes. Not valid for widely spread rotations.
func MeanQuat(qs []Quat) Quat {
	if len(qs) == 0 {
		return QuatIdentity()
	}
	ref := qs[0]
	var sum Quat
	for _, q := range qs {
		// Sign-align: q and -q are the same rotation, but their components
		// cancel if summed with mixed signs.
		if ref.W*q.W+ref.X*q.X+ref.Y*q.Y+ref.Z*q.Z < 0 {
			q = Quat{-q.W, -q.X, -q.Y, -q.Z}
		}
		sum.W += q.W
		sum.X += q.X
		sum.Y += q.Y
		sum.Z += q.Z
	}
	return sum.Normalized()
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
