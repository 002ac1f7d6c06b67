package geom

import "math"

// EulerOrder names the intrinsic rotation sequence used to decompose a
// calibrated joint rotation into its anatomical components. The component
// meaning (flexion, abduction, rotation) is fixed; the order only determines
// composition sequence, which matters once angles leave the small-angle
// regime.
type EulerOrder string

const (
	// OrderXYZ composes flexion (X) then abduction (Y) then rotation (Z).
	// Used for hinge-dominant joints (knee, elbow, ankle).
	OrderXYZ EulerOrder = "xyz"

	// OrderZXY composes rotation (Z) then flexion (X) then abduction (Y).
	// Used for ball joints (hip, shoulder) where axial rotation leads.
	OrderZXY EulerOrder = "zxy"
)

// JointAngles holds one anatomical decomposition in radians.
type JointAngles struct {
	Flexion   float64 // about the mediolateral axis (X)
	Abduction float64 // about the anteroposterior axis (Y)
	Rotation  float64 // about the longitudinal axis (Z)
}

// rotationMatrix expands q into a 3×3 rotation matrix in row-major order.
func rotationMatrix(q Quat) [9]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Decompose extracts anatomical angles from a calibrated relative orientation
// using the given sequence. The inverse of Compose for angles away from the
// gimbal singularity (middle angle near ±90°).
func Decompose(q Quat, order EulerOrder) JointAngles {
	r := rotationMatrix(q.Normalized())
	switch order {
	case OrderZXY:
		// q = Rz(rot) · Rx(flex) · Ry(abd)
		return JointAngles{
			Flexion:   math.Asin(clamp1(r[7])),
			Abduction: math.Atan2(-r[6], r[8]),
			Rotation:  math.Atan2(-r[1], r[4]),
		}
	default: // OrderXYZ
		// q = Rx(flex) · Ry(abd) · Rz(rot)
		return JointAngles{
			Flexion:   math.Atan2(-r[5], r[8]),
			Abduction: math.Asin(clamp1(r[2])),
			Rotation:  math.Atan2(-r[1], r[0]),
		}
	}
}

// Compose builds the relative orientation encoding the given anatomical
// angles under the given sequence.
func Compose(a JointAngles, order EulerOrder) Quat {
	rx := FromAxisAngle(Vec3{X: 1}, a.Flexion)
	ry := FromAxisAngle(Vec3{Y: 1}, a.Abduction)
	rz := FromAxisAngle(Vec3{Z: 1}, a.Rotation)
	switch order {
	case OrderZXY:
		return rz.Mul(rx).Mul(ry)
	default:
		return rx.Mul(ry).Mul(rz)
	}
}
