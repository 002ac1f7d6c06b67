package l1samples

import "github.com/banshee-data/motion.report/internal/mocap/geom"

// Type aliases re-export the shared geometry types so downstream layers can
// consume samples without importing geom directly.

// Vec3 is a 3-component vector.
type Vec3 = geom.Vec3

// Quat is a unit quaternion, w-first.
type Quat = geom.Quat

// Sample is one sensor reading bound to a body segment. Immutable once
// captured: the pipeline copies rather than mutating.
type Sample struct {
	// SegmentID labels the body segment the sensor is mounted on
	// (thigh_r, tibia_r, ...). The binding is fixed for a session.
	SegmentID string

	// Seq is the transmit-slot frame number assigned by the gateway.
	// Monotonic per sensor except across wireless reordering.
	Seq uint32

	// DeviceTimestampUs is the sensor-local capture time in microseconds.
	DeviceTimestampUs int64

	// NormalizedUs is the device timestamp mapped onto the shared session
	// timeline by the clock model. Zero until normalization.
	NormalizedUs int64

	// Orientation is the fused attitude quaternion from the on-sensor
	// filter (unit, w-first).
	Orientation Quat

	// Gyro is angular velocity in rad/s.
	Gyro Vec3

	// Accel is linear acceleration in m/s².
	Accel Vec3
}
