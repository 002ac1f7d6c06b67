// Package l3calib drives the multi-phase calibration procedure: static
// mounting capture, heading refinement, and per-joint functional axis
// estimation over deliberate motion trials.
//
// Phase boundaries are explicit frame-index windows supplied by the session
// driver; the machine gates each window (stillness for static phases, motion
// and axis conditioning for functional phases) and produces write-once
// calibration products consumed by the orientation engine.
package l3calib
