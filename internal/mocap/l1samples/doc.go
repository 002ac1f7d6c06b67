// Package l1samples is the ingest layer of the capture pipeline: the raw
// per-sensor sample model and the per-sensor clock normalization that maps
// device-local timestamps onto the shared session timeline.
//
// Layering follows the pipeline stages: l1samples (raw samples, clock) →
// l2frames (synchronized frames) → l3calib (calibration) → l4angles (joint
// angles).
package l1samples
