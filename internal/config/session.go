// Package config defines the externally supplied session configuration for
// the capture pipeline: joint topology, ROM bounds, calibration thresholds,
// and timing parameters. All values are optional in the JSON document;
// accessors supply the defaults so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JointType selects the anatomical decomposition order for a joint.
type JointType string

const (
	// JointHinge is a hinge-dominant joint (knee, elbow, ankle).
	JointHinge JointType = "hinge"
	// JointBall is a three-degree-of-freedom joint (hip, shoulder).
	JointBall JointType = "ball"
)

// ROMBounds holds per-component physiological range limits in degrees.
// Angles outside the bounds are flagged, never clamped.
type ROMBounds struct {
	FlexionMinDeg   float64 `json:"flexion_min_deg"`
	FlexionMaxDeg   float64 `json:"flexion_max_deg"`
	AbductionMinDeg float64 `json:"abduction_min_deg"`
	AbductionMaxDeg float64 `json:"abduction_max_deg"`
	RotationMinDeg  float64 `json:"rotation_min_deg"`
	RotationMaxDeg  float64 `json:"rotation_max_deg"`
}

// JointConfig enumerates one joint pair and its bounds.
type JointConfig struct {
	JointID         string     `json:"joint_id"`
	ProximalSegment string     `json:"proximal_segment"`
	DistalSegment   string     `json:"distal_segment"`
	Type            JointType  `json:"type"`
	ROM             *ROMBounds `json:"rom,omitempty"`

	// MaxDeltaDegPerFrame bounds frame-to-frame angle change for the
	// smoothness check; zero disables the check for this joint.
	MaxDeltaDegPerFrame *float64 `json:"max_delta_deg_per_frame,omitempty"`
}

// SessionConfig is the root configuration document for one capture session.
// Pointer fields are optional in JSON; the Get* methods provide fallback
// defaults for any fields not specified.
type SessionConfig struct {
	// Alignment params
	SampleHz           *float64 `json:"sample_hz,omitempty"`
	AlignmentTolerance *string  `json:"alignment_tolerance,omitempty"` // duration string like "2ms"
	BufferWindow       *string  `json:"buffer_window,omitempty"`       // duration string like "40ms"

	// Clock params
	ResyncInterval *string  `json:"resync_interval,omitempty"` // duration string like "60s"
	MaxDriftMicros *float64 `json:"max_drift_micros,omitempty"`

	// Calibration gating params (rad/s)
	StillnessThreshold *float64 `json:"stillness_threshold,omitempty"`
	MotionThreshold    *float64 `json:"motion_threshold,omitempty"`
	AxisQualityFloor   *float64 `json:"axis_quality_floor,omitempty"`

	// Joint topology
	Joints []JointConfig `json:"joints,omitempty"`
}

// EmptySessionConfig returns a SessionConfig with all fields unset; every
// accessor falls through to its default.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// Load reads a SessionConfig from a JSON file. The path must carry a .json
// extension and stay under the size cap.
func Load(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SessionConfig) Validate() error {
	if c.SampleHz != nil && *c.SampleHz <= 0 {
		return fmt.Errorf("sample_hz must be positive, got %f", *c.SampleHz)
	}

	if c.AlignmentTolerance != nil && *c.AlignmentTolerance != "" {
		if _, err := time.ParseDuration(*c.AlignmentTolerance); err != nil {
			return fmt.Errorf("invalid alignment_tolerance '%s': %w", *c.AlignmentTolerance, err)
		}
	}
	if c.BufferWindow != nil && *c.BufferWindow != "" {
		if _, err := time.ParseDuration(*c.BufferWindow); err != nil {
			return fmt.Errorf("invalid buffer_window '%s': %w", *c.BufferWindow, err)
		}
	}
	if c.ResyncInterval != nil && *c.ResyncInterval != "" {
		if _, err := time.ParseDuration(*c.ResyncInterval); err != nil {
			return fmt.Errorf("invalid resync_interval '%s': %w", *c.ResyncInterval, err)
		}
	}

	if c.StillnessThreshold != nil && *c.StillnessThreshold <= 0 {
		return fmt.Errorf("stillness_threshold must be positive, got %f", *c.StillnessThreshold)
	}
	if c.MotionThreshold != nil && *c.MotionThreshold <= 0 {
		return fmt.Errorf("motion_threshold must be positive, got %f", *c.MotionThreshold)
	}
	if c.AxisQualityFloor != nil {
		if *c.AxisQualityFloor < 0 || *c.AxisQualityFloor > 1 {
			return fmt.Errorf("axis_quality_floor must be between 0 and 1, got %f", *c.AxisQualityFloor)
		}
	}

	seen := map[string]bool{}
	for i, j := range c.Joints {
		if j.JointID == "" {
			return fmt.Errorf("joint %d: joint_id must not be empty", i)
		}
		if seen[j.JointID] {
			return fmt.Errorf("duplicate joint_id %q", j.JointID)
		}
		seen[j.JointID] = true
		if j.ProximalSegment == "" || j.DistalSegment == "" {
			return fmt.Errorf("joint %q: proximal_segment and distal_segment are required", j.JointID)
		}
		if j.ProximalSegment == j.DistalSegment {
			return fmt.Errorf("joint %q: proximal and distal segments must differ", j.JointID)
		}
		switch j.Type {
		case "", JointHinge, JointBall:
		default:
			return fmt.Errorf("joint %q: unknown type %q", j.JointID, j.Type)
		}
	}

	return nil
}

// GetSampleHz returns the nominal sample rate or the default.
func (c *SessionConfig) GetSampleHz() float64 {
	if c.SampleHz == nil {
		return 100.0 // default
	}
	return *c.SampleHz
}

// GetAlignmentTolerance parses and returns the alignment tolerance.
func (c *SessionConfig) GetAlignmentTolerance() time.Duration {
	if c.AlignmentTolerance == nil || *c.AlignmentTolerance == "" {
		return 2 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.AlignmentTolerance)
	if err != nil {
		return 2 * time.Millisecond // default on parse error
	}
	return d
}

// GetBufferWindow parses and returns the alignment buffer window.
func (c *SessionConfig) GetBufferWindow() time.Duration {
	if c.BufferWindow == nil || *c.BufferWindow == "" {
		return 40 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.BufferWindow)
	if err != nil {
		return 40 * time.Millisecond // default on parse error
	}
	return d
}

// GetResyncInterval parses and returns the clock resync interval.
func (c *SessionConfig) GetResyncInterval() time.Duration {
	if c.ResyncInterval == nil || *c.ResyncInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ResyncInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetMaxDriftMicros returns the residual drift bound in microseconds.
func (c *SessionConfig) GetMaxDriftMicros() float64 {
	if c.MaxDriftMicros == nil {
		return 100.0 // 0.1 ms
	}
	return *c.MaxDriftMicros
}

// GetStillnessThreshold returns the mounting/heading stillness gate in rad/s.
func (c *SessionConfig) GetStillnessThreshold() float64 {
	if c.StillnessThreshold == nil {
		return 1.0 // default
	}
	return *c.StillnessThreshold
}

// GetMotionThreshold returns the functional-phase motion gate in rad/s.
func (c *SessionConfig) GetMotionThreshold() float64 {
	if c.MotionThreshold == nil {
		return 1.5 // default
	}
	return *c.MotionThreshold
}

// GetAxisQualityFloor returns the minimum dominant-eigenvalue share accepted
// from the axis estimator.
func (c *SessionConfig) GetAxisQualityFloor() float64 {
	if c.AxisQualityFloor == nil {
		return 0.80 // default
	}
	return *c.AxisQualityFloor
}

// GetType returns the joint type, defaulting to hinge.
func (j *JointConfig) GetType() JointType {
	if j.Type == "" {
		return JointHinge
	}
	return j.Type
}

// GetROM returns the joint's ROM bounds or permissive defaults.
func (j *JointConfig) GetROM() ROMBounds {
	if j.ROM != nil {
		return *j.ROM
	}
	return ROMBounds{
		FlexionMinDeg: -180, FlexionMaxDeg: 180,
		AbductionMinDeg: -180, AbductionMaxDeg: 180,
		RotationMinDeg: -180, RotationMaxDeg: 180,
	}
}

// GetMaxDeltaDegPerFrame returns the smoothness bound or zero (disabled).
func (j *JointConfig) GetMaxDeltaDegPerFrame() float64 {
	if j.MaxDeltaDegPerFrame == nil {
		return 0
	}
	return *j.MaxDeltaDegPerFrame
}
