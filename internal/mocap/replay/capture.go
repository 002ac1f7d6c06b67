// Package replay loads recorded capture documents and drives them back
// through the pipeline as if the sensors were live. A capture is read-only
// once loaded; the replayer over it is restartable.
package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l1samples"
)

// SampleRecord is one sensor reading in a capture document. Quaternion
// components are w-first.
type SampleRecord struct {
	SegmentID   string     `json:"segmentId"`
	Seq         uint32     `json:"seq"`
	TimestampUs int64      `json:"timestampUs"`
	Quaternion  [4]float64 `json:"quaternion"`
	Gyro        [3]float64 `json:"gyro"`
	Accel       [3]float64 `json:"accel"`
}

// FrameRecord groups the sample batch the gateway received in one reporting
// slot. Batch boundaries mirror arrival order, not alignment; the aligner
// re-derives frames from the timestamps.
type FrameRecord struct {
	Samples []SampleRecord `json:"samples"`
}

// DebugCapture is a recorded session: metadata plus the ordered raw sample
// batches. Treat as immutable after Load.
type DebugCapture struct {
	CaptureID     string        `json:"captureId"`
	CapturedAtIso string        `json:"capturedAtIso"`
	SampleHz      float64       `json:"sampleHz"`
	Segments      []string      `json:"segments"`
	Frames        []FrameRecord `json:"frames"`
}

// CapturedAt parses the capture start time.
func (c *DebugCapture) CapturedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, c.CapturedAtIso)
}

// Load reads and validates a capture document. A structurally invalid
// document (malformed JSON, no segments, no frames, bad rate) is fatal here,
// before any frame reaches the pipeline.
func Load(path string) (*DebugCapture, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS is Load over an explicit filesystem, for tests.
func LoadFS(fsys fsutil.FileSystem, path string) (*DebugCapture, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a capture document from raw bytes.
func Parse(data []byte) (*DebugCapture, error) {
	var c DebugCapture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("malformed capture document: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *DebugCapture) validate() error {
	if len(c.Segments) == 0 {
		return fmt.Errorf("capture %q lists no segments", c.CaptureID)
	}
	if len(c.Frames) == 0 {
		return fmt.Errorf("capture %q contains no frames", c.CaptureID)
	}
	if c.SampleHz <= 0 {
		return fmt.Errorf("capture %q has invalid sample rate %f", c.CaptureID, c.SampleHz)
	}
	if c.CapturedAtIso != "" {
		if _, err := c.CapturedAt(); err != nil {
			return fmt.Errorf("capture %q has invalid capturedAtIso: %w", c.CaptureID, err)
		}
	}
	return nil
}

// toSample converts a capture record to a pipeline sample. The orientation is
// renormalized; serialization truncation must not accumulate into the angle
// math.
func toSample(rec SampleRecord) l1samples.Sample {
	return l1samples.Sample{
		SegmentID:         rec.SegmentID,
		Seq:               rec.Seq,
		DeviceTimestampUs: rec.TimestampUs,
		Orientation: geom.Quat{
			W: rec.Quaternion[0],
			X: rec.Quaternion[1],
			Y: rec.Quaternion[2],
			Z: rec.Quaternion[3],
		}.Normalized(),
		Gyro:  geom.Vec3{X: rec.Gyro[0], Y: rec.Gyro[1], Z: rec.Gyro[2]},
		Accel: geom.Vec3{X: rec.Accel[0], Y: rec.Accel[1], Z: rec.Accel[2]},
	}
}

// Replayer walks a capture's sample batches in order. It never blocks and can
// be Reset to replay the same capture again with identical output.
type Replayer struct {
	capture *DebugCapture
	next    int
}

// NewReplayer creates a replayer positioned at the first batch.
func NewReplayer(c *DebugCapture) *Replayer {
	return &Replayer{capture: c}
}

// NextBatch returns the next raw sample batch, or ok=false at the end.
func (r *Replayer) NextBatch() ([]l1samples.Sample, bool) {
	if r.next >= len(r.capture.Frames) {
		return nil, false
	}
	rec := r.capture.Frames[r.next]
	r.next++
	batch := make([]l1samples.Sample, 0, len(rec.Samples))
	for _, s := range rec.Samples {
		batch = append(batch, toSample(s))
	}
	return batch, true
}

// Reset rewinds the replayer to the start of the capture.
func (r *Replayer) Reset() { r.next = 0 }

// BatchCount returns the number of raw batches in the capture.
func (r *Replayer) BatchCount() int { return len(r.capture.Frames) }
