// Package export serializes per-frame joint-angle output for downstream
// analysis tooling.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l4angles"
)

// jointRecord is the serialized form of one joint's result.
type jointRecord struct {
	FlexionDeg    *float64 `json:"flexionDeg,omitempty"`
	AbductionDeg  *float64 `json:"abductionDeg,omitempty"`
	RotationDeg   *float64 `json:"rotationDeg,omitempty"`
	OutOfRange    bool     `json:"outOfRange,omitempty"`
	Discontinuity bool     `json:"discontinuity,omitempty"`
	Unavailable   bool     `json:"unavailable,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

type frameRecord struct {
	FrameIndex  int                    `json:"frameIndex"`
	TimestampUs int64                  `json:"timestampUs"`
	Joints      map[string]jointRecord `json:"joints"`
}

func toJointRecord(r l4angles.Result) jointRecord {
	if r.Unavailable {
		return jointRecord{Unavailable: true, Reason: r.Reason}
	}
	f, a, rot := r.FlexionDeg, r.AbductionDeg, r.RotationDeg
	return jointRecord{
		FlexionDeg:    &f,
		AbductionDeg:  &a,
		RotationDeg:   &rot,
		OutOfRange:    r.OutOfRange,
		Discontinuity: r.Discontinuity,
	}
}

// JSONLWriter emits one JSON object per frame, newline-delimited.
type JSONLWriter struct {
	enc *json.Encoder
}

// NewJSONLWriter wraps w; the caller owns closing the underlying writer.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// WriteFrame serializes one frame's joint results.
func (jw *JSONLWriter) WriteFrame(frame *l2frames.Frame, angles map[string]l4angles.Result) error {
	rec := frameRecord{
		FrameIndex:  frame.Index,
		TimestampUs: frame.TimestampUs,
		Joints:      make(map[string]jointRecord, len(angles)),
	}
	for id, r := range angles {
		rec.Joints[id] = toJointRecord(r)
	}
	if err := jw.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", frame.Index, err)
	}
	return nil
}

var csvHeader = []string{
	"frame_index", "timestamp_us", "joint_id",
	"flexion_deg", "abduction_deg", "rotation_deg",
	"out_of_range", "discontinuity", "unavailable", "reason",
}

// CSVWriter emits one row per joint per frame, joints sorted by id so output
// is deterministic.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter wraps w; call Flush once all frames are written.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteFrame appends one row per joint.
func (cw *CSVWriter) WriteFrame(frame *l2frames.Frame, angles map[string]l4angles.Result) error {
	if !cw.wroteHeader {
		if err := cw.w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		cw.wroteHeader = true
	}

	ids := make([]string, 0, len(angles))
	for id := range angles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := angles[id]
		row := []string{
			strconv.Itoa(frame.Index),
			strconv.FormatInt(frame.TimestampUs, 10),
			id,
		}
		if r.Unavailable {
			row = append(row, "", "", "", "", "", "true", r.Reason)
		} else {
			row = append(row,
				strconv.FormatFloat(r.FlexionDeg, 'f', 3, 64),
				strconv.FormatFloat(r.AbductionDeg, 'f', 3, 64),
				strconv.FormatFloat(r.RotationDeg, 'f', 3, 64),
				strconv.FormatBool(r.OutOfRange),
				strconv.FormatBool(r.Discontinuity),
				"false", "")
		}
		if err := cw.w.Write(row); err != nil {
			return fmt.Errorf("failed to write frame %d joint %s: %w", frame.Index, id, err)
		}
	}
	return nil
}

// Flush drains the CSV buffer and reports any deferred write error.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}
