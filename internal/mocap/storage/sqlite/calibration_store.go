package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/motion.report/internal/mocap/l3calib"
)

// CalibrationRecord is one persisted calibration attempt. The payload holds
// the full offset/axis set as JSON; the quality column carries the worst
// per-joint axis quality for quick filtering.
type CalibrationRecord struct {
	RecordID   string  `json:"record_id"`
	SessionID  string  `json:"session_id"`
	CaptureID  string  `json:"capture_id,omitempty"`
	MinQuality float64 `json:"min_quality"`
	CreatedAt  int64   `json:"created_at"`

	Payload calibrationPayload `json:"payload"`
}

// calibrationPayload is the serialized calibration product. Skipped joints
// keep their reason as text; errors don't survive JSON.
type calibrationPayload struct {
	Offsets map[string]l3calib.SegmentOffset    `json:"offsets"`
	Joints  map[string]l3calib.JointCalibration `json:"joints"`
	Skipped map[string]string                   `json:"skipped,omitempty"`
}

// NewCalibrationRecord wraps a calibration result for persistence.
func NewCalibrationRecord(sessionID, captureID string, res *l3calib.Result) *CalibrationRecord {
	rec := &CalibrationRecord{
		SessionID: sessionID,
		CaptureID: captureID,
		Payload: calibrationPayload{
			Offsets: res.Offsets,
			Joints:  res.Joints,
			Skipped: make(map[string]string, len(res.Skipped)),
		},
	}
	minQ := 0.0
	first := true
	for _, jc := range res.Joints {
		if first || jc.Axis.Quality < minQ {
			minQ = jc.Axis.Quality
			first = false
		}
	}
	rec.MinQuality = minQ
	for id, reason := range res.Skipped {
		rec.Payload.Skipped[id] = reason.Error()
	}
	return rec
}

// Result reconstructs the calibration product for reuse in a new session.
// Skipped reasons come back as plain errors.
func (r *CalibrationRecord) Result() *l3calib.Result {
	res := &l3calib.Result{
		Offsets: r.Payload.Offsets,
		Joints:  r.Payload.Joints,
		Skipped: make(map[string]error, len(r.Payload.Skipped)),
	}
	for id, reason := range r.Payload.Skipped {
		res.Skipped[id] = fmt.Errorf("%s", reason)
	}
	return res
}

const calibrationSchema = `
CREATE TABLE IF NOT EXISTS mocap_calibrations (
	record_id   TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	capture_id  TEXT,
	min_quality REAL NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mocap_calibrations_session
	ON mocap_calibrations(session_id, created_at);
`

// Open opens (creating if needed) a calibration database at path with the
// session pragmas applied.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open calibration db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(calibrationSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calibration schema: %w", err)
	}
	return db, nil
}

// CalibrationStore provides persistence for calibration records.
type CalibrationStore struct {
	db *sql.DB
}

// NewCalibrationStore creates a store over an opened database.
func NewCalibrationStore(db *sql.DB) *CalibrationStore {
	return &CalibrationStore{db: db}
}

// Insert persists a record. If RecordID is empty, a UUID is generated.
func (s *CalibrationStore) Insert(rec *CalibrationRecord) error {
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal calibration payload: %w", err)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO mocap_calibrations (
				record_id, session_id, capture_id, min_quality, payload, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.RecordID, rec.SessionID, nullStr(rec.CaptureID),
			rec.MinQuality, string(payload), rec.CreatedAt,
		)
		return err
	})
}

// Get returns a single record by ID.
func (s *CalibrationStore) Get(recordID string) (*CalibrationRecord, error) {
	row := s.db.QueryRow(`
		SELECT record_id, session_id, capture_id, min_quality, payload, created_at
		FROM mocap_calibrations
		WHERE record_id = ?`, recordID)
	rec, err := scanCalibration(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("calibration %s not found", recordID)
	}
	return rec, err
}

// Latest returns the most recent record for a session, or nil when the
// session has none.
func (s *CalibrationStore) Latest(sessionID string) (*CalibrationRecord, error) {
	row := s.db.QueryRow(`
		SELECT record_id, session_id, capture_id, min_quality, payload, created_at
		FROM mocap_calibrations
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, sessionID)
	rec, err := scanCalibration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListBySession returns all of a session's records, newest first.
func (s *CalibrationStore) ListBySession(sessionID string) ([]*CalibrationRecord, error) {
	rows, err := s.db.Query(`
		SELECT record_id, session_id, capture_id, min_quality, payload, created_at
		FROM mocap_calibrations
		WHERE session_id = ?
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	var recs []*CalibrationRecord
	for rows.Next() {
		rec, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Delete removes a record by ID.
func (s *CalibrationStore) Delete(recordID string) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(`DELETE FROM mocap_calibrations WHERE record_id = ?`, recordID)
		if err != nil {
			return fmt.Errorf("delete calibration: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("calibration %s not found", recordID)
		}
		return nil
	})
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCalibration(row scanner) (*CalibrationRecord, error) {
	var rec CalibrationRecord
	var captureID sql.NullString
	var payload string
	err := row.Scan(&rec.RecordID, &rec.SessionID, &captureID,
		&rec.MinQuality, &payload, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if captureID.Valid {
		rec.CaptureID = captureID.String
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal calibration payload: %w", err)
	}
	return &rec, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
