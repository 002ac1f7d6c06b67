package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/banshee-data/motion.report/internal/mocap/geom"
	"github.com/banshee-data/motion.report/internal/mocap/l3calib"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResult() *l3calib.Result {
	return &l3calib.Result{
		Offsets: map[string]l3calib.SegmentOffset{
			"thigh_r": {
				Pre:  geom.YawRotation(0.2),
				Post: geom.FromAxisAngle(geom.Vec3{X: 1}, -0.15),
			},
			"tibia_r": l3calib.IdentityOffset(),
		},
		Joints: map[string]l3calib.JointCalibration{
			"knee_r": {
				Axis:  l3calib.FunctionalAxis{Axis: geom.Vec3{Y: 1}, Quality: 0.97},
				Align: geom.FromAxisAngle(geom.Vec3{Z: -1}, 1.5707963267948966),
			},
		},
		Skipped: map[string]error{
			"hip_r": fmt.Errorf("segment pelvis missing at frame 12; joint hip_r skipped"),
		},
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	store := NewCalibrationStore(setupTestDB(t))

	rec := NewCalibrationRecord("sess-1", "cap-1", sampleResult())
	if err := store.Insert(rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if rec.RecordID == "" {
		t.Fatal("expected RecordID to be generated")
	}
	if rec.MinQuality != 0.97 {
		t.Errorf("MinQuality = %f, want 0.97", rec.MinQuality)
	}

	got, err := store.Get(rec.RecordID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != "sess-1" || got.CaptureID != "cap-1" {
		t.Errorf("ids = %s/%s", got.SessionID, got.CaptureID)
	}

	res := got.Result()
	off, ok := res.Offsets["thigh_r"]
	if !ok {
		t.Fatal("thigh_r offset missing after round trip")
	}
	want := geom.YawRotation(0.2)
	if a := geom.AngleBetween(off.Pre, want); a > 1e-12 {
		t.Errorf("thigh_r Pre off by %.2e rad", a)
	}
	jc, ok := res.Joints["knee_r"]
	if !ok {
		t.Fatal("knee_r calibration missing after round trip")
	}
	if jc.Axis.Quality != 0.97 || jc.Axis.Axis.Y != 1 {
		t.Errorf("axis = %+v", jc.Axis)
	}
	if res.Skipped["hip_r"] == nil {
		t.Error("skipped reason lost in round trip")
	}
}

func TestLatestReturnsNewest(t *testing.T) {
	store := NewCalibrationStore(setupTestDB(t))

	first := NewCalibrationRecord("sess-1", "", sampleResult())
	first.CreatedAt = 100
	second := NewCalibrationRecord("sess-1", "", sampleResult())
	second.CreatedAt = 200
	other := NewCalibrationRecord("sess-2", "", sampleResult())
	other.CreatedAt = 300

	for _, r := range []*CalibrationRecord{first, second, other} {
		if err := store.Insert(r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	latest, err := store.Latest("sess-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil || latest.RecordID != second.RecordID {
		t.Errorf("Latest = %+v, want record at t=200", latest)
	}

	none, err := store.Latest("sess-unknown")
	if err != nil {
		t.Fatalf("Latest(unknown) failed: %v", err)
	}
	if none != nil {
		t.Errorf("Latest for unknown session = %+v, want nil", none)
	}
}

func TestListBySessionOrdering(t *testing.T) {
	store := NewCalibrationStore(setupTestDB(t))
	for i := 1; i <= 3; i++ {
		rec := NewCalibrationRecord("sess-1", "", sampleResult())
		rec.CreatedAt = int64(i * 100)
		if err := store.Insert(rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	recs, err := store.ListBySession("sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].CreatedAt < recs[i].CreatedAt {
			t.Errorf("records not newest-first: %d before %d", recs[i-1].CreatedAt, recs[i].CreatedAt)
		}
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	store := NewCalibrationStore(setupTestDB(t))

	rec := NewCalibrationRecord("sess-1", "", sampleResult())
	if err := store.Insert(rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Delete(rec.RecordID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(rec.RecordID); err == nil {
		t.Error("expected error deleting a missing record")
	}
	if _, err := store.Get(rec.RecordID); err == nil {
		t.Error("expected error getting a deleted record")
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		testErr := errors.New("some other error")
		err := retryOnBusy(func() error {
			calls++
			return testErr
		})
		if err != testErr {
			t.Errorf("expected %v, got %v", testErr, err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if calls != 5 {
			t.Errorf("expected 5 calls, got %d", calls)
		}
	})
}
