package l1samples

import (
	"errors"
	"math"
	"testing"
)

func TestIngestIdentityBeforeResync(t *testing.T) {
	cm := NewClockModel(100)
	if got := cm.Ingest("thigh_r", 123456); got != 123456 {
		t.Errorf("Ingest before resync = %d, want identity 123456", got)
	}
}

func TestResyncAppliesOffset(t *testing.T) {
	cm := NewClockModel(100)
	if _, err := cm.Resync("thigh_r", 500, 0); err != nil {
		t.Fatalf("first resync: %v", err)
	}
	if got := cm.Ingest("thigh_r", 1000); got != 1500 {
		t.Errorf("Ingest = %d, want 1500", got)
	}
}

// TestFirstResyncAfterIngestSeedsWithoutDrift covers the live startup order:
// samples stream before the session's first resync measurement arrives. The
// first resync must seed the offset only; reading the whole initial offset as
// drift accumulated since the first ingest would over-correct every later
// timestamp and trip the drift bound with no real drift present.
func TestFirstResyncAfterIngestSeedsWithoutDrift(t *testing.T) {
	cm := NewClockModel(100)

	// One minute of streaming with a constant 500 µs true offset and zero
	// true drift, then the first resync measures that offset.
	for at := int64(0); at < 60_000_000; at += 10_000 {
		cm.Ingest("thigh_r", at)
	}
	residual, err := cm.Resync("thigh_r", 500, 60_000_000)
	if err != nil {
		t.Fatalf("first resync: %v", err)
	}
	if residual != 0 {
		t.Errorf("first resync residual = %v, want 0", residual)
	}

	st, ok := cm.State("thigh_r")
	if !ok {
		t.Fatal("missing state")
	}
	if st.DriftRate != 0 {
		t.Errorf("DriftRate after first resync = %v, want 0", st.DriftRate)
	}
	if st.OffsetUs != 500 || st.Resyncs != 1 {
		t.Errorf("state after first resync = %+v", st)
	}

	// A minute later the correction is still exactly the measured offset.
	if got := cm.Ingest("thigh_r", 120_000_000); got != 120_000_500 {
		t.Errorf("Ingest = %d, want 120000500", got)
	}
	if cm.DriftEvents() != 0 {
		t.Errorf("DriftEvents = %d, want 0", cm.DriftEvents())
	}
}

func TestDriftEstimatedFromResyncDelta(t *testing.T) {
	cm := NewClockModel(100)
	// Offset grows 60 µs over 60 s of device time: 1 ppm drift.
	cm.Resync("tibia_r", 0, 0)
	cm.Resync("tibia_r", 60, 60_000_000)

	st, ok := cm.State("tibia_r")
	if !ok {
		t.Fatal("missing state")
	}
	if math.Abs(st.DriftRate-1e-6) > 1e-12 {
		t.Errorf("DriftRate = %v, want 1e-6", st.DriftRate)
	}

	// Mid-interval ingest extrapolates the drift: 30 s past resync adds 30 µs
	// on top of the 60 µs offset.
	got := cm.Ingest("tibia_r", 90_000_000)
	want := int64(90_000_000 + 60 + 30)
	if got != want {
		t.Errorf("Ingest = %d, want %d", got, want)
	}
}

// TestOnePPMDriftBoundedByResync checks the drift-model property: a clock
// drifting at 1 ppm accumulates ≈3.6 ms over an hour, but resyncing every
// 60 s keeps every residual under 0.1 ms.
func TestOnePPMDriftBoundedByResync(t *testing.T) {
	const (
		drift      = 1e-6
		resyncStep = int64(60_000_000) // 60 s in µs
		sessionLen = int64(3_600_000_000)
	)
	cm := NewClockModel(100)

	// Sanity: unmitigated accumulation over the hour is ≈3.6 ms.
	if total := drift * float64(sessionLen); math.Abs(total-3600) > 1 {
		t.Fatalf("expected ~3600µs accumulation, got %v", total)
	}

	var maxResidual float64
	for at := int64(0); at <= sessionLen; at += resyncStep {
		trueOffset := drift * float64(at)
		residual, err := cm.Resync("pelvis", trueOffset, at)
		if err != nil {
			t.Fatalf("resync at %d: %v", at, err)
		}
		if math.Abs(residual) > maxResidual {
			maxResidual = math.Abs(residual)
		}
	}
	if maxResidual >= 100 {
		t.Errorf("max residual %vµs, want < 100µs", maxResidual)
	}
}

func TestDriftExceededStillApplies(t *testing.T) {
	cm := NewClockModel(100)
	cm.Resync("femur_l", 0, 0)

	// A 500 µs jump in 60 s is far past the bound.
	residual, err := cm.Resync("femur_l", 500, 60_000_000)
	var driftErr *ClockDriftExceeded
	if !errors.As(err, &driftErr) {
		t.Fatalf("expected ClockDriftExceeded, got %v", err)
	}
	if driftErr.SegmentID != "femur_l" || residual != 500 {
		t.Errorf("event = %+v residual = %v", driftErr, residual)
	}
	// Resync applied despite the violation.
	st, _ := cm.State("femur_l")
	if st.OffsetUs != 500 || st.Resyncs != 2 {
		t.Errorf("state after violation = %+v", st)
	}
	if cm.DriftEvents() != 1 {
		t.Errorf("DriftEvents = %d, want 1", cm.DriftEvents())
	}
}

func TestStatesAreIndependentPerSensor(t *testing.T) {
	cm := NewClockModel(100)
	cm.Resync("a", 10, 0)
	cm.Resync("b", -10, 0)
	if got := cm.Ingest("a", 100); got != 110 {
		t.Errorf("a: got %d, want 110", got)
	}
	if got := cm.Ingest("b", 100); got != 90 {
		t.Errorf("b: got %d, want 90", got)
	}
}
