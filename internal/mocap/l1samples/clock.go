package l1samples

import (
	"fmt"
	"math"
	"sync"
)

// ClockState is the per-sensor linear timestamp model:
//
//	normalized = device + offset + driftRate·(device - lastResync)
//
// Mutated only by ClockModel on resync; lifetime is the session.
type ClockState struct {
	// OffsetUs is the device-to-session offset measured at the last resync.
	OffsetUs float64

	// DriftRate is the dimensionless clock rate error (seconds of drift per
	// second of device time). Single-digit ppm for healthy sensors.
	DriftRate float64

	// LastResyncUs is the device timestamp of the last resync.
	LastResyncUs int64

	// Resyncs counts resync events applied to this sensor.
	Resyncs int
}

// ClockDriftExceeded reports that the residual drift accumulated since the
// previous resync exceeded the configured bound. Non-fatal: the caller logs
// it and requests an immediate resync; the pipeline keeps running.
type ClockDriftExceeded struct {
	SegmentID  string
	ResidualUs float64
	BoundUs    float64
}

func (e *ClockDriftExceeded) Error() string {
	return fmt.Sprintf("clock drift exceeded for %s: residual %.1fµs over bound %.1fµs",
		e.SegmentID, e.ResidualUs, e.BoundUs)
}

// ClockModel normalizes device-local timestamps onto the shared session
// timeline, one linear model per sensor. Resync measurements arrive from the
// session driver (the gateway's two-way exchange); the model never performs
// the exchange itself.
type ClockModel struct {
	mu          sync.Mutex
	states      map[string]*ClockState
	maxDriftUs  float64
	driftEvents int
}

// NewClockModel creates a clock model with the given residual drift bound in
// microseconds.
func NewClockModel(maxDriftUs float64) *ClockModel {
	if maxDriftUs <= 0 {
		maxDriftUs = 100 // 0.1 ms
	}
	return &ClockModel{
		states:     make(map[string]*ClockState),
		maxDriftUs: maxDriftUs,
	}
}

// Ingest maps one device timestamp onto the session timeline. A sensor seen
// for the first time starts with an identity mapping until its first resync.
func (cm *ClockModel) Ingest(segmentID string, deviceUs int64) int64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	st, ok := cm.states[segmentID]
	if !ok {
		st = &ClockState{LastResyncUs: deviceUs}
		cm.states[segmentID] = st
	}

	elapsed := float64(deviceUs - st.LastResyncUs)
	correction := st.OffsetUs + st.DriftRate*elapsed
	return deviceUs + int64(math.Round(correction))
}

// Resync applies an externally measured device-to-session offset for one
// sensor at the given device time. The offset delta since the previous
// resync updates the drift estimate. Returns the residual (measured minus
// model-predicted offset, µs) and a *ClockDriftExceeded error when the
// residual breaks the bound; the resync is still applied in that case.
func (cm *ClockModel) Resync(segmentID string, measuredOffsetUs float64, deviceUs int64) (float64, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	st, ok := cm.states[segmentID]
	if !ok {
		st = &ClockState{}
		cm.states[segmentID] = st
	}
	if st.Resyncs == 0 {
		// First measured offset seeds the model. Ingest may have created the
		// state already; without a prior measurement there is no delta to
		// estimate drift from, so the initial offset must not be read as one.
		st.OffsetUs = measuredOffsetUs
		st.LastResyncUs = deviceUs
		st.Resyncs = 1
		return 0, nil
	}

	elapsed := float64(deviceUs - st.LastResyncUs)
	predicted := st.OffsetUs + st.DriftRate*elapsed
	residual := measuredOffsetUs - predicted

	if elapsed > 0 {
		// Drift is the full offset slope observed over the interval, not
		// just the unmodeled part: (measured - previous offset) / elapsed.
		st.DriftRate = (measuredOffsetUs - st.OffsetUs) / elapsed
	}
	st.OffsetUs = measuredOffsetUs
	st.LastResyncUs = deviceUs
	st.Resyncs++

	if math.Abs(residual) > cm.maxDriftUs {
		cm.driftEvents++
		return residual, &ClockDriftExceeded{
			SegmentID:  segmentID,
			ResidualUs: residual,
			BoundUs:    cm.maxDriftUs,
		}
	}
	return residual, nil
}

// State returns a copy of one sensor's clock state.
func (cm *ClockModel) State(segmentID string) (ClockState, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	st, ok := cm.states[segmentID]
	if !ok {
		return ClockState{}, false
	}
	return *st, true
}

// DriftEvents returns the number of bound violations seen this session.
func (cm *ClockModel) DriftEvents() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.driftEvents
}
