// Package pipeline wires one capture session end to end: clock normalization,
// frame alignment, calibration, and joint-angle computation. Each session
// owns its own component instances; nothing is shared across sessions.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/mocap/l1samples"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l3calib"
	"github.com/banshee-data/motion.report/internal/mocap/l4angles"
	"github.com/banshee-data/motion.report/internal/mocap/replay"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// AngleCallback receives the per-joint results for one frame, in frame order.
type AngleCallback func(frame *l2frames.Frame, angles map[string]l4angles.Result)

// Config assembles a session.
type Config struct {
	// Session carries thresholds, timing, and the joint topology.
	Session *config.SessionConfig

	// Segments is the bound sensor set, in configuration order.
	Segments []string

	// Clock drives the live resync ticker. Defaults to RealClock; tests
	// install a MockClock.
	Clock timeutil.Clock

	// AngleCallback receives computed angles once calibration is complete.
	// Optional.
	AngleCallback AngleCallback

	// ResyncRequest is invoked per segment when the live resync interval
	// elapses or residual drift exceeds the bound. The caller performs the
	// two-way exchange and feeds the measured offset back through Resync.
	// Optional; replay sessions don't use it.
	ResyncRequest func(segmentID string)
}

// Session is one capture pipeline, live or replayed. Drive it from a single
// goroutine; independent sessions may run in parallel.
type Session struct {
	ID string

	cfg   Config
	scfg  *config.SessionConfig
	clock timeutil.Clock

	clockModel *l1samples.ClockModel
	aligner    *l2frames.FrameAligner
	calib      *l3calib.StateMachine
	engine     *l4angles.Engine

	// frames collected for replay-mode calibration; nil in live mode.
	collected []*l2frames.Frame

	resyncs int
	angles  int
}

// NewSession builds a session around the given configuration.
func NewSession(cfg Config) (*Session, error) {
	if len(cfg.Segments) == 0 {
		return nil, fmt.Errorf("session needs at least one bound segment")
	}
	scfg := cfg.Session
	if scfg == nil {
		scfg = config.EmptySessionConfig()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = timeutil.RealClock{}
	}

	joints := make([]l3calib.Joint, 0, len(scfg.Joints))
	for _, j := range scfg.Joints {
		joints = append(joints, l3calib.Joint{
			JointID:         j.JointID,
			ProximalSegment: j.ProximalSegment,
			DistalSegment:   j.DistalSegment,
		})
	}

	s := &Session{
		ID:         uuid.New().String(),
		cfg:        cfg,
		scfg:       scfg,
		clock:      clk,
		clockModel: l1samples.NewClockModel(scfg.GetMaxDriftMicros()),
		calib: l3calib.NewStateMachine(l3calib.Config{
			Segments:               cfg.Segments,
			Joints:                 joints,
			StillnessThresholdRadS: scfg.GetStillnessThreshold(),
			MotionThresholdRadS:    scfg.GetMotionThreshold(),
			AxisQualityFloor:       scfg.GetAxisQualityFloor(),
			SampleHz:               scfg.GetSampleHz(),
		}),
		engine: l4angles.NewEngine(scfg.Joints),
	}
	s.aligner = l2frames.NewFrameAligner(l2frames.FrameAlignerConfig{
		Segments:      cfg.Segments,
		SampleHz:      scfg.GetSampleHz(),
		Tolerance:     scfg.GetAlignmentTolerance(),
		Window:        scfg.GetBufferWindow(),
		FrameCallback: s.onFrame,
		Clock:         clk,
	})
	return s, nil
}

// Calibration exposes the session's state machine so a live operator can
// open and close phases.
func (s *Session) Calibration() *l3calib.StateMachine { return s.calib }

// Engine exposes the angle engine, chiefly for installing a persisted
// calibration loaded from a previous session.
func (s *Session) Engine() *l4angles.Engine { return s.engine }

// Ingest normalizes one raw sample's timestamp and feeds it to the aligner.
// Frames that complete are delivered synchronously before Ingest returns.
func (s *Session) Ingest(sample l1samples.Sample) {
	sample.NormalizedUs = s.clockModel.Ingest(sample.SegmentID, sample.DeviceTimestampUs)
	s.aligner.Add(sample)
}

// Resync applies an externally measured reference offset for one sensor. The
// drift bound violation is logged and a fresh resync requested; the pipeline
// keeps running on the corrected model.
func (s *Session) Resync(segmentID string, measuredOffsetUs float64, deviceUs int64) {
	s.resyncs++
	if _, err := s.clockModel.Resync(segmentID, measuredOffsetUs, deviceUs); err != nil {
		var drift *l1samples.ClockDriftExceeded
		if errors.As(err, &drift) {
			monitoring.Logf("[session %s] %v", s.ID, err)
			if s.cfg.ResyncRequest != nil {
				s.cfg.ResyncRequest(segmentID)
			}
		}
	}
}

// onFrame handles each aligned frame: calibration capture while a phase is
// open, angle computation once calibration is installed.
func (s *Session) onFrame(f *l2frames.Frame) {
	if s.collected != nil {
		s.collected = append(s.collected, f)
		return
	}
	if s.calib.PhaseOpen() {
		s.calib.Observe(f)
		return
	}
	if s.calib.State() == l3calib.StateComplete && !s.engine.Calibrated() {
		if res, err := s.calib.Result(); err == nil {
			s.engine.SetCalibration(res)
		}
	}
	s.emitAngles(f)
}

func (s *Session) emitAngles(f *l2frames.Frame) {
	if s.cfg.AngleCallback == nil {
		return
	}
	s.angles++
	s.cfg.AngleCallback(f, s.engine.ComputeFrame(f))
}

// RunLive consumes samples until the channel closes or ctx is cancelled.
// Cancellation takes effect at a sample boundary, after any frames completed
// by the current sample have been fully delivered. A resync ticker fires
// ResyncRequest per segment at the configured interval, and an aging ticker
// flushes buffered samples through the aligner when all sensors go silent,
// so the suspension stays bounded by the alignment window.
func (s *Session) RunLive(ctx context.Context, in <-chan l1samples.Sample) error {
	ticker := s.clock.NewTicker(s.scfg.GetResyncInterval())
	defer ticker.Stop()
	ageTicker := s.clock.NewTicker(s.scfg.GetBufferWindow())
	defer ageTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.aligner.Flush()
			return ctx.Err()
		case <-ticker.C():
			if s.cfg.ResyncRequest != nil {
				for _, seg := range s.cfg.Segments {
					s.cfg.ResyncRequest(seg)
				}
			}
		case <-ageTicker.C():
			s.aligner.FlushAged()
		case sample, ok := <-in:
			if !ok {
				s.aligner.Flush()
				return nil
			}
			s.Ingest(sample)
		}
	}
}

// RunReplay drives a recorded capture through the pipeline synchronously:
// alignment over the whole capture, calibration per the phase plan, then
// angle output for every frame after the plan's last phase. Only a failed
// calibration (no valid mounting, bad plan) is an error; gating failures skip
// joints and are reported in the stats.
func (s *Session) RunReplay(r *replay.Replayer, plan []l3calib.PhaseSpec) (*Stats, error) {
	s.collected = make([]*l2frames.Frame, 0, r.BatchCount())
	for {
		batch, ok := r.NextBatch()
		if !ok {
			break
		}
		for _, sample := range batch {
			s.Ingest(sample)
		}
	}
	s.aligner.Flush()
	frames := s.collected
	s.collected = nil

	lastCalibFrame := -1
	if len(plan) > 0 {
		gateErrs := s.calib.RunPlan(frames, plan)
		for _, e := range gateErrs {
			monitoring.Logf("[session %s] calibration: %v", s.ID, e)
		}
		if s.calib.State() == l3calib.StateFailed {
			return nil, fmt.Errorf("calibration failed: %w", s.calib.Failure())
		}
		if res, err := s.calib.Result(); err == nil {
			s.engine.SetCalibration(res)
		}
		lastCalibFrame = plan[len(plan)-1].EndFrame
	}

	for _, f := range frames {
		if f.Index > lastCalibFrame {
			s.emitAngles(f)
		}
	}
	return s.Stats(), nil
}

// Stats summarizes the session so far.
func (s *Session) Stats() *Stats {
	frames, partials := s.aligner.Stats()
	st := &Stats{
		SessionID:        s.ID,
		Frames:           frames,
		PartialFrames:    partials,
		Drops:            s.aligner.Drops(),
		Resyncs:          s.resyncs,
		DriftEvents:      s.clockModel.DriftEvents(),
		AngleFrames:      s.angles,
		CalibrationState: string(s.calib.State()),
		JointQuality:     make(map[string]float64),
		SkippedJoints:    make(map[string]string),
	}
	if res, err := s.calib.Result(); err == nil {
		for id, jc := range res.Joints {
			st.JointQuality[id] = jc.Axis.Quality
		}
		for id, reason := range res.Skipped {
			st.SkippedJoints[id] = reason.Error()
		}
	}
	return st
}
