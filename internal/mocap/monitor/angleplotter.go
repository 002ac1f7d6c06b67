// Package monitor renders diagnostic joint-angle traces from a session run.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l4angles"
)

// AnglePlotter accumulates per-joint angle time series during a run and
// renders them to PNG afterwards. Record() is called once per output frame.
type AnglePlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	// samples holds per-joint time series, keyed by joint id.
	samples map[string][]angleSample
}

// angleSample is one joint's angles at one frame.
type angleSample struct {
	FrameIdx     int
	FlexionDeg   float64
	AbductionDeg float64
	RotationDeg  float64
	OutOfRange   bool
}

// NewAnglePlotter creates an idle plotter; call Start before recording.
func NewAnglePlotter() *AnglePlotter {
	return &AnglePlotter{samples: make(map[string][]angleSample)}
}

// Start initializes the plotter for a new run, creating outputDir.
func (ap *AnglePlotter) Start(outputDir string) error {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	ap.outputDir = outputDir
	ap.enabled = true
	ap.samples = make(map[string][]angleSample)
	return nil
}

// Stop disables recording. Call GeneratePlots to produce output files.
func (ap *AnglePlotter) Stop() {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.enabled = false
}

// Record captures one frame's joint results. Unavailable joints leave a gap
// in the trace rather than a fabricated value.
func (ap *AnglePlotter) Record(frame *l2frames.Frame, angles map[string]l4angles.Result) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if !ap.enabled {
		return
	}
	for id, r := range angles {
		if r.Unavailable {
			continue
		}
		ap.samples[id] = append(ap.samples[id], angleSample{
			FrameIdx:     frame.Index,
			FlexionDeg:   r.FlexionDeg,
			AbductionDeg: r.AbductionDeg,
			RotationDeg:  r.RotationDeg,
			OutOfRange:   r.OutOfRange,
		})
	}
}

// SampleCount returns the total number of recorded joint samples.
func (ap *AnglePlotter) SampleCount() int {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	count := 0
	for _, s := range ap.samples {
		count += len(s)
	}
	return count
}

// GeneratePlots writes one PNG per joint with the three anatomical components
// over frame index. Returns the number of plots generated.
func (ap *AnglePlotter) GeneratePlots() (int, error) {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	plotCount := 0
	for id, samples := range ap.samples {
		if len(samples) == 0 {
			continue
		}
		if err := ap.generateJointPlot(id, samples); err != nil {
			return plotCount, fmt.Errorf("joint %s: %w", id, err)
		}
		plotCount++
	}
	return plotCount, nil
}

func (ap *AnglePlotter) generateJointPlot(jointID string, samples []angleSample) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Joint %s - Anatomical Angles", jointID)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Angle (deg)"

	flex := make(plotter.XYs, 0, len(samples))
	abd := make(plotter.XYs, 0, len(samples))
	rot := make(plotter.XYs, 0, len(samples))
	oor := make(plotter.XYs, 0)
	for _, s := range samples {
		x := float64(s.FrameIdx)
		flex = append(flex, plotter.XY{X: x, Y: s.FlexionDeg})
		abd = append(abd, plotter.XY{X: x, Y: s.AbductionDeg})
		rot = append(rot, plotter.XY{X: x, Y: s.RotationDeg})
		if s.OutOfRange {
			oor = append(oor, plotter.XY{X: x, Y: s.FlexionDeg})
		}
	}

	lines := []struct {
		name string
		pts  plotter.XYs
		col  color.RGBA
	}{
		{"flexion", flex, color.RGBA{R: 200, G: 60, B: 60, A: 255}},
		{"abduction", abd, color.RGBA{G: 140, B: 60, A: 255}},
		{"rotation", rot, color.RGBA{R: 60, G: 90, B: 200, A: 255}},
	}
	for _, l := range lines {
		line, err := plotter.NewLine(l.pts)
		if err != nil {
			return err
		}
		line.Color = l.col
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}

	// Out-of-range frames as scatter markers on the flexion trace.
	if len(oor) > 0 {
		sc, err := plotter.NewScatter(oor)
		if err != nil {
			return err
		}
		sc.Color = color.RGBA{R: 255, A: 255}
		p.Add(sc)
		p.Legend.Add("out of range", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	file := filepath.Join(ap.outputDir, fmt.Sprintf("joint_%s_angles.png", jointID))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save angle plot: %w", err)
	}
	return nil
}

// OutputDir returns the current output directory for plots.
func (ap *AnglePlotter) OutputDir() string {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return ap.outputDir
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path.
// For captures: plots/<capture_basename>/<timestamp>; otherwise
// plots/live_<timestamp>.
func MakePlotOutputDir(baseDir, captureFile string) string {
	ts := FormatTimestamp(time.Now())
	if captureFile != "" {
		base := filepath.Base(captureFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}
