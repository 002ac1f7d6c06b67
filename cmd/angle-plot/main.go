// Command angle-plot renders per-joint angle traces from a JSONL export
// (produced by the replay command) into PNG plots.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l4angles"
	"github.com/banshee-data/motion.report/internal/mocap/monitor"
)

// jointRecord mirrors the JSONL export schema.
type jointRecord struct {
	FlexionDeg    *float64 `json:"flexionDeg"`
	AbductionDeg  *float64 `json:"abductionDeg"`
	RotationDeg   *float64 `json:"rotationDeg"`
	OutOfRange    bool     `json:"outOfRange"`
	Discontinuity bool     `json:"discontinuity"`
	Unavailable   bool     `json:"unavailable"`
	Reason        string   `json:"reason"`
}

type frameRecord struct {
	FrameIndex  int                    `json:"frameIndex"`
	TimestampUs int64                  `json:"timestampUs"`
	Joints      map[string]jointRecord `json:"joints"`
}

func toResult(jr jointRecord) l4angles.Result {
	res := l4angles.Result{
		OutOfRange:    jr.OutOfRange,
		Discontinuity: jr.Discontinuity,
		Unavailable:   jr.Unavailable,
		Reason:        jr.Reason,
	}
	if jr.FlexionDeg != nil {
		res.FlexionDeg = *jr.FlexionDeg
	}
	if jr.AbductionDeg != nil {
		res.AbductionDeg = *jr.AbductionDeg
	}
	if jr.RotationDeg != nil {
		res.RotationDeg = *jr.RotationDeg
	}
	return res
}

func main() {
	inputPath := flag.String("input", "", "Path to JSONL angle export (required)")
	outDir := flag.String("out", "plots", "Base directory for generated plots")
	jointFilter := flag.String("joints", "", "Comma-separated joint IDs to plot (default all)")
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: angle-plot -input angles.jsonl [-out plots] [-joints knee_r,hip_r]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	wanted := map[string]bool{}
	for _, id := range strings.Split(*jointFilter, ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}

	f, err := os.Open(*inputPath)
	if err != nil {
		log.Fatalf("open input: %v", err)
	}
	defer f.Close()

	plotter := monitor.NewAnglePlotter()
	if err := plotter.Start(monitor.MakePlotOutputDir(*outDir, *inputPath)); err != nil {
		log.Fatalf("start plotter: %v", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec frameRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Fatalf("line %d: %v", lineNo, err)
		}
		angles := make(map[string]l4angles.Result, len(rec.Joints))
		for id, jr := range rec.Joints {
			if len(wanted) > 0 && !wanted[id] {
				continue
			}
			angles[id] = toResult(jr)
		}
		frame := &l2frames.Frame{Index: rec.FrameIndex, TimestampUs: rec.TimestampUs}
		plotter.Record(frame, angles)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read input: %v", err)
	}

	n, err := plotter.GeneratePlots()
	if err != nil {
		log.Fatalf("generate plots: %v", err)
	}
	log.Printf("plotted %d joint(s) from %d frame(s) to %s", n, lineNo, plotter.OutputDir())
}
