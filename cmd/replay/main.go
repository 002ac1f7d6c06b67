// Command replay runs a recorded capture through the full pipeline:
// clock normalization, frame alignment, calibration per a phase plan, and
// joint-angle output. Angles can be exported as JSONL or CSV, plotted as
// PNGs, and the calibration result persisted to a sqlite database for reuse.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/mocap/export"
	"github.com/banshee-data/motion.report/internal/mocap/l2frames"
	"github.com/banshee-data/motion.report/internal/mocap/l3calib"
	"github.com/banshee-data/motion.report/internal/mocap/l4angles"
	"github.com/banshee-data/motion.report/internal/mocap/monitor"
	"github.com/banshee-data/motion.report/internal/mocap/pipeline"
	"github.com/banshee-data/motion.report/internal/mocap/replay"
	"github.com/banshee-data/motion.report/internal/mocap/storage/sqlite"
	"github.com/banshee-data/motion.report/internal/version"
)

func loadPlan(path string) ([]l3calib.PhaseSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase plan: %w", err)
	}
	var plan []l3calib.PhaseSpec
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse phase plan %s: %w", path, err)
	}
	return plan, nil
}

func main() {
	capturePath := flag.String("capture", "", "Path to capture JSON file (required)")
	configPath := flag.String("config", "", "Path to session config JSON file")
	planPath := flag.String("plan", "", "Path to calibration phase plan JSON file")
	jsonlPath := flag.String("jsonl", "", "Write joint angles as JSONL to this file")
	csvPath := flag.String("csv", "", "Write joint angles as CSV to this file")
	dbPath := flag.String("db", "", "Persist the calibration result to this sqlite database")
	sessionID := flag.String("session", "", "Session ID for persisted calibrations (defaults to the pipeline session ID)")
	plotDir := flag.String("plot-dir", "", "Generate per-joint angle plots under this directory")
	verbose := flag.Bool("v", false, "Verbose output")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("replay %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *capturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -capture capture.json [-config session.json] [-plan plan.json]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	capture, err := replay.Load(*capturePath)
	if err != nil {
		log.Fatalf("load capture: %v", err)
	}
	if *verbose {
		log.Printf("capture %s: %d segments, %d frames at %.0f Hz",
			capture.CaptureID, len(capture.Segments), len(capture.Frames), capture.SampleHz)
	}

	scfg := config.EmptySessionConfig()
	if *configPath != "" {
		scfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load session config: %v", err)
		}
	}
	if scfg.SampleHz == nil {
		scfg.SampleHz = &capture.SampleHz
	}

	var plan []l3calib.PhaseSpec
	if *planPath != "" {
		plan, err = loadPlan(*planPath)
		if err != nil {
			log.Fatalf("%v", err)
		}
	}

	var sinks []func(*l2frames.Frame, map[string]l4angles.Result)

	if *jsonlPath != "" {
		f, err := os.Create(*jsonlPath)
		if err != nil {
			log.Fatalf("create jsonl output: %v", err)
		}
		defer f.Close()
		jw := export.NewJSONLWriter(f)
		sinks = append(sinks, func(frame *l2frames.Frame, angles map[string]l4angles.Result) {
			if err := jw.WriteFrame(frame, angles); err != nil {
				log.Fatalf("write jsonl: %v", err)
			}
		})
	}

	var csvWriter *export.CSVWriter
	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			log.Fatalf("create csv output: %v", err)
		}
		defer f.Close()
		csvWriter = export.NewCSVWriter(f)
		sinks = append(sinks, func(frame *l2frames.Frame, angles map[string]l4angles.Result) {
			if err := csvWriter.WriteFrame(frame, angles); err != nil {
				log.Fatalf("write csv: %v", err)
			}
		})
	}

	plotter := monitor.NewAnglePlotter()
	if *plotDir != "" {
		outDir := monitor.MakePlotOutputDir(*plotDir, *capturePath)
		if err := plotter.Start(outDir); err != nil {
			log.Fatalf("start plotter: %v", err)
		}
		sinks = append(sinks, plotter.Record)
	}

	session, err := pipeline.NewSession(pipeline.Config{
		Session:  scfg,
		Segments: capture.Segments,
		AngleCallback: func(frame *l2frames.Frame, angles map[string]l4angles.Result) {
			for _, sink := range sinks {
				sink(frame, angles)
			}
		},
	})
	if err != nil {
		log.Fatalf("create session: %v", err)
	}

	stats, err := session.RunReplay(replay.NewReplayer(capture), plan)
	if err != nil {
		log.Fatalf("replay: %v", err)
	}

	if csvWriter != nil {
		if err := csvWriter.Flush(); err != nil {
			log.Fatalf("flush csv: %v", err)
		}
	}

	if *plotDir != "" {
		n, err := plotter.GeneratePlots()
		if err != nil {
			log.Fatalf("generate plots: %v", err)
		}
		log.Printf("wrote %d plot(s) to %s", n, plotter.OutputDir())
	}

	if *dbPath != "" {
		res, err := session.Calibration().Result()
		if err != nil {
			log.Printf("not persisting calibration: %v", err)
		} else {
			db, err := sqlite.Open(*dbPath)
			if err != nil {
				log.Fatalf("open calibration db: %v", err)
			}
			defer db.Close()
			sid := *sessionID
			if sid == "" {
				sid = session.ID
			}
			rec := sqlite.NewCalibrationRecord(sid, capture.CaptureID, res)
			if err := sqlite.NewCalibrationStore(db).Insert(rec); err != nil {
				log.Fatalf("persist calibration: %v", err)
			}
			log.Printf("calibration %s persisted (min quality %.3f)", rec.RecordID, rec.MinQuality)
		}
	}

	fmt.Println(stats.Summary())
}
