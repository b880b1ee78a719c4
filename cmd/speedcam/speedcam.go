package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/velocam/speedcam/pkg/nn"
	"github.com/velocam/speedcam/pkg/units"
	"github.com/velocam/speedcam/server/config"
	"github.com/velocam/speedcam/server/pipeline"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Replays a recorded detection log through the tracking and speed
// estimation pipeline. The log is one nn.DetectionResult JSON object per
// line, as produced by whatever detector front-end recorded the footage.
func main() {
	parser := argparse.NewParser("speedcam", "Vehicle speed estimation from recorded detections")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "speedcam.json"})
	inputFile := parser.String("i", "input", &argparse.Options{Help: "Detection log to replay (one JSON detection result per line)", Required: true})
	unitStr := parser.String("u", "units", &argparse.Options{Help: "Override display units (mps, kph, mph)", Default: ""})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log every vehicle on every frame", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Infof("No config file at %v, using built-in defaults", *configFile)
		cfg = config.DefaultConfig()
	} else {
		check(err)
	}

	if *unitStr != "" {
		u := units.Unit(*unitStr)
		if !units.IsValid(u) {
			logger.Errorf("Unknown unit %q (want mps, kph or mph)", *unitStr)
			os.Exit(1)
		}
		cfg.DisplayUnit = u
	}

	p, err := pipeline.NewPipeline(logger, nil, cfg)
	check(err)

	f, err := os.Open(*inputFile)
	check(err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame nn.DetectionResult
		if err := json.Unmarshal(line, &frame); err != nil {
			logger.Errorf("Skipping line %v: %v", lineNum, err)
			continue
		}
		analysis := p.ProcessDetections(frame.Objects, frame.Timestamp, frame.FrameIndex)
		if *verbose {
			for _, v := range analysis.Vehicles {
				if v.SpeedValid {
					logger.Infof("frame %v: %v %v at %.1f %v", analysis.Frame, v.ClassName, v.ID, v.Speed, cfg.DisplayUnit)
				} else {
					logger.Infof("frame %v: %v %v calculating...", analysis.Frame, v.ClassName, v.ID)
				}
			}
		}
	}
	check(scanner.Err())

	stats := p.Statistics()
	u := cfg.DisplayUnit
	logger.Infof("Frames processed: %v", stats.FramesProcessed)
	logger.Infof("Total vehicles: %v (%v still active)", stats.TotalVehicles, stats.ActiveTracks)
	logger.Infof("Dropped detections: %v", stats.DroppedDetections)
	logger.Infof("Speed measurements: %v", stats.Speeds.Measurements)
	if stats.Speeds.Measurements > 0 {
		logger.Infof("Average speed: %.1f +/- %.1f %v", units.FromMPS(stats.Speeds.MeanSpeed, u), units.FromMPS(stats.Speeds.StdDevSpeed, u), u)
		logger.Infof("Speed range: %.1f - %.1f %v", units.FromMPS(stats.Speeds.MinSpeed, u), units.FromMPS(stats.Speeds.MaxSpeed, u), u)
	}
}
