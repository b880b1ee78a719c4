// Package config loads the pipeline's tuning values and the ground-plane
// calibration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/velocam/speedcam/pkg/geom"
	"github.com/velocam/speedcam/pkg/homography"
	"github.com/velocam/speedcam/pkg/units"
)

type Config struct {
	// Calibration: four pixel-space corners of a quadrilateral marked on
	// the road, and the same four corners in meters. Same order, same
	// winding.
	ImagePoints [][2]float32 `json:"imagePoints"`
	WorldPoints [][2]float64 `json:"worldPoints"`

	ConfidenceThreshold  float32    `json:"confidenceThreshold"`  // Minimum detector confidence
	MaxTrackingDistance  float32    `json:"maxTrackingDistance"`  // Pixels
	MaxDisappearedFrames int        `json:"maxDisappearedFrames"` // Frames a track survives unmatched
	SmoothingWindow      int        `json:"smoothingWindow"`      // Speed samples in the smoothing window
	MaxSpeedKPH          float64    `json:"maxSpeedKPH"`          // Implausible-speed ceiling
	OutlierSigma         float64    `json:"outlierSigma"`         // Stddev multiple for outlier rejection
	TrajectoryCap        int        `json:"trajectoryCap"`        // Stored trajectory points per track
	FallbackFPS          float64    `json:"fallbackFPS"`          // Used when the video container reports no frame rate
	DisplayUnit          units.Unit `json:"displayUnit"`          // Unit for reported speeds
}

// DefaultConfig is the reference deployment: a 1080p camera looking down a
// straight road section 32m wide and 140m long.
func DefaultConfig() *Config {
	return &Config{
		ImagePoints: [][2]float32{
			{800, 410},
			{1125, 410},
			{1920, 850},
			{0, 850},
		},
		WorldPoints: [][2]float64{
			{0, 0},
			{32, 0},
			{32, 140},
			{0, 140},
		},
		ConfidenceThreshold:  0.5,
		MaxTrackingDistance:  100,
		MaxDisappearedFrames: 30,
		SmoothingWindow:      5,
		MaxSpeedKPH:          200,
		OutlierSigma:         3,
		TrajectoryCap:        30,
		FallbackFPS:          25,
		DisplayUnit:          units.KPH,
	}
}

func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = "speedcam.json"
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.ImagePoints) != 4 || len(c.WorldPoints) != 4 {
		return fmt.Errorf("calibration needs exactly 4 image points and 4 world points (got %v and %v)", len(c.ImagePoints), len(c.WorldPoints))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidenceThreshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.MaxTrackingDistance <= 0 {
		return fmt.Errorf("maxTrackingDistance must be positive")
	}
	if c.MaxDisappearedFrames < 0 {
		return fmt.Errorf("maxDisappearedFrames must not be negative")
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothingWindow must be at least 1")
	}
	if c.MaxSpeedKPH <= 0 {
		return fmt.Errorf("maxSpeedKPH must be positive")
	}
	if c.OutlierSigma <= 0 {
		return fmt.Errorf("outlierSigma must be positive")
	}
	if c.TrajectoryCap < 2 {
		return fmt.Errorf("trajectoryCap must be at least 2")
	}
	if c.FallbackFPS <= 0 {
		return fmt.Errorf("fallbackFPS must be positive")
	}
	if !units.IsValid(c.DisplayUnit) {
		return fmt.Errorf("displayUnit %q is not one of mps, kph, mph", c.DisplayUnit)
	}
	return nil
}

// Calibration returns the four point correspondences in the form the
// homography mapper wants.
func (c *Config) Calibration() ([4]geom.Point, [4]homography.WorldPoint, error) {
	var image [4]geom.Point
	var world [4]homography.WorldPoint
	if err := c.Validate(); err != nil {
		return image, world, err
	}
	for i := 0; i < 4; i++ {
		image[i] = geom.Point{X: c.ImagePoints[i][0], Y: c.ImagePoints[i][1]}
		world[i] = homography.WorldPoint{X: c.WorldPoints[i][0], Y: c.WorldPoints[i][1]}
	}
	return image, world, nil
}

// MaxSpeedMPS is the implausible-speed ceiling in the pipeline's internal
// unit.
func (c *Config) MaxSpeedMPS() float64 {
	return units.ToMPS(c.MaxSpeedKPH, units.KPH)
}
