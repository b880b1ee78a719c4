// Package speed derives smoothed speed estimates from track trajectories.
//
// All speeds are meters/second; convert with pkg/units at the boundary.
package speed

import (
	"math"

	"github.com/cyclopcam/logs"
	"github.com/velocam/speedcam/pkg/gen"
	"github.com/velocam/speedcam/server/track"
	"gonum.org/v1/gonum/stat"
)

// Time deltas at or below this are duplicate timestamps; the sample is
// dropped rather than dividing by (almost) zero.
const minTimeDelta = 1e-6

// Raw samples are checked against the window stddev only once the window
// has this many samples.
const minSamplesForOutlierCheck = 3

type Config struct {
	// Number of accepted raw samples in the smoothing window
	SmoothingWindow int

	// Raw samples above this (m/s) are physically implausible for the
	// scene and get rejected outright (association glitch, detector jitter)
	MaxSpeed float64

	// Raw samples further than OutlierSigma standard deviations from the
	// current smoothed estimate are rejected
	OutlierSigma float64
}

// Estimator computes smoothed per-track speeds, and keeps aggregate
// statistics over every accepted measurement for end-of-run reporting.
type Estimator struct {
	log logs.Log
	cfg Config

	measurements []float64 // every accepted raw sample, across all tracks
}

func NewEstimator(logger logs.Log, cfg Config) *Estimator {
	cfg.SmoothingWindow = gen.Clamp(cfg.SmoothingWindow, 1, 1<<16)
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = math.Inf(1)
	}
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = math.Inf(1)
	}
	return &Estimator{
		log: logger,
		cfg: cfg,
	}
}

// Update recomputes the smoothed speed of a track after its trajectory
// gained a point. Returns the smoothed speed in m/s; ok is false while the
// track lacks enough history for any estimate.
func (e *Estimator) Update(t *track.VehicleTrack) (float64, bool) {
	points := t.Points()
	if len(points) < 2 {
		return 0, false
	}

	prev, curr := points[len(points)-2], points[len(points)-1]
	if curr.Timestamp <= t.SpeedCursor() {
		// Already consumed this point (eg the track went unmatched this
		// frame but we were asked anyway)
		return t.Speed()
	}
	t.SetSpeedCursor(curr.Timestamp)

	dt := curr.Timestamp - prev.Timestamp
	if dt <= minTimeDelta {
		// Duplicate timestamp; drop the sample silently
		return t.Speed()
	}
	raw := curr.World.Distance(prev.World) / dt

	if accepted := e.acceptSample(t, raw); !accepted {
		t.CountRejectedSample()
		return t.Speed()
	}

	t.AddSpeedSample(raw)
	e.measurements = append(e.measurements, raw)
	smoothed := weightedAverage(lastN(t.SpeedSamples(), e.cfg.SmoothingWindow))
	t.SetSmoothedSpeed(smoothed)
	return smoothed, true
}

// acceptSample applies the implausible-speed ceiling and, once the window
// has enough history, the deviation-from-smoothed outlier check.
func (e *Estimator) acceptSample(t *track.VehicleTrack, raw float64) bool {
	if raw > e.cfg.MaxSpeed {
		e.log.Debugf("Track %v: rejecting %.1f m/s (above ceiling %.1f)", t.ID, raw, e.cfg.MaxSpeed)
		return false
	}
	smoothed, ok := t.Speed()
	if !ok {
		return true
	}
	window := t.SpeedSamples()
	if len(window) < minSamplesForOutlierCheck {
		return true
	}
	sd := stat.StdDev(window, nil)
	if sd > 0 && math.Abs(raw-smoothed) > e.cfg.OutlierSigma*sd {
		e.log.Debugf("Track %v: rejecting %.1f m/s (%.1f sigma from %.1f)", t.ID, raw, math.Abs(raw-smoothed)/sd, smoothed)
		return false
	}
	return true
}

// SmoothedHistory replays the filter over the track's stored trajectory
// and returns the smoothed estimate after each accepted sample, oldest
// first. Derived from TrackPoints on demand, not separately persisted, so
// it only covers the retained trajectory window.
func (e *Estimator) SmoothedHistory(t *track.VehicleTrack) []float64 {
	points := t.Points()
	out := []float64{}
	window := []float64{}
	smoothed := math.NaN()
	for i := 1; i < len(points); i++ {
		dt := points[i].Timestamp - points[i-1].Timestamp
		if dt <= minTimeDelta {
			continue
		}
		raw := points[i].World.Distance(points[i-1].World) / dt
		if raw > e.cfg.MaxSpeed {
			continue
		}
		if !math.IsNaN(smoothed) && len(window) >= minSamplesForOutlierCheck {
			sd := stat.StdDev(window, nil)
			if sd > 0 && math.Abs(raw-smoothed) > e.cfg.OutlierSigma*sd {
				continue
			}
		}
		window = append(window, raw)
		if len(window) > e.cfg.SmoothingWindow {
			window = window[1:]
		}
		smoothed = weightedAverage(window)
		out = append(out, smoothed)
	}
	return out
}

// Stats summarizes every accepted measurement so far.
type Stats struct {
	Measurements int     `json:"measurements"`
	MeanSpeed    float64 `json:"meanSpeed"` // m/s
	MinSpeed     float64 `json:"minSpeed"`
	MaxSpeed     float64 `json:"maxSpeed"`
	StdDevSpeed  float64 `json:"stdDevSpeed"`
}

func (e *Estimator) Statistics() Stats {
	s := Stats{Measurements: len(e.measurements)}
	if len(e.measurements) == 0 {
		return s
	}
	s.MeanSpeed = stat.Mean(e.measurements, nil)
	if len(e.measurements) > 1 {
		s.StdDevSpeed = stat.StdDev(e.measurements, nil)
	}
	s.MinSpeed = e.measurements[0]
	s.MaxSpeed = e.measurements[0]
	for _, m := range e.measurements {
		s.MinSpeed = min(s.MinSpeed, m)
		s.MaxSpeed = max(s.MaxSpeed, m)
	}
	return s
}

// weightedAverage is a linearly ramped moving average: the newest sample
// carries weight n, the oldest weight 1. Noisier than a Kalman filter,
// but lag is bounded by the window length and a single sample passes
// through unchanged.
func weightedAverage(samples []float64) float64 {
	weights := make([]float64, len(samples))
	for i := range weights {
		weights[i] = float64(i + 1)
	}
	return stat.Mean(samples, weights)
}

func lastN(samples []float64, n int) []float64 {
	if len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}
