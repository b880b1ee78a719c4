// Package track holds the live set of vehicle tracks and the per-frame
// association of detections to tracks.
package track

import (
	"math"

	"github.com/bmharper/ringbuffer"
	"github.com/velocam/speedcam/pkg/geom"
	"github.com/velocam/speedcam/pkg/homography"
)

type Status string

const (
	StatusActive Status = "active"
	StatusLost   Status = "lost"
)

// TrackPoint is one sample in a track's trajectory. Immutable once created.
type TrackPoint struct {
	Timestamp float64               `json:"timestamp"` // Seconds
	Frame     int64                 `json:"frame"`
	Pixel     geom.Point            `json:"pixel"` // Detection centroid, pixels
	World     homography.WorldPoint `json:"world"` // Ground plane, meters
}

// VehicleTrack is the persistent identity of one vehicle across frames.
// Trajectory history is capped to a sliding window of the most recent
// points; older points fall off the back.
type VehicleTrack struct {
	ID            int64   // Unique for the life of the process, never reused
	Class         int     // Class of the first detection
	Status        Status
	LastBox       geom.Rect // Box of the most recent matched detection
	Disappeared   int       // Consecutive frames without a matching detection
	FirstSeen     float64
	LastSeen      float64
	FramesTracked int
	TotalDistance float64 // Cumulative ground-plane distance, meters

	historyCap int
	history    ringbuffer.RingP[TrackPoint]

	smoothedSpeed   float64 // m/s, NaN until the estimator has enough history
	sampleCap       int
	samples         ringbuffer.RingP[float64] // Accepted raw speed samples
	rejectedSamples int
	speedCursor     float64 // Timestamp of the last trajectory point the estimator consumed
}

func newVehicleTrack(id int64, class int, historyCap, sampleCap int) *VehicleTrack {
	return &VehicleTrack{
		ID:            id,
		Class:         class,
		Status:        StatusActive,
		historyCap:    historyCap,
		history:       ringbuffer.NewRingP[TrackPoint](nextPowerOf2(historyCap)),
		smoothedSpeed: math.NaN(),
		sampleCap:     sampleCap,
		samples:       ringbuffer.NewRingP[float64](nextPowerOf2(sampleCap)),
		speedCursor:   math.Inf(-1),
	}
}

// appendPoint adds a trajectory sample. Returns false (and changes nothing)
// if the sample would violate the strictly-increasing timestamp invariant,
// or if the track already has a point for this frame.
func (t *VehicleTrack) appendPoint(p TrackPoint) bool {
	if last, ok := t.LastPoint(); ok {
		if p.Timestamp <= last.Timestamp || p.Frame == last.Frame {
			return false
		}
		t.TotalDistance += last.World.Distance(p.World)
	} else {
		t.FirstSeen = p.Timestamp
	}
	t.history.Add(p)
	t.LastSeen = p.Timestamp
	t.FramesTracked++
	return true
}

// NumPoints is the number of trajectory points currently retained.
func (t *VehicleTrack) NumPoints() int {
	return min(t.history.Len(), t.historyCap)
}

// Points returns a copy of the retained trajectory, oldest first.
func (t *VehicleTrack) Points() []TrackPoint {
	n := t.NumPoints()
	out := make([]TrackPoint, n)
	first := t.history.Len() - n
	for i := 0; i < n; i++ {
		out[i] = t.history.Peek(first + i)
	}
	return out
}

func (t *VehicleTrack) LastPoint() (TrackPoint, bool) {
	if t.history.Len() == 0 {
		return TrackPoint{}, false
	}
	return t.history.Peek(t.history.Len() - 1), true
}

// Centroid is the pixel centroid of the most recent trajectory point.
// Only call this on a track that has at least one point (every track in
// the store does).
func (t *VehicleTrack) Centroid() geom.Point {
	return t.history.Peek(t.history.Len() - 1).Pixel
}

// Speed returns the current smoothed speed in m/s. ok is false until the
// estimator has accepted at least one sample.
func (t *VehicleTrack) Speed() (float64, bool) {
	if math.IsNaN(t.smoothedSpeed) {
		return 0, false
	}
	return t.smoothedSpeed, true
}

func (t *VehicleTrack) SetSmoothedSpeed(speedMPS float64) {
	t.smoothedSpeed = speedMPS
}

// AddSpeedSample appends an accepted raw speed sample (m/s) to the
// smoothing window.
func (t *VehicleTrack) AddSpeedSample(speedMPS float64) {
	t.samples.Add(speedMPS)
}

// SpeedSamples returns the smoothing window, oldest first, at most
// sampleCap entries.
func (t *VehicleTrack) SpeedSamples() []float64 {
	n := min(t.samples.Len(), t.sampleCap)
	out := make([]float64, n)
	first := t.samples.Len() - n
	for i := 0; i < n; i++ {
		out[i] = t.samples.Peek(first + i)
	}
	return out
}

// SpeedCursor is the timestamp of the last trajectory point the speed
// estimator consumed. It lets the estimator stay idempotent if it gets
// asked about the same frame twice.
func (t *VehicleTrack) SpeedCursor() float64 {
	return t.speedCursor
}

func (t *VehicleTrack) SetSpeedCursor(ts float64) {
	t.speedCursor = ts
}

// CountRejectedSample records that an implausible raw speed sample was
// discarded. Rejections are not errors, but they are worth surfacing in
// diagnostics.
func (t *VehicleTrack) CountRejectedSample() {
	t.rejectedSamples++
}

func (t *VehicleTrack) RejectedSamples() int {
	return t.rejectedSamples
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
