// Package pipeline is the per-frame driver: detector output goes in, and
// tracked vehicles with smoothed speeds come out. It owns no algorithmic
// content beyond sequencing the associator, track store and speed
// estimator, and publishing results.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/velocam/speedcam/pkg/geom"
	"github.com/velocam/speedcam/pkg/homography"
	"github.com/velocam/speedcam/pkg/nn"
	"github.com/velocam/speedcam/pkg/units"
	"github.com/velocam/speedcam/server/config"
	"github.com/velocam/speedcam/server/speed"
	"github.com/velocam/speedcam/server/track"
)

// TrackedVehicle is the externally visible state of one active track.
// SYNC-TRACKED-VEHICLE
type TrackedVehicle struct {
	ID              int64              `json:"id"`
	Class           int                `json:"class"`
	ClassName       string             `json:"className"`
	Status          track.Status       `json:"status"`
	Box             geom.Rect          `json:"box"`
	Trajectory      []track.TrackPoint `json:"trajectory"`
	Speed           float64            `json:"speed"` // In the configured display unit
	SpeedValid      bool               `json:"speedValid"`
	RejectedSamples int                `json:"rejectedSamples,omitempty"`
}

// FrameAnalysis is the result of processing one frame: the set of active
// tracks after association and speed update, plus what changed.
type FrameAnalysis struct {
	Frame             int64            `json:"frame"`
	Timestamp         float64          `json:"timestamp"`
	Vehicles          []TrackedVehicle `json:"vehicles"`
	Spawned           int              `json:"spawned"`
	Removed           int              `json:"removed"`
	DroppedDetections int              `json:"droppedDetections"`
}

// Stats aggregates over the whole run.
type Stats struct {
	FramesProcessed   int64       `json:"framesProcessed"`
	TotalVehicles     int64       `json:"totalVehicles"` // Every track ever spawned
	ActiveTracks      int         `json:"activeTracks"`
	DroppedDetections int64       `json:"droppedDetections"`
	Speeds            speed.Stats `json:"speeds"` // m/s
}

type queuedFrame struct {
	detections []nn.Detection
	timestamp  float64
	frame      int64
}

// Pipeline processes frames strictly in order. ProcessDetections is
// single-writer: either call it from one goroutine, or use Start/Enqueue
// to let the pipeline's own goroutine serialize frames.
type Pipeline struct {
	Log logs.Log

	mapper      *homography.Mapper
	store       *track.Store
	assoc       *track.Associator
	est         *speed.Estimator
	detector    nn.ObjectDetector // Optional; nil when the caller feeds detections directly
	confidence  float32
	displayUnit units.Unit

	queue       chan queuedFrame
	loopStopped chan bool
	started     bool

	watchersLock sync.Mutex
	watchers     []chan *FrameAnalysis

	// Guards the published state below. The processing goroutine writes,
	// anyone may read.
	stateLock         sync.Mutex
	lastAnalysis      *FrameAnalysis
	lastSpeedStats    speed.Stats
	framesProcessed   int64
	totalVehicles     int64
	droppedDetections int64
}

// NewPipeline builds the pipeline from a config. Returns
// homography.ErrCalibration (wrapped) if the calibration quad is
// degenerate; that is fatal and must be fixed before any frame flows.
// detector may be nil if the caller will use ProcessDetections directly.
func NewPipeline(logger logs.Log, detector nn.ObjectDetector, cfg *config.Config) (*Pipeline, error) {
	image, world, err := cfg.Calibration()
	if err != nil {
		return nil, err
	}
	mapper, err := homography.NewMapper(image, world)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		Log:    logger,
		mapper: mapper,
		store:  track.NewStore(),
		assoc: track.NewAssociator(logger, mapper, track.Config{
			MaxTrackingDistance:  cfg.MaxTrackingDistance,
			MaxDisappearedFrames: cfg.MaxDisappearedFrames,
			TrajectoryCap:        cfg.TrajectoryCap,
			SpeedSampleCap:       cfg.SmoothingWindow,
		}),
		est: speed.NewEstimator(logger, speed.Config{
			SmoothingWindow: cfg.SmoothingWindow,
			MaxSpeed:        cfg.MaxSpeedMPS(),
			OutlierSigma:    cfg.OutlierSigma,
		}),
		detector:    detector,
		confidence:  cfg.ConfidenceThreshold,
		displayUnit: cfg.DisplayUnit,
		queue:       make(chan queuedFrame, 64),
		loopStopped: make(chan bool),
	}
	return p, nil
}

// ProcessFrame runs the detector on an image and processes the result.
func (p *Pipeline) ProcessFrame(img nn.Image, timestamp float64, frame int64) (*FrameAnalysis, error) {
	if p.detector == nil {
		return nil, fmt.Errorf("pipeline has no detector; use ProcessDetections")
	}
	objects, err := p.detector.DetectObjects(img)
	if err != nil {
		return nil, fmt.Errorf("detector failed on frame %v: %w", frame, err)
	}
	return p.ProcessDetections(objects, timestamp, frame), nil
}

// ProcessDetections runs one frame of association and speed estimation.
// detections may be raw detector output; non-vehicle classes and low
// confidence detections are filtered here. The store is updated atomically
// with respect to readers of Snapshot/Statistics.
func (p *Pipeline) ProcessDetections(detections []nn.Detection, timestamp float64, frame int64) *FrameAnalysis {
	vehicles := nn.FilterVehicles(detections, p.confidence)
	result := p.assoc.Update(p.store, vehicles, timestamp, frame)

	for _, id := range result.Matched {
		if t := p.store.Get(id); t != nil {
			p.est.Update(t)
		}
	}

	analysis := &FrameAnalysis{
		Frame:             frame,
		Timestamp:         timestamp,
		Vehicles:          make([]TrackedVehicle, 0, p.store.Len()), // non-nil, so JSON output is always an array
		Spawned:           len(result.Spawned),
		Removed:           len(result.Removed),
		DroppedDetections: result.DroppedDetections,
	}
	for _, t := range p.store.Tracks() {
		analysis.Vehicles = append(analysis.Vehicles, p.exportTrack(t))
	}

	p.stateLock.Lock()
	p.lastAnalysis = analysis
	p.lastSpeedStats = p.est.Statistics()
	p.framesProcessed++
	p.totalVehicles += int64(len(result.Spawned))
	p.droppedDetections += int64(result.DroppedDetections)
	p.stateLock.Unlock()

	p.sendToWatchers(analysis)
	return analysis
}

func (p *Pipeline) exportTrack(t *track.VehicleTrack) TrackedVehicle {
	out := TrackedVehicle{
		ID:              t.ID,
		Class:           t.Class,
		ClassName:       nn.ClassName(t.Class),
		Status:          t.Status,
		Box:             t.LastBox,
		Trajectory:      t.Points(),
		RejectedSamples: t.RejectedSamples(),
	}
	if v, ok := t.Speed(); ok {
		out.Speed = units.FromMPS(v, p.displayUnit)
		out.SpeedValid = true
	}
	return out
}

// Snapshot returns the active tracks as of the last processed frame.
func (p *Pipeline) Snapshot() []TrackedVehicle {
	p.stateLock.Lock()
	defer p.stateLock.Unlock()
	if p.lastAnalysis == nil {
		return nil
	}
	return p.lastAnalysis.Vehicles
}

func (p *Pipeline) Statistics() Stats {
	p.stateLock.Lock()
	defer p.stateLock.Unlock()
	active := 0
	if p.lastAnalysis != nil {
		active = len(p.lastAnalysis.Vehicles)
	}
	return Stats{
		FramesProcessed:   p.framesProcessed,
		TotalVehicles:     p.totalVehicles,
		ActiveTracks:      active,
		DroppedDetections: p.droppedDetections,
		Speeds:            p.lastSpeedStats,
	}
}

// SmoothedHistory exposes the replayed smoothed-speed sequence of a live
// track, for display and statistics. Returns nil for unknown IDs.
func (p *Pipeline) SmoothedHistory(trackID int64) []float64 {
	t := p.store.Get(trackID)
	if t == nil {
		return nil
	}
	return p.est.SmoothedHistory(t)
}

// Start launches the processing goroutine for queued mode. Frames pushed
// with Enqueue are processed strictly in order.
func (p *Pipeline) Start() {
	if p.started {
		return
	}
	p.started = true
	go p.loop()
}

// Enqueue hands a frame to the processing goroutine. Blocks when the queue
// is full; frame order is preserved.
func (p *Pipeline) Enqueue(detections []nn.Detection, timestamp float64, frame int64) {
	p.queue <- queuedFrame{
		detections: detections,
		timestamp:  timestamp,
		frame:      frame,
	}
}

// Close stops the processing goroutine (if started) after draining the
// queue. Cancellation is just "stop feeding frames": every queued frame is
// still applied atomically, so there is nothing to roll back.
func (p *Pipeline) Close() {
	close(p.queue)
	if p.started {
		<-p.loopStopped
	}
	p.Log.Infof("Pipeline closed: %v frames, %v vehicles", p.framesProcessed, p.totalVehicles)
}

func (p *Pipeline) loop() {
	for item := range p.queue {
		p.ProcessDetections(item.detections, item.timestamp, item.frame)
	}
	p.loopStopped <- true
}
