package track

import (
	"sort"

	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/logs"
	"github.com/velocam/speedcam/pkg/gen"
	"github.com/velocam/speedcam/pkg/homography"
	"github.com/velocam/speedcam/pkg/idgen"
	"github.com/velocam/speedcam/pkg/nn"
)

type Config struct {
	// Matches with a centroid distance of MaxTrackingDistance pixels or
	// more are rejected, so a vehicle that left the frame can't be glued
	// to an unrelated new vehicle.
	MaxTrackingDistance float32

	// A track survives this many consecutive unmatched frames. One more
	// and it is retired.
	MaxDisappearedFrames int

	// Sliding window cap on stored trajectory points per track
	TrajectoryCap int

	// Sliding window cap on accepted speed samples per track
	SpeedSampleCap int
}

// UpdateResult reports what one frame's association did to the store.
type UpdateResult struct {
	Matched           []int64 // Tracks that received a detection this frame (including spawned)
	Spawned           []int64 // Newly created tracks
	Removed           []int64 // Tracks retired this frame
	DroppedDetections int     // Detections discarded because their centroid didn't map to the ground plane
}

// Associator matches each frame's detections to existing tracks, spawns
// tracks for unmatched detections, and retires tracks that have
// disappeared for too long.
//
// Matching is greedy nearest-centroid: globally smallest pixel distance
// first, ties broken by lower track ID then lower detection index, so
// identical input always produces identical assignments. This is O(tracks
// x detections) worst case, not optimal assignment; occlusion is handled
// by the disappearance grace period rather than by a fancier matcher.
type Associator struct {
	log    logs.Log
	cfg    Config
	mapper *homography.Mapper
	nextID idgen.Int64
}

func NewAssociator(logger logs.Log, mapper *homography.Mapper, cfg Config) *Associator {
	cfg.MaxTrackingDistance = gen.Clamp(cfg.MaxTrackingDistance, 1, 1e6)
	cfg.MaxDisappearedFrames = gen.Clamp(cfg.MaxDisappearedFrames, 0, 1<<20)
	cfg.TrajectoryCap = gen.Clamp(cfg.TrajectoryCap, 2, 1<<16)
	cfg.SpeedSampleCap = gen.Clamp(cfg.SpeedSampleCap, 1, 1<<16)
	return &Associator{
		log:    logger,
		cfg:    cfg,
		mapper: mapper,
	}
}

// Update runs one frame of association against the store. All mutations
// for the frame happen here; the store is never left partially updated.
func (a *Associator) Update(store *Store, detections []nn.Detection, timestamp float64, frame int64) UpdateResult {
	result := UpdateResult{}
	tracks := store.Tracks()

	usedTrack := make([]bool, len(tracks))
	usedDet := make([]bool, len(detections))

	if len(tracks) > 0 && len(detections) > 0 {
		a.matchGreedy(tracks, detections, timestamp, frame, usedTrack, usedDet, &result)
	}

	// Unmatched tracks age by one frame, and are retired once they exceed
	// the grace period.
	for i, t := range tracks {
		if usedTrack[i] {
			continue
		}
		t.Disappeared++
		if t.Disappeared > a.cfg.MaxDisappearedFrames {
			t.Status = StatusLost
			store.remove(t.ID)
			result.Removed = append(result.Removed, t.ID)
			a.log.Debugf("Track %v (%v) lost after %v silent frames", t.ID, nn.ClassName(t.Class), t.Disappeared)
		}
	}

	// Unmatched detections spawn new tracks
	for j := range detections {
		if usedDet[j] {
			continue
		}
		det := &detections[j]
		centroid := det.Box.Center()
		world, err := a.mapper.ToWorld(centroid)
		if err != nil {
			a.log.Warnf("Dropping detection at %v,%v: %v", centroid.X, centroid.Y, err)
			result.DroppedDetections++
			continue
		}
		t := newVehicleTrack(a.nextID.Next(), det.Class, a.cfg.TrajectoryCap, a.cfg.SpeedSampleCap)
		t.LastBox = det.Box
		t.appendPoint(TrackPoint{
			Timestamp: timestamp,
			Frame:     frame,
			Pixel:     centroid,
			World:     world,
		})
		store.add(t)
		result.Spawned = append(result.Spawned, t.ID)
		result.Matched = append(result.Matched, t.ID)
		a.log.Debugf("New track %v (%v) at %v,%v", t.ID, nn.ClassName(t.Class), centroid.X, centroid.Y)
	}

	return result
}

type candidatePair struct {
	distance float32
	trackIdx int
	detIdx   int
}

// matchGreedy pairs tracks with detections. The flatbush index is purely a
// prefilter: any pair with centroid distance under MaxTrackingDistance is
// inside the query box, so the candidate set is exactly what a full
// pairwise scan would admit.
func (a *Associator) matchGreedy(tracks []*VehicleTrack, detections []nn.Detection, timestamp float64, frame int64, usedTrack, usedDet []bool, result *UpdateResult) {
	maxDist := a.cfg.MaxTrackingDistance

	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(tracks))
	for _, t := range tracks {
		c := t.Centroid()
		fb.Add(c.X, c.Y, c.X, c.Y)
	}
	fb.Finish()

	candidates := []candidatePair{}
	nearby := []int{}
	for j := range detections {
		c := detections[j].Box.Center()
		nearby = fb.SearchFast(c.X-maxDist, c.Y-maxDist, c.X+maxDist, c.Y+maxDist, nearby)
		for _, i := range nearby {
			d := tracks[i].Centroid().Distance(c)
			if d < maxDist {
				candidates = append(candidates, candidatePair{distance: d, trackIdx: i, detIdx: j})
			}
		}
	}

	sort.Slice(candidates, func(x, y int) bool {
		cx, cy := candidates[x], candidates[y]
		if cx.distance != cy.distance {
			return cx.distance < cy.distance
		}
		if tracks[cx.trackIdx].ID != tracks[cy.trackIdx].ID {
			return tracks[cx.trackIdx].ID < tracks[cy.trackIdx].ID
		}
		return cx.detIdx < cy.detIdx
	})

	for _, cand := range candidates {
		if usedTrack[cand.trackIdx] || usedDet[cand.detIdx] {
			continue
		}
		det := &detections[cand.detIdx]
		centroid := det.Box.Center()
		world, err := a.mapper.ToWorld(centroid)
		if err != nil {
			// The detection is unusable for any track, but the track
			// remains free to match its next closest detection.
			a.log.Warnf("Dropping detection at %v,%v: %v", centroid.X, centroid.Y, err)
			usedDet[cand.detIdx] = true
			result.DroppedDetections++
			continue
		}
		t := tracks[cand.trackIdx]
		usedTrack[cand.trackIdx] = true
		usedDet[cand.detIdx] = true
		t.Disappeared = 0
		t.Status = StatusActive
		t.LastBox = det.Box
		if !t.appendPoint(TrackPoint{
			Timestamp: timestamp,
			Frame:     frame,
			Pixel:     centroid,
			World:     world,
		}) {
			a.log.Warnf("Track %v: rejected out-of-order sample at t=%v frame=%v", t.ID, timestamp, frame)
		}
		result.Matched = append(result.Matched, t.ID)
	}
}
