package track

import (
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"github.com/velocam/speedcam/pkg/geom"
	"github.com/velocam/speedcam/pkg/homography"
	"github.com/velocam/speedcam/pkg/nn"
)

// 10 pixels per meter, origin at the image origin
func testMapper(t *testing.T) *homography.Mapper {
	image := [4]geom.Point{
		{X: 0, Y: 0},
		{X: 1000, Y: 0},
		{X: 1000, Y: 1000},
		{X: 0, Y: 1000},
	}
	world := [4]homography.WorldPoint{
		{X: 0, Y: 0},
		{X: 100, Y: 0},
		{X: 100, Y: 100},
		{X: 0, Y: 100},
	}
	m, err := homography.NewMapper(image, world)
	require.NoError(t, err)
	return m
}

func testConfig() Config {
	return Config{
		MaxTrackingDistance:  100,
		MaxDisappearedFrames: 3,
		TrajectoryCap:        30,
		SpeedSampleCap:       5,
	}
}

func carAt(cx, cy float32) nn.Detection {
	return nn.Detection{
		Box:        geom.Rect{X: cx - 25, Y: cy - 15, Width: 50, Height: 30},
		Class:      nn.COCOCar,
		Confidence: 0.9,
	}
}

func TestSpawnFromEmptyStore(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	dets := []nn.Detection{carAt(100, 100), carAt(400, 100), carAt(700, 100)}
	result := a.Update(store, dets, 0.0, 0)

	require.Equal(t, 3, store.Len())
	require.Len(t, result.Spawned, 3)
	require.Len(t, result.Matched, 3)
	require.Empty(t, result.Removed)
	for _, id := range store.IDs() {
		tr := store.Get(id)
		require.Equal(t, 1, tr.NumPoints())
		require.Equal(t, StatusActive, tr.Status)
		require.Equal(t, 0, tr.Disappeared)
	}
}

func TestMatchNearestAndWorldMapping(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.0, 0)
	require.Equal(t, 1, store.Len())
	id := store.IDs()[0]

	// Moves 50px right: matches, no new track
	result := a.Update(store, []nn.Detection{carAt(150, 100)}, 0.04, 1)
	require.Equal(t, 1, store.Len())
	require.Equal(t, []int64{id}, result.Matched)
	require.Empty(t, result.Spawned)

	tr := store.Get(id)
	require.Equal(t, 2, tr.NumPoints())
	points := tr.Points()
	require.InDelta(t, 10.0, points[0].World.X, 1e-6) // 100px / 10px-per-m
	require.InDelta(t, 15.0, points[1].World.X, 1e-6)
	require.InDelta(t, 5.0, tr.TotalDistance, 1e-6)
}

func TestThresholdSpawnsInsteadOfMatching(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.0, 0)
	// 200px jump exceeds MaxTrackingDistance=100: old track ages, new spawns
	result := a.Update(store, []nn.Detection{carAt(300, 100)}, 0.04, 1)
	require.Equal(t, 2, store.Len())
	require.Len(t, result.Spawned, 1)

	old := store.Get(store.IDs()[0])
	require.Equal(t, 1, old.Disappeared)
}

func TestDisappearanceGracePeriod(t *testing.T) {
	cfg := testConfig() // MaxDisappearedFrames = 3
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), cfg)
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.0, 0)
	id := store.IDs()[0]

	// Exactly MaxDisappearedFrames empty frames: track remains
	for i := 1; i <= cfg.MaxDisappearedFrames; i++ {
		result := a.Update(store, nil, float64(i)*0.04, int64(i))
		require.Empty(t, result.Removed)
	}
	require.Equal(t, 1, store.Len())
	require.Equal(t, cfg.MaxDisappearedFrames, store.Get(id).Disappeared)

	// One more and it's retired
	result := a.Update(store, nil, 0.2, 5)
	require.Equal(t, []int64{id}, result.Removed)
	require.Equal(t, 0, store.Len())
}

func TestReappearanceResetsCounter(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.0, 0)
	id := store.IDs()[0]
	a.Update(store, nil, 0.04, 1)
	a.Update(store, nil, 0.08, 2)
	require.Equal(t, 2, store.Get(id).Disappeared)

	a.Update(store, []nn.Detection{carAt(110, 100)}, 0.12, 3)
	require.Equal(t, 0, store.Get(id).Disappeared)
	require.Equal(t, StatusActive, store.Get(id).Status)
}

func TestGreedyPrefersGlobalMinimum(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	// Two tracks at x=100 and x=200
	a.Update(store, []nn.Detection{carAt(100, 100), carAt(200, 100)}, 0.0, 0)
	ids := store.IDs()
	require.Len(t, ids, 2)

	// One detection at x=190: closest to the second track (distance 10);
	// the first track (distance 90) must go unmatched even though 90 is
	// also under the threshold.
	a.Update(store, []nn.Detection{carAt(190, 100)}, 0.04, 1)
	require.Equal(t, 1, store.Get(ids[0]).Disappeared)
	require.Equal(t, 0, store.Get(ids[1]).Disappeared)
	require.Equal(t, 2, store.Get(ids[1]).NumPoints())
}

func TestTieBreakIsDeterministic(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	// Two tracks equidistant from a single detection placed exactly
	// between them. The lower track ID must win.
	a.Update(store, []nn.Detection{carAt(100, 100), carAt(200, 100)}, 0.0, 0)
	ids := store.IDs()

	a.Update(store, []nn.Detection{carAt(150, 100)}, 0.04, 1)
	require.Equal(t, 2, store.Get(ids[0]).NumPoints())
	require.Equal(t, 1, store.Get(ids[1]).NumPoints())
	require.Equal(t, 1, store.Get(ids[1]).Disappeared)
}

// Running the same detection sequence through two fresh associators must
// produce identical assignments each frame.
func TestDeterminism(t *testing.T) {
	frames := [][]nn.Detection{
		{carAt(100, 100), carAt(400, 100), carAt(700, 500)},
		{carAt(130, 100), carAt(430, 110), carAt(700, 540)},
		{carAt(160, 105)},
		{},
		{carAt(190, 110), carAt(460, 120), carAt(250, 400)},
		{carAt(220, 110), carAt(250, 130), carAt(280, 150)},
	}

	run := func() []UpdateResult {
		a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
		store := NewStore()
		results := []UpdateResult{}
		for i, dets := range frames {
			results = append(results, a.Update(store, dets, float64(i)*0.04, int64(i)))
		}
		return results
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
}

func TestZeroDetectionsAgesAllTracks(t *testing.T) {
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), testConfig())
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100), carAt(500, 500)}, 0.0, 0)
	a.Update(store, nil, 0.04, 1)
	for _, tr := range store.Tracks() {
		require.Equal(t, 1, tr.Disappeared)
	}
}

func TestTrackIDsNeverReused(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDisappearedFrames = 0
	a := NewAssociator(logs.NewTestingLog(t), testMapper(t), cfg)
	store := NewStore()

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.0, 0)
	first := store.IDs()[0]
	a.Update(store, nil, 0.04, 1) // retires immediately
	require.Equal(t, 0, store.Len())

	a.Update(store, []nn.Detection{carAt(100, 100)}, 0.08, 2)
	second := store.IDs()[0]
	require.Greater(t, second, first)
}
