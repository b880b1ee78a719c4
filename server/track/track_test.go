package track

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/velocam/speedcam/pkg/geom"
	"github.com/velocam/speedcam/pkg/homography"
)

func pointAt(ts float64, frame int64, x float64) TrackPoint {
	return TrackPoint{
		Timestamp: ts,
		Frame:     frame,
		Pixel:     geom.Point{X: float32(x * 10), Y: 100},
		World:     homography.WorldPoint{X: x, Y: 10},
	}
}

func TestAppendPointInvariants(t *testing.T) {
	tr := newVehicleTrack(1, 2, 30, 5)

	require.True(t, tr.appendPoint(pointAt(1.0, 10, 5)))
	require.Equal(t, 1.0, tr.FirstSeen)

	// Same frame is rejected
	require.False(t, tr.appendPoint(pointAt(1.5, 10, 6)))
	// Non-increasing timestamp is rejected
	require.False(t, tr.appendPoint(pointAt(1.0, 11, 6)))
	require.False(t, tr.appendPoint(pointAt(0.5, 11, 6)))
	require.Equal(t, 1, tr.NumPoints())

	require.True(t, tr.appendPoint(pointAt(1.2, 11, 8)))
	require.Equal(t, 2, tr.NumPoints())
	require.Equal(t, 1.2, tr.LastSeen)
	require.InDelta(t, 3.0, tr.TotalDistance, 1e-9)
	require.Equal(t, 2, tr.FramesTracked)

	// Timestamps strictly increase across the retained trajectory
	points := tr.Points()
	for i := 1; i < len(points); i++ {
		require.Greater(t, points[i].Timestamp, points[i-1].Timestamp)
	}
}

func TestTrajectoryCap(t *testing.T) {
	histCap := 8
	tr := newVehicleTrack(1, 2, histCap, 5)
	for i := 0; i < 50; i++ {
		require.True(t, tr.appendPoint(pointAt(float64(i), int64(i), float64(i))))
	}
	require.Equal(t, histCap, tr.NumPoints())
	points := tr.Points()
	// The window holds the most recent points
	require.Equal(t, 49.0, points[len(points)-1].Timestamp)
	require.Equal(t, float64(50-histCap), points[0].Timestamp)
	// TotalDistance accumulates across the whole life, not just the window
	require.InDelta(t, 49.0, tr.TotalDistance, 1e-9)
}

func TestSpeedSampleWindow(t *testing.T) {
	tr := newVehicleTrack(1, 2, 30, 3)

	_, ok := tr.Speed()
	require.False(t, ok)

	for _, s := range []float64{10, 11, 12, 13, 14} {
		tr.AddSpeedSample(s)
	}
	require.Equal(t, []float64{12, 13, 14}, tr.SpeedSamples())

	tr.SetSmoothedSpeed(13.0)
	v, ok := tr.Speed()
	require.True(t, ok)
	require.Equal(t, 13.0, v)

	tr.CountRejectedSample()
	tr.CountRejectedSample()
	require.Equal(t, 2, tr.RejectedSamples())
}

func TestStoreOrdering(t *testing.T) {
	s := NewStore()
	for _, id := range []int64{5, 1, 9, 3} {
		tr := newVehicleTrack(id, 2, 30, 5)
		tr.appendPoint(pointAt(1, 1, float64(id)))
		s.add(tr)
	}
	require.Equal(t, []int64{1, 3, 5, 9}, s.IDs())
	tracks := s.Tracks()
	for i := 1; i < len(tracks); i++ {
		require.Greater(t, tracks[i].ID, tracks[i-1].ID)
	}
	s.remove(5)
	require.Equal(t, []int64{1, 3, 9}, s.IDs())
	require.Nil(t, s.Get(5))
}
