package track

import "sort"

// Store owns the set of live tracks, keyed by track ID. It is the sole
// owner of VehicleTrack lifetime: tracks enter when the Associator spawns
// them and leave when they have disappeared for too long.
//
// Store is single-writer. Only the Associator mutates it, one frame at a
// time; callers that parallelize the surrounding system must serialize
// frames into Associator.Update (see pipeline).
type Store struct {
	tracks map[int64]*VehicleTrack
}

func NewStore() *Store {
	return &Store{
		tracks: map[int64]*VehicleTrack{},
	}
}

func (s *Store) Get(id int64) *VehicleTrack {
	return s.tracks[id]
}

func (s *Store) Len() int {
	return len(s.tracks)
}

// IDs returns all live track IDs in ascending order.
func (s *Store) IDs() []int64 {
	ids := make([]int64, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Tracks returns all live tracks in ascending ID order. The ordering makes
// iteration (and therefore association) deterministic.
func (s *Store) Tracks() []*VehicleTrack {
	out := make([]*VehicleTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) add(t *VehicleTrack) {
	s.tracks[t.ID] = t
}

func (s *Store) remove(id int64) {
	delete(s.tracks, id)
}
