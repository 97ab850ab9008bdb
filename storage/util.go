package storage

import (
	"container/heap"
	"math"
	"sort"

	"hustbus.dev/transit/model"
)

func HaversineDistance(aLat, aLon, bLat, bLon float64) float64 {
	const earthRadiusKm = 6371

	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusKm
}

// Returns the k stops closest to lat/lng, nearest first. Equal
// distances are ordered by stop ID. Pass k <= 0 for all stops.
//
// This is a plain scan keeping the k best candidates in a max-heap,
// i.e. O(n log k). Feeds hold a few thousand stops, which doesn't
// warrant a spatial index.
func NearestStops(stops []*model.Stop, lat float64, lng float64, k int) []model.StopDistance {
	if k <= 0 || k > len(stops) {
		k = len(stops)
	}
	if k == 0 {
		return []model.StopDistance{}
	}

	h := &distanceHeap{}
	for _, s := range stops {
		cand := model.StopDistance{
			Stop:           *s,
			DistanceMeters: HaversineDistance(lat, lng, s.Lat, s.Lon) * 1000,
		}
		if h.Len() < k {
			heap.Push(h, cand)
			continue
		}
		if closer(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}

	res := []model.StopDistance(*h)
	sort.Slice(res, func(i, j int) bool {
		return closer(res[i], res[j])
	})

	return res
}

func closer(a, b model.StopDistance) bool {
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	return a.Stop.ID < b.Stop.ID
}

// Max-heap on distance: the root is the worst candidate kept so far.
type distanceHeap []model.StopDistance

func (h distanceHeap) Len() int           { return len(h) }
func (h distanceHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h distanceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *distanceHeap) Push(x any) {
	*h = append(*h, x.(model.StopDistance))
}

func (h *distanceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Drops all but the last record for each key, keeping the order in
// which keys were first seen. Upserts can't touch the same row twice
// in one statement on postgres.
func lastByKey[T any](records []*T, key func(*T) string) []*T {
	index := map[string]int{}
	out := make([]*T, 0, len(records))
	for _, r := range records {
		k := key(r)
		if i, found := index[k]; found {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
