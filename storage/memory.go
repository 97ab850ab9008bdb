package storage

import (
	"context"
	"sort"
	"sync"

	"hustbus.dev/transit/model"
)

// In memory implementation of Storage below

type stopTimeKey struct {
	TripID       string
	StopID       string
	StopSequence uint32
}

type MemoryStorage struct {
	mutex sync.RWMutex

	stops           map[string]*model.Stop
	lines           map[string]*model.Line
	trips           map[string]*model.Trip
	stopTimes       map[stopTimeKey]*model.StopTime
	stopTimesByTrip map[string][]*model.StopTime
	runs            map[string]*ImportRun
}

func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{
		runs: map[string]*ImportRun{},
	}
	s.reset()
	return s
}

func (s *MemoryStorage) reset() {
	s.stops = map[string]*model.Stop{}
	s.lines = map[string]*model.Line{}
	s.trips = map[string]*model.Trip{}
	s.stopTimes = map[stopTimeKey]*model.StopTime{}
	s.stopTimesByTrip = map[string][]*model.StopTime{}
}

func (s *MemoryStorage) WriteStops(ctx context.Context, stops []*model.Stop) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stop := range stops {
		cp := *stop
		s.stops[stop.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) WriteLines(ctx context.Context, lines []*model.Line) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, line := range lines {
		cp := *line
		s.lines[line.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) WriteTrips(ctx context.Context, trips []*model.Trip) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, trip := range trips {
		cp := *trip
		s.trips[trip.ID] = &cp
	}
	return nil
}

func (s *MemoryStorage) WriteStopTimes(ctx context.Context, stopTimes []*model.StopTime) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	inserted := 0
	for _, st := range stopTimes {
		key := stopTimeKey{st.TripID, st.StopID, st.StopSequence}
		if _, found := s.stopTimes[key]; found {
			continue
		}
		cp := *st
		s.stopTimes[key] = &cp
		s.stopTimesByTrip[st.TripID] = append(s.stopTimesByTrip[st.TripID], &cp)
		inserted++
	}

	return inserted, nil
}

func (s *MemoryStorage) DeleteLine(ctx context.Context, lineID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for tripID, trip := range s.trips {
		if trip.LineID != lineID {
			continue
		}
		for _, st := range s.stopTimesByTrip[tripID] {
			delete(s.stopTimes, stopTimeKey{st.TripID, st.StopID, st.StopSequence})
		}
		delete(s.stopTimesByTrip, tripID)
		delete(s.trips, tripID)
	}
	delete(s.lines, lineID)

	return nil
}

func (s *MemoryStorage) Truncate(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStorage) StopIDs(ctx context.Context) (map[string]bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make(map[string]bool, len(s.stops))
	for id := range s.stops {
		ids[id] = true
	}
	return ids, nil
}

func (s *MemoryStorage) LineIDs(ctx context.Context) (map[string]bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make(map[string]bool, len(s.lines))
	for id := range s.lines {
		ids[id] = true
	}
	return ids, nil
}

func (s *MemoryStorage) TripIDs(ctx context.Context) (map[string]bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make(map[string]bool, len(s.trips))
	for id := range s.trips {
		ids[id] = true
	}
	return ids, nil
}

func (s *MemoryStorage) Stops(ctx context.Context) ([]*model.Stop, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stops := make([]*model.Stop, 0, len(s.stops))
	for _, stop := range s.stops {
		cp := *stop
		stops = append(stops, &cp)
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].ID < stops[j].ID
	})
	return stops, nil
}

func (s *MemoryStorage) Lines(ctx context.Context) ([]*model.Line, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	lines := make([]*model.Line, 0, len(s.lines))
	for _, line := range s.lines {
		cp := *line
		lines = append(lines, &cp)
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (s *MemoryStorage) Trips(ctx context.Context) ([]*model.Trip, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.tripsMatching(func(*model.Trip) bool { return true }), nil
}

func (s *MemoryStorage) TripsByLine(ctx context.Context, lineID string) ([]*model.Trip, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.tripsMatching(func(t *model.Trip) bool { return t.LineID == lineID }), nil
}

// Caller must hold the read lock.
func (s *MemoryStorage) tripsMatching(match func(*model.Trip) bool) []*model.Trip {
	trips := []*model.Trip{}
	for _, trip := range s.trips {
		if !match(trip) {
			continue
		}
		cp := *trip
		trips = append(trips, &cp)
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].ID < trips[j].ID
	})
	return trips
}

func (s *MemoryStorage) StopTimesByLine(ctx context.Context, lineID string) ([]*model.StopTime, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stopTimes := []*model.StopTime{}
	for _, trip := range s.tripsMatching(func(t *model.Trip) bool { return t.LineID == lineID }) {
		for _, st := range s.sortedStopTimes(trip.ID) {
			cp := *st
			stopTimes = append(stopTimes, &cp)
		}
	}
	return stopTimes, nil
}

func (s *MemoryStorage) TripStops(ctx context.Context, tripID string) ([]*model.Stop, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stops := []*model.Stop{}
	for _, st := range s.sortedStopTimes(tripID) {
		stop, found := s.stops[st.StopID]
		if !found {
			continue
		}
		cp := *stop
		stops = append(stops, &cp)
	}
	return stops, nil
}

// Caller must hold the read lock.
func (s *MemoryStorage) sortedStopTimes(tripID string) []*model.StopTime {
	stopTimes := append([]*model.StopTime{}, s.stopTimesByTrip[tripID]...)
	sort.Slice(stopTimes, func(i, j int) bool {
		return stopTimes[i].StopSequence < stopTimes[j].StopSequence
	})
	return stopTimes
}

func (s *MemoryStorage) NearbyStops(ctx context.Context, lat float64, lng float64, limit int) ([]model.StopDistance, error) {
	stops, err := s.Stops(ctx)
	if err != nil {
		return nil, err
	}
	return NearestStops(stops, lat, lng, limit), nil
}

func (s *MemoryStorage) Counts(ctx context.Context) (Counts, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return Counts{
		Stops:     len(s.stops),
		Lines:     len(s.lines),
		Trips:     len(s.trips),
		StopTimes: len(s.stopTimes),
	}, nil
}

func (s *MemoryStorage) WriteImportRun(ctx context.Context, run *ImportRun) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStorage) ListImportRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	runs := []*ImportRun{}
	for _, run := range s.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}
