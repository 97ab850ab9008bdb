package transit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
)

// Read only views of an imported feed. Safe for concurrent use.
type Static struct {
	Reader storage.FeedReader
}

func NewStatic(reader storage.FeedReader) *Static {
	return &Static{
		Reader: reader,
	}
}

// Returns the k stops closest to lat,lng, nearest first, with their
// distance in meters. Empty if there are no stops.
func (s *Static) NearestStops(ctx context.Context, lat float64, lng float64, k int) ([]model.StopDistance, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: latitude %v", ErrInvalidArgument, lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return nil, fmt.Errorf("%w: longitude %v", ErrInvalidArgument, lng)
	}

	stops, err := s.Reader.NearbyStops(ctx, lat, lng, k)
	if err != nil {
		return nil, fmt.Errorf("getting nearby stops: %w", err)
	}
	if stops == nil {
		stops = []model.StopDistance{}
	}
	return stops, nil
}

// Lists lines, with the directions of each merged into one group.
//
// If query is non-blank, only groups where some direction's long
// name, short name or ID contains it (ignoring case) are returned.
func (s *Static) Lines(ctx context.Context, query string) ([]*model.LineGroup, error) {
	lines, err := s.Reader.Lines(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting lines: %w", err)
	}

	q := normalizeName(query)
	groups := []*model.LineGroup{}
	for _, g := range MergeLines(lines) {
		if groupMatches(g, q) {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// Returns the stops along each direction of the line with the given
// long name (ignoring case and surrounding space).
//
// A direction's stops are those of its first trip, by ID, that has
// any. Directions without such a trip are left out.
func (s *Static) LineDetails(ctx context.Context, name string) (*model.LineDetails, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("%w: blank line name", ErrInvalidArgument)
	}

	lines, err := s.Reader.Lines(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting lines: %w", err)
	}

	var group *model.LineGroup
	for _, g := range MergeLines(lines) {
		if g.Key == key {
			group = g
			break
		}
	}
	if group == nil {
		return nil, fmt.Errorf("%w: line '%s'", ErrNotFound, name)
	}

	details := &model.LineDetails{
		Name:       group.Name,
		Directions: []*model.LineDirection{},
	}

	for _, line := range group.Directions {
		stops, err := s.directionStops(ctx, line.ID)
		if err != nil {
			return nil, err
		}
		if len(stops) == 0 {
			continue
		}

		details.Directions = append(details.Directions, &model.LineDirection{
			LineID:   line.ID,
			Forward:  line.Forward,
			Headsign: headsign(line),
			Stops:    stops,
		})
	}

	return details, nil
}

func (s *Static) directionStops(ctx context.Context, lineID string) ([]*model.Stop, error) {
	trips, err := s.Reader.TripsByLine(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("getting trips for line '%s': %w", lineID, err)
	}

	for _, trip := range trips {
		stops, err := s.Reader.TripStops(ctx, trip.ID)
		if err != nil {
			return nil, fmt.Errorf("getting stops for trip '%s': %w", trip.ID, err)
		}
		if len(stops) > 0 {
			return stops, nil
		}
	}

	return nil, nil
}

func headsign(line *model.Line) string {
	if line.Forward {
		return fmt.Sprintf("forward (%s)", line.ID)
	}
	return fmt.Sprintf("backward (%s)", line.ID)
}

// Returns start and end time of every trip on a line, ordered by
// start time.
func (s *Static) Schedule(ctx context.Context, lineID string) ([]model.TripSchedule, error) {
	lineIDs, err := s.Reader.LineIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting line ids: %w", err)
	}
	if !lineIDs[lineID] {
		return nil, fmt.Errorf("%w: line '%s'", ErrNotFound, lineID)
	}

	trips, err := s.Reader.TripsByLine(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("getting trips: %w", err)
	}

	stopTimes, err := s.Reader.StopTimesByLine(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("getting stop times: %w", err)
	}

	return BuildSchedule(trips, stopTimes), nil
}
