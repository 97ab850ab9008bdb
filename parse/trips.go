package parse

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

type TripCSV struct {
	ID      string `csv:"trip_id"`
	RouteID string `csv:"route_id"`
}

func (t *TripCSV) validate(lines map[string]bool) (*model.Trip, Reason) {
	id := strings.TrimSpace(t.ID)
	lineID := strings.TrimSpace(t.RouteID)
	if id == "" || lineID == "" {
		return nil, ReasonMissingField
	}

	if !lines[lineID] {
		return nil, ReasonUnknownLine
	}

	return &model.Trip{
		ID:     id,
		LineID: lineID,
	}, ""
}

// Upserts trips from a trips.txt file. Trips whose line isn't in
// lines are skipped.
func ParseTrips(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	lines map[string]bool,
	opts Options,
) (*EntitySummary, error) {
	opts = opts.withDefaults()
	summary := NewEntitySummary(StageTrips)

	b := newBatcher(opts.BatchSize, func(trips []*model.Trip) error {
		if err := writer.WriteTrips(ctx, trips); err != nil {
			return err
		}
		summary.Imported += len(trips)
		opts.Logger.Debug(
			"wrote trips",
			zap.Int("batch", len(trips)),
			zap.Int("read", summary.Read),
			zap.Int("imported", summary.Imported),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	})

	var writeErr error
	err := ReadRows(data, func(row *TripCSV) error {
		summary.Read++

		trip, reason := row.validate(lines)
		if reason != "" {
			summary.skip(reason, 1)
			return nil
		}

		if err := b.add(trip); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return summary, &StageError{Stage: StageTrips, Err: writeErr}
	}
	if err != nil {
		return summary, fmt.Errorf("reading trips: %w", err)
	}

	if err := b.flush(); err != nil {
		return summary, &StageError{Stage: StageTrips, Err: err}
	}

	return summary, nil
}
