package parse

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

const unknownStopName = "Unknown Stop"

type StopCSV struct {
	ID       string `csv:"stop_id"`
	Name     string `csv:"stop_name"`
	Desc     string `csv:"stop_desc"`
	Lat      string `csv:"stop_lat"`
	Lon      string `csv:"stop_lon"`
	Category string `csv:"stop_category"`
}

func (st *StopCSV) validate() (*model.Stop, Reason) {
	id := strings.TrimSpace(st.ID)
	if id == "" {
		return nil, ReasonMissingField
	}

	lat, ok := parseCoordinate(st.Lat, 90)
	if !ok {
		return nil, ReasonBadCoordinate
	}
	lon, ok := parseCoordinate(st.Lon, 180)
	if !ok {
		return nil, ReasonBadCoordinate
	}

	name := strings.TrimSpace(st.Name)
	if name == "" {
		name = strings.TrimSpace(st.Desc)
	}
	if name == "" {
		name = unknownStopName
	}

	category := strings.TrimSpace(st.Category)
	if category == "" {
		category = model.DefaultStopCategory
	}

	return &model.Stop{
		ID:       id,
		Name:     name,
		Lat:      lat,
		Lon:      lon,
		Category: category,
	}, ""
}

// Zero is rejected along with garbage: feeds use it for "unknown".
func parseCoordinate(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v == 0 || v < -limit || v > limit {
		return 0, false
	}
	return v, true
}

// Upserts stops from a stops.txt file, batchwise.
func ParseStops(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	opts Options,
) (*EntitySummary, error) {
	opts = opts.withDefaults()
	summary := NewEntitySummary(StageStops)

	b := newBatcher(opts.BatchSize, func(stops []*model.Stop) error {
		if err := writer.WriteStops(ctx, stops); err != nil {
			return err
		}
		summary.Imported += len(stops)
		opts.Logger.Debug(
			"wrote stops",
			zap.Int("batch", len(stops)),
			zap.Int("read", summary.Read),
			zap.Int("imported", summary.Imported),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	})

	var writeErr error
	err := ReadRows(data, func(row *StopCSV) error {
		summary.Read++

		stop, reason := row.validate()
		if reason != "" {
			summary.skip(reason, 1)
			return nil
		}

		if err := b.add(stop); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return summary, &StageError{Stage: StageStops, Err: writeErr}
	}
	if err != nil {
		return summary, fmt.Errorf("reading stops: %w", err)
	}

	if err := b.flush(); err != nil {
		return summary, &StageError{Stage: StageStops, Err: err}
	}

	return summary, nil
}
