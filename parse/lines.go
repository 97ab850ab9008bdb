package parse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

// Lines are read from routes.txt. The fare and forward_direction
// columns are extensions, and usually absent.
type LineCSV struct {
	ID        string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Desc      string `csv:"route_desc"`
	Type      string `csv:"route_type"`
	Fare      string `csv:"fare"`
	Forward   string `csv:"forward_direction"`
}

func (l *LineCSV) validate(defaultFare int) (*model.Line, Reason) {
	id := strings.TrimSpace(l.ID)
	if id == "" {
		return nil, ReasonMissingField
	}

	longName := strings.TrimSpace(l.LongName)
	if longName == "" {
		longName = strings.TrimSpace(l.Desc)
	}

	fare := defaultFare
	if f, err := strconv.Atoi(strings.TrimSpace(l.Fare)); err == nil && f >= 0 {
		fare = f
	}

	forward, err := strconv.ParseBool(strings.TrimSpace(l.Forward))
	if err != nil {
		forward = strings.HasSuffix(id, "_1") || strings.HasSuffix(id, "_A")
	}

	return &model.Line{
		ID:        id,
		ShortName: strings.TrimSpace(l.ShortName),
		LongName:  longName,
		Category:  lineCategory(l.Type),
		Fare:      fare,
		Forward:   forward,
	}, ""
}

// Tram, subway and rail are trains. Everything else rides the road.
func lineCategory(routeType string) model.LineCategory {
	t, err := strconv.Atoi(strings.TrimSpace(routeType))
	if err == nil && t >= 0 && t <= 2 {
		return model.LineCategoryTrain
	}
	return model.LineCategoryBus
}

// Upserts lines from a routes.txt file, batchwise.
func ParseLines(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	opts Options,
) (*EntitySummary, error) {
	opts = opts.withDefaults()
	summary := NewEntitySummary(StageLines)

	b := newBatcher(opts.BatchSize, func(lines []*model.Line) error {
		if err := writer.WriteLines(ctx, lines); err != nil {
			return err
		}
		summary.Imported += len(lines)
		opts.Logger.Debug(
			"wrote lines",
			zap.Int("batch", len(lines)),
			zap.Int("read", summary.Read),
			zap.Int("imported", summary.Imported),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	})

	var writeErr error
	err := ReadRows(data, func(row *LineCSV) error {
		summary.Read++

		line, reason := row.validate(opts.DefaultFare)
		if reason != "" {
			summary.skip(reason, 1)
			return nil
		}

		if err := b.add(line); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return summary, &StageError{Stage: StageLines, Err: writeErr}
	}
	if err != nil {
		return summary, fmt.Errorf("reading routes: %w", err)
	}

	if err := b.flush(); err != nil {
		return summary, &StageError{Stage: StageLines, Err: err}
	}

	return summary, nil
}
