package parse

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hustbus.dev/transit/model"
	"hustbus.dev/transit/storage"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  string `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
}

// Normalizes a feed time to HH:MM:SS. Accepts H:MM:SS, HH:MM:SS and
// HH:MM. Hours past 23 wrap around, so 25:30:15 becomes 01:30:15.
//
// Blank input is a missing time and yields "".
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	split := strings.Split(s, ":")
	if len(split) != 2 && len(split) != 3 {
		return "", fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		if str == "" || strings.TrimLeft(str, "0123456789") != "" {
			return "", fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		j, err := strconv.Atoi(str)
		if err != nil {
			return "", fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[1] > 59 {
		return "", fmt.Errorf("invalid minute in '%s'", s)
	}

	if hms[2] > 59 {
		return "", fmt.Errorf("invalid second in '%s'", s)
	}

	return fmt.Sprintf("%02d:%02d:%02d", hms[0]%24, hms[1], hms[2]), nil
}

func (st *StopTimeCSV) validate(trips map[string]bool, stops map[string]bool) (*model.StopTime, Reason) {
	tripID := strings.TrimSpace(st.TripID)
	stopID := strings.TrimSpace(st.StopID)
	seq := strings.TrimSpace(st.StopSequence)
	if tripID == "" || stopID == "" || seq == "" {
		return nil, ReasonMissingField
	}

	stopSequence, err := strconv.ParseUint(seq, 10, 32)
	if err != nil {
		return nil, ReasonBadSequence
	}

	arrival, err := NormalizeTime(st.ArrivalTime)
	if err != nil {
		return nil, ReasonBadTime
	}
	departure, err := NormalizeTime(st.DepartureTime)
	if err != nil {
		return nil, ReasonBadTime
	}

	if !trips[tripID] {
		return nil, ReasonUnknownTrip
	}
	if !stops[stopID] {
		return nil, ReasonUnknownStop
	}

	return &model.StopTime{
		TripID:       tripID,
		StopID:       stopID,
		StopSequence: uint32(stopSequence),
		Arrival:      arrival,
		Departure:    departure,
	}, ""
}

// Inserts stop times from a stop_times.txt file.
//
// Batches are written concurrently by up to opts.Workers
// goroutines. Rows already in storage, or repeated within the file,
// are counted as duplicates. The first write error stops the
// import. Batches committed by then stay committed.
func ParseStopTimes(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
	opts Options,
) (*EntitySummary, error) {
	opts = opts.withDefaults()
	summary := NewEntitySummary(StageStopTimes)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	// Written by workers, merged into summary once they're done.
	var mu sync.Mutex
	inserted := 0
	duplicates := 0

	b := newBatcher(opts.BatchSize, func(batch []*model.StopTime) error {
		g.Go(func() error {
			n, err := writer.WriteStopTimes(gctx, batch)
			if err != nil {
				return err
			}

			mu.Lock()
			inserted += n
			duplicates += len(batch) - n
			total := inserted
			mu.Unlock()

			opts.Logger.Debug(
				"wrote stop_times",
				zap.Int("batch", len(batch)),
				zap.Int("inserted", n),
				zap.Int("imported", total),
			)
			return nil
		})
		return nil
	})

	err := ReadRows(data, func(row *StopTimeCSV) error {
		if err := gctx.Err(); err != nil {
			return err
		}

		summary.Read++

		stopTime, reason := row.validate(trips, stops)
		if reason != "" {
			summary.skip(reason, 1)
			return nil
		}

		return b.add(stopTime)
	})
	if err == nil {
		err = b.flush()
	}

	writeErr := g.Wait()

	summary.Imported = inserted
	summary.skip(ReasonDuplicate, duplicates)

	if writeErr != nil {
		return summary, &StageError{Stage: StageStopTimes, Err: writeErr}
	}
	if err != nil {
		return summary, errors.Wrap(err, "reading stop_times")
	}

	return summary, nil
}
