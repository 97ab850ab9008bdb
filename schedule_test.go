package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hustbus.dev/transit/model"
)

func TestBuildSchedule(t *testing.T) {
	trips := []*model.Trip{
		{ID: "t1", LineID: "l"},
		{ID: "t2", LineID: "l"},
		{ID: "t3", LineID: "l"},
		{ID: "empty", LineID: "l"},
	}

	// Out of sequence order on purpose
	stopTimes := []*model.StopTime{
		{TripID: "t1", StopID: "b", StopSequence: 2, Arrival: "08:30:00", Departure: "08:31:00"},
		{TripID: "t1", StopID: "a", StopSequence: 1, Arrival: "08:09:00", Departure: "08:10:00"},
		{TripID: "t2", StopID: "a", StopSequence: 1, Arrival: "07:55:00", Departure: ""},
		{TripID: "t2", StopID: "b", StopSequence: 5, Arrival: "", Departure: "08:20:00"},
		{TripID: "t3", StopID: "a", StopSequence: 3, Arrival: "09:00:00", Departure: "09:00:00"},
		{TripID: "t3", StopID: "b", StopSequence: 10, Arrival: "09:40:00", Departure: "09:41:00"},
		{TripID: "other", StopID: "a", StopSequence: 1, Arrival: "06:00:00", Departure: "06:00:00"},
	}

	assert.Equal(t, []model.TripSchedule{
		{TripID: "t2", StartTime: "07:55:00", EndTime: "08:20:00"},
		{TripID: "t1", StartTime: "08:10:00", EndTime: "08:30:00"},
		{TripID: "t3", StartTime: "09:00:00", EndTime: "09:40:00"},
	}, BuildSchedule(trips, stopTimes))
}

func TestBuildScheduleTies(t *testing.T) {
	trips := []*model.Trip{
		{ID: "b"},
		{ID: "a"},
	}
	stopTimes := []*model.StopTime{
		{TripID: "b", StopSequence: 1, Departure: "10:00:00"},
		{TripID: "a", StopSequence: 1, Departure: "10:00:00"},
	}

	assert.Equal(t, []model.TripSchedule{
		{TripID: "a", StartTime: "10:00:00", EndTime: "10:00:00"},
		{TripID: "b", StartTime: "10:00:00", EndTime: "10:00:00"},
	}, BuildSchedule(trips, stopTimes))
}

func TestBuildScheduleEmpty(t *testing.T) {
	assert.Equal(t, []model.TripSchedule{}, BuildSchedule(nil, nil))
	assert.Equal(t, []model.TripSchedule{}, BuildSchedule([]*model.Trip{{ID: "t"}}, nil))
}
