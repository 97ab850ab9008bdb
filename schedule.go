package transit

import (
	"sort"

	"hustbus.dev/transit/model"
)

// Computes start and end times of each trip from its stop times.
//
// A trip starts at the departure from its first stop (arrival, if
// departure is missing) and ends at the arrival at its last stop
// (departure, if arrival is missing). Trips without stop times are
// dropped. The result is ordered by start time, then trip ID.
func BuildSchedule(trips []*model.Trip, stopTimes []*model.StopTime) []model.TripSchedule {
	byTrip := map[string][]*model.StopTime{}
	for _, st := range stopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	schedule := []model.TripSchedule{}
	for _, trip := range trips {
		sts := byTrip[trip.ID]
		if len(sts) == 0 {
			continue
		}

		sort.SliceStable(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})

		first, last := sts[0], sts[len(sts)-1]

		start := first.Departure
		if start == "" {
			start = first.Arrival
		}
		end := last.Arrival
		if end == "" {
			end = last.Departure
		}

		schedule = append(schedule, model.TripSchedule{
			TripID:    trip.ID,
			StartTime: start,
			EndTime:   end,
		})
	}

	sort.SliceStable(schedule, func(i, j int) bool {
		if schedule[i].StartTime != schedule[j].StartTime {
			return schedule[i].StartTime < schedule[j].StartTime
		}
		return schedule[i].TripID < schedule[j].TripID
	})

	return schedule
}
