package model

// Holds all external facing types and constants.

type LineCategory string

const (
	LineCategoryBus   LineCategory = "bus"
	LineCategoryTrain LineCategory = "train"
)

// Stops carry a category tag. Feeds don't say, so it defaults to bus.
const DefaultStopCategory = "bus"

type Stop struct {
	ID       string
	Name     string
	Lat      float64
	Lon      float64
	Category string
}

// A logical line is stored as up to two Line rows, one per
// direction, sharing the same LongName.
type Line struct {
	ID        string
	ShortName string
	LongName  string
	Category  LineCategory
	Fare      int
	Forward   bool
}

type Trip struct {
	ID     string
	LineID string
}

// Arrival and Departure are normalized to HH:MM:SS within a single
// day. Blank means the feed left the time out.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      string
	Departure    string
}

type StopDistance struct {
	Stop           Stop
	DistanceMeters float64
}

// All Line rows sharing a normalized long name.
type LineGroup struct {
	Key            string
	Name           string
	Representative *Line
	Directions     []*Line
}

type LineDirection struct {
	LineID   string
	Forward  bool
	Headsign string
	Stops    []*Stop
}

type LineDetails struct {
	Name       string
	Directions []*LineDirection
}

type TripSchedule struct {
	TripID    string
	StartTime string
	EndTime   string
}
