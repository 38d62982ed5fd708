package domain

import "time"

// Activity is a single diary entry: one dated, time-ranged record owned by
// exactly one diary. The JSON field names match the persisted snapshot layout.
type Activity struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Description string `json:"description"`
}

// Range parses the activity's clock strings into a TimeRange.
func (a Activity) Range() (TimeRange, error) {
	return ParseTimeRange(a.StartTime, a.EndTime)
}

// Snapshot is the whole-diary document persisted per user.
type Snapshot struct {
	Activities  []Activity `json:"activities"`
	LastUpdated time.Time  `json:"lastUpdated"`
}
