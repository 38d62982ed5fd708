// Package export reshapes a diary's activities into tabular rows for the
// spreadsheet/CSV sink.
package export

import "example.com/diary/internal/domain"

// Row is one line of the export: a date header, an activity entry, or a
// blank separator.
type Row struct {
	Date        string
	StartTime   string
	EndTime     string
	Description string
}

// DateLabel renders an ISO date key as its display label.
type DateLabel func(isoDate string) string

// Rows flattens the activities into the export layout: per date group one
// header row carrying only the formatted label, one row per activity with a
// blank date cell, then a blank separator row. The reshape is pure, so equal
// input always yields an identical row sequence.
func Rows(activities []domain.Activity, label DateLabel) []Row {
	if label == nil {
		label = DefaultDateLabel
	}

	groups := domain.GroupByDate(activities)
	rows := make([]Row, 0, len(activities)+2*len(groups))
	for _, group := range groups {
		rows = append(rows, Row{Date: label(group.Date)})
		for _, activity := range group.Activities {
			rows = append(rows, Row{
				StartTime:   activity.StartTime,
				EndTime:     activity.EndTime,
				Description: activity.Description,
			})
		}
		rows = append(rows, Row{})
	}
	return rows
}
