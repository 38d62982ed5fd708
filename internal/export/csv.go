package export

import (
	"encoding/csv"
	"io"
)

var csvHeader = []string{"Date", "Start Time", "End Time", "Activity"}

// WriteCSV serialises the row sequence as CSV with a fixed header line.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{row.Date, row.StartTime, row.EndTime, row.Description}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
