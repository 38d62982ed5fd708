package export

import "time"

// DefaultDateLabel renders "2024-01-10" as "Wednesday, 10 January 2024".
// A key that does not parse as a date is returned unchanged so a malformed
// remote record still exports.
func DefaultDateLabel(isoDate string) string {
	parsed, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return isoDate
	}
	return parsed.Format("Monday, 2 January 2006")
}
