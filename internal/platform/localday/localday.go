// Package localday converts between stored UTC instants and the configured
// local zone for calendar-day arithmetic.
//
// Certificates are reused per *local* calendar day while all timestamps are
// persisted in UTC, so the day identity must be computed in the project zone.
package localday

import "time"

// Key returns a stable yyyy-mm-dd identifier for the local calendar day that
// contains now. Used as the uniqueness component for daily idempotent
// issuance.
func Key(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// Format renders a UTC instant in the local zone for display.
func Format(utc time.Time, loc *time.Location, layout string) string {
	return utc.In(loc).Format(layout)
}
