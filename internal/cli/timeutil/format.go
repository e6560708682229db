// Package timeutil formats the timestamps and durations dspdemo prints
// alongside session.Stats snapshots (session start time, session uptime).
package timeutil

import (
	"fmt"
	"time"
)

// displayTimeLayout is the reference-time layout used for a session's
// "Started" column. Uses Go's reference time: Mon Jan 2 15:04:05 2006.
const displayTimeLayout = "Mon Jan 2 15:04:05 2006"

// FormatUptime renders a Go duration string (as produced by
// time.Duration.String, e.g. "72h30m15s") as "3d 0h 30m 15s". Input that
// does not parse as a duration (including the empty string) is returned
// unchanged so a missing value degrades to a blank cell rather than an
// error.
func FormatUptime(uptime string) string {
	d, err := time.ParseDuration(uptime)
	if err != nil {
		return uptime
	}

	total := int(d.Seconds())
	days := total / 86400
	hours := (total / 3600) % 24
	minutes := (total / 60) % 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatTime parses an RFC3339 timestamp (as stamped into
// session.Stats.StartedAt) and renders it in the local zone for display.
// A timestamp that fails to parse is returned unchanged.
func FormatTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return t.Local().Format(displayTimeLayout)
}
