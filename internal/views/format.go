package views

import (
	"fmt"
	"time"

	"crmsync/backend"
)

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

// FormatSince renders "never" for the zero time, otherwise "<n units> ago".
func FormatSince(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return FormatDuration(now.Sub(t)) + " ago"
}

// FormatMillis renders an epoch-millisecond timestamp in local time.
func FormatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

// Title returns the human label for an entity.
func Title(e backend.Entity) string {
	switch v := e.(type) {
	case *backend.Contact:
		return v.DisplayName()
	case *backend.Company:
		return v.Name
	case *backend.Deal:
		return v.Name
	case *backend.Ticket:
		return v.Subject
	case *backend.Activity:
		return fmt.Sprintf("%s: %s", v.Type, v.Body)
	}
	return e.Meta().ID
}

// Detail returns a short secondary column for an entity.
func Detail(e backend.Entity) string {
	switch v := e.(type) {
	case *backend.Contact:
		return v.Email
	case *backend.Company:
		return v.Domain
	case *backend.Deal:
		label := v.StageLabel
		if label == "" {
			label = v.Stage
		}
		if v.Amount != 0 {
			return fmt.Sprintf("%s (%.2f)", label, v.Amount)
		}
		return label
	case *backend.Ticket:
		if v.StatusLabel != "" {
			return v.StatusLabel
		}
		return v.Status
	case *backend.Activity:
		return FormatMillis(v.Timestamp)
	}
	return ""
}
