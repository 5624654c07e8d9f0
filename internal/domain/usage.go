package domain

import "time"

// UsageDateLayout is the calendar-day key format for daily usage rows.
const UsageDateLayout = "2006-01-02"

// UsageDay returns the usage key for t. Usage days are UTC calendar days.
func UsageDay(t time.Time) string {
	return t.UTC().Format(UsageDateLayout)
}

// NextUsageDay returns the start of the UTC day after t.
func NextUsageDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// DailyUsage counts what a sender consumed on one calendar day.
type DailyUsage struct {
	SenderID        string `json:"sender_id" db:"sender_id"`
	UsageDate       string `json:"usage_date" db:"usage_date"`
	ConnectionsSent int    `json:"connections_sent" db:"connections_sent"`
	MessagesSent    int    `json:"messages_sent" db:"messages_sent"`
	ProfileViews    int    `json:"profile_views" db:"profile_views"`
}

// Total is the load figure used for least-loaded sender assignment.
func (u DailyUsage) Total() int {
	return u.ConnectionsSent + u.MessagesSent + u.ProfileViews
}

// UsageColumn names the counter an action type consumes.
type UsageColumn string

const (
	UsageConnections  UsageColumn = "connections_sent"
	UsageMessages     UsageColumn = "messages_sent"
	UsageProfileViews UsageColumn = "profile_views"
)

// UsageColumnFor maps an action type to the counter it consumes.
// Connection checks load the person's profile page, so they are metered
// as profile views.
func UsageColumnFor(t ActionType) (UsageColumn, bool) {
	switch t {
	case ActionConnect:
		return UsageConnections, true
	case ActionMessage:
		return UsageMessages, true
	case ActionProfileView, ActionCheckConnection:
		return UsageProfileViews, true
	}
	return "", false
}

// Used returns the counter value for col.
func (u DailyUsage) Used(col UsageColumn) int {
	switch col {
	case UsageConnections:
		return u.ConnectionsSent
	case UsageMessages:
		return u.MessagesSent
	case UsageProfileViews:
		return u.ProfileViews
	}
	return 0
}

// Limit returns the cap matching col.
func (l Limits) Limit(col UsageColumn) int {
	switch col {
	case UsageConnections:
		return l.Connections
	case UsageMessages:
		return l.Messages
	case UsageProfileViews:
		return l.ProfileViews
	}
	return 0
}
