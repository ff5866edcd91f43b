package store

import "time"

// Message is the durable queue row mapped to Go.
type Message struct {
	ID          int64      `json:"id"`
	Tag         string     `json:"tag"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	ExceptTimes int        `json:"except_times"`
	Schedule    *time.Time `json:"schedule,omitempty"`
}

// Visible reports whether the visibility gate lets m through at now.
func (m *Message) Visible(now time.Time) bool {
	return m.Schedule == nil || !m.Schedule.After(now)
}

// ListOptions controls List and Count snapshots.
type ListOptions struct {
	// IncludeScheduled also reports rows whose schedule is still in the future.
	IncludeScheduled bool
}
