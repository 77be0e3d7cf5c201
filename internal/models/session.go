package models

import "time"

type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

type Session struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Status      SessionStatus `json:"status"`
	CoachID     int64         `json:"coach_id"`
	ClientID    int64         `json:"client_id"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Overlaps reports whether the half-open intervals [s.StartTime, s.EndTime) and
// [start, end) intersect. Touching endpoints do not overlap.
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

type SessionDetail struct {
	Session
	Coach  *UserSummary `json:"coach,omitempty"`
	Client *UserSummary `json:"client,omitempty"`
}
