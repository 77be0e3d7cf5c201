package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saeid-a/minicoachy/internal/models"
)

const (
	RKSessionCreated  = "session.created"
	RKSessionReminder = "session.reminder"
)

// SessionCreated is emitted once a new session has committed.
type SessionCreated struct {
	EventID    string              `json:"event_id"`
	OccurredAt time.Time           `json:"occurred_at"`
	Session    models.Session      `json:"session"`
	Coach      *models.UserSummary `json:"coach,omitempty"`
	Client     *models.UserSummary `json:"client,omitempty"`
}

func NewSessionCreated(detail models.SessionDetail, now time.Time) SessionCreated {
	return SessionCreated{
		EventID:    uuid.NewString(),
		OccurredAt: now.UTC(),
		Session:    detail.Session,
		Coach:      detail.Coach,
		Client:     detail.Client,
	}
}

// SessionReminder asks the notifier to remind both participants. It carries
// only the id so the session is re-read when the reminder is due.
type SessionReminder struct {
	EventID    string    `json:"event_id"`
	SessionID  int64     `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewSessionReminder derives the reminder from its SessionCreated event, so a
// redelivered creation schedules the same reminder id.
func NewSessionReminder(created SessionCreated, now time.Time) SessionReminder {
	return SessionReminder{
		EventID:    "reminder-" + created.EventID,
		SessionID:  created.Session.ID,
		OccurredAt: now.UTC(),
	}
}

func Decode[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
