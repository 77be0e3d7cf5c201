package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saeid-a/minicoachy/internal/models"
)

func TestNewSessionCreatedStampsEvent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	detail := models.SessionDetail{
		Session: models.Session{ID: 4, CoachID: 7, ClientID: 42, Title: "Check-in"},
		Coach:   &models.UserSummary{ID: 7, Name: "Casey"},
	}

	event := NewSessionCreated(detail, now)

	if _, err := uuid.Parse(event.EventID); err != nil {
		t.Fatalf("expected uuid event id, got %q", event.EventID)
	}
	if !event.OccurredAt.Equal(now) || event.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", event.OccurredAt)
	}
	if event.Session.ID != 4 || event.Coach == nil || event.Client != nil {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDecode(t *testing.T) {
	body, err := json.Marshal(SessionCreated{EventID: "abc", Session: models.Session{ID: 9}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Decode[SessionCreated](body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.EventID != "abc" || got.Session.ID != 9 {
		t.Fatalf("unexpected decode %+v", got)
	}

	if _, err := Decode[SessionCreated]([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewSessionReminderIsStableForItsCreation(t *testing.T) {
	created := SessionCreated{EventID: "evt-3", Session: models.Session{ID: 12}}

	first := NewSessionReminder(created, time.Now())
	again := NewSessionReminder(created, time.Now().Add(time.Minute))

	if first.EventID != "reminder-evt-3" || first.EventID != again.EventID {
		t.Fatalf("expected a stable reminder id, got %q and %q", first.EventID, again.EventID)
	}
	if first.SessionID != 12 {
		t.Fatalf("expected session id 12, got %d", first.SessionID)
	}
}
