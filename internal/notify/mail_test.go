package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/models"
)

type recordingMailer struct {
	sent []Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail Mail) error {
	m.sent = append(m.sent, mail)
	return m.err
}

func mailEvent() events.SessionCreated {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return events.SessionCreated{
		EventID: "evt-1",
		Session: models.Session{
			ID:        5,
			Title:     "Goal setting",
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			CoachID:   7,
			ClientID:  42,
		},
		Coach:  &models.UserSummary{ID: 7, Name: "Casey", Email: "coach@example.com", Role: models.RoleCoach},
		Client: &models.UserSummary{ID: 42, Name: "Robin", Email: "client@example.com", Role: models.RoleClient},
	}
}

func TestSessionMailsAddressesBothParticipants(t *testing.T) {
	mails := SessionMails(mailEvent())
	if len(mails) != 2 {
		t.Fatalf("expected 2 mails, got %d", len(mails))
	}

	client, coach := mails[0], mails[1]
	if client.To != "client@example.com" || client.Subject != "Your session 'Goal setting' has been scheduled" {
		t.Fatalf("unexpected client mail %+v", client)
	}
	if !strings.Contains(client.Body, "Casey") || !strings.Contains(client.Body, "Mon 02 Mar 2026 09:00") {
		t.Fatalf("client body missing details: %q", client.Body)
	}
	if coach.To != "coach@example.com" || coach.Subject != "You have a new coaching session: 'Goal setting'" {
		t.Fatalf("unexpected coach mail %+v", coach)
	}
	if !strings.Contains(coach.Body, "Robin") {
		t.Fatalf("coach body missing client: %q", coach.Body)
	}
}

func TestSessionMailsSkipsMissingParticipants(t *testing.T) {
	event := mailEvent()
	event.Client = nil

	mails := SessionMails(event)
	if len(mails) != 1 || mails[0].To != "coach@example.com" {
		t.Fatalf("expected only the coach mail, got %+v", mails)
	}
	if strings.Contains(mails[0].Body, "Client:") {
		t.Fatalf("coach body should not name a missing client: %q", mails[0].Body)
	}
}

func TestMailSinkAttemptsEveryMail(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}

	err := NewMailSink(mailer).Notify(context.Background(), mailEvent())
	if err == nil || !strings.Contains(err.Error(), "client@example.com") {
		t.Fatalf("expected first failure to be reported, got %v", err)
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected both mails attempted, got %d", len(mailer.sent))
	}
}

type flakyMailer struct {
	sent    []Mail
	failFor map[string]int
}

func (m *flakyMailer) Send(_ context.Context, mail Mail) error {
	if m.failFor[mail.To] > 0 {
		m.failFor[mail.To]--
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, mail)
	return nil
}

func TestMailSinkRedeliveryOnlyRetriesFailedMails(t *testing.T) {
	mailer := &flakyMailer{failFor: map[string]int{"coach@example.com": 1}}
	sink := NewMailSink(mailer)
	event := mailEvent()

	if err := sink.Notify(context.Background(), event); err == nil {
		t.Fatalf("expected the coach failure to be reported")
	}
	if err := sink.Notify(context.Background(), event); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(mailer.sent) != 2 {
		t.Fatalf("expected one mail per participant, got %d", len(mailer.sent))
	}
	if mailer.sent[0].To != "client@example.com" || mailer.sent[1].To != "coach@example.com" {
		t.Fatalf("unexpected deliveries %+v", mailer.sent)
	}
}

func TestSessionReminderMailsSubjects(t *testing.T) {
	event := mailEvent()
	detail := models.SessionDetail{Session: event.Session, Coach: event.Coach, Client: event.Client}

	mails := SessionReminderMails(detail)
	if len(mails) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(mails))
	}
	if mails[0].To != "client@example.com" || mails[0].Subject != "Reminder: Your session 'Goal setting' is coming up" {
		t.Fatalf("unexpected client reminder %+v", mails[0])
	}
	if mails[1].To != "coach@example.com" || mails[1].Subject != "Reminder: Coaching session 'Goal setting' is coming up" {
		t.Fatalf("unexpected coach reminder %+v", mails[1])
	}
}

func TestDeliveryLogForgetsOldestBeyondLimit(t *testing.T) {
	log := newDeliveryLog(2)
	log.record("a")
	log.record("b")
	log.record("c")

	if log.sent("a") {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if !log.sent("b") || !log.sent("c") {
		t.Fatalf("expected newest entries to be kept")
	}
}
