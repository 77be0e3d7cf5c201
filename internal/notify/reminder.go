package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
)

const DefaultReminderDelay = time.Minute

type delayedPublisher interface {
	PublishDelayed(ctx context.Context, key, messageID string, v any, delay time.Duration) error
}

// ReminderScheduler queues a SessionReminder for every created session.
type ReminderScheduler struct {
	pub   delayedPublisher
	delay time.Duration
	now   func() time.Time
}

func NewReminderScheduler(pub delayedPublisher, delay time.Duration) *ReminderScheduler {
	if delay <= 0 {
		delay = DefaultReminderDelay
	}
	return &ReminderScheduler{pub: pub, delay: delay, now: time.Now}
}

func (s *ReminderScheduler) Name() string { return "reminder" }

func (s *ReminderScheduler) Notify(ctx context.Context, event events.SessionCreated) error {
	reminder := events.NewSessionReminder(event, s.now())
	return s.pub.PublishDelayed(ctx, events.RKSessionReminder, reminder.EventID, reminder, s.delay)
}

type sessionLookup interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
}

type participantLookup interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error)
}

// ReminderSender mails due reminders. The session is re-read first; deleted
// and cancelled sessions get no reminder.
type ReminderSender struct {
	sessions sessionLookup
	users    participantLookup
	mailer   Mailer
	log      *deliveryLog
}

func NewReminderSender(sessions sessionLookup, users participantLookup, mailer Mailer) *ReminderSender {
	return &ReminderSender{
		sessions: sessions,
		users:    users,
		mailer:   mailer,
		log:      newDeliveryLog(deliveryLogSize),
	}
}

func (r *ReminderSender) Send(ctx context.Context, reminder events.SessionReminder) error {
	session, err := r.sessions.GetByID(ctx, reminder.SessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Info("reminder skipped, session deleted", map[string]any{"session_id": reminder.SessionID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session %d: %w", reminder.SessionID, err)
	}
	if session.Status == models.StatusCancelled {
		logger.Info("reminder skipped, session cancelled", map[string]any{"session_id": session.ID})
		return nil
	}

	users, err := r.users.GetByIDs(ctx, []int64{session.CoachID, session.ClientID})
	if err != nil {
		return fmt.Errorf("load participants of session %d: %w", session.ID, err)
	}
	detail := models.SessionDetail{Session: *session}
	if coach, ok := users[session.CoachID]; ok {
		summary := coach.Summary()
		detail.Coach = &summary
	}
	if client, ok := users[session.ClientID]; ok {
		summary := client.Summary()
		detail.Client = &summary
	}
	return sendAll(ctx, r.mailer, r.log, reminder.EventID, SessionReminderMails(detail))
}
