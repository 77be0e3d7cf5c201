package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
)

const deliveryLogSize = 4096

type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// SessionMails renders the client and coach messages for a new session.
// A participant without an address is skipped.
func SessionMails(event events.SessionCreated) []Mail {
	s := event.Session
	window := sessionWindow(s)

	var mails []Mail
	if hasAddress(event.Client) {
		body := fmt.Sprintf("Hi %s,\n\nYour session '%s' has been scheduled for %s.", event.Client.Name, s.Title, window)
		if event.Coach != nil {
			body += fmt.Sprintf("\nYour coach: %s", event.Coach.Name)
		}
		mails = append(mails, Mail{
			To:      event.Client.Email,
			Subject: fmt.Sprintf("Your session '%s' has been scheduled", s.Title),
			Body:    body,
		})
	}
	if hasAddress(event.Coach) {
		body := fmt.Sprintf("Hi %s,\n\nYou have a new coaching session: '%s' on %s.", event.Coach.Name, s.Title, window)
		if event.Client != nil {
			body += fmt.Sprintf("\nClient: %s", event.Client.Name)
		}
		mails = append(mails, Mail{
			To:      event.Coach.Email,
			Subject: fmt.Sprintf("You have a new coaching session: '%s'", s.Title),
			Body:    body,
		})
	}
	return mails
}

// SessionReminderMails renders the client and coach reminders for detail.
func SessionReminderMails(detail models.SessionDetail) []Mail {
	s := detail.Session
	window := sessionWindow(s)

	var mails []Mail
	if hasAddress(detail.Client) {
		mails = append(mails, Mail{
			To:      detail.Client.Email,
			Subject: fmt.Sprintf("Reminder: Your session '%s' is coming up", s.Title),
			Body:    fmt.Sprintf("Hi %s,\n\nThis is a reminder that your session '%s' is on %s.", detail.Client.Name, s.Title, window),
		})
	}
	if hasAddress(detail.Coach) {
		mails = append(mails, Mail{
			To:      detail.Coach.Email,
			Subject: fmt.Sprintf("Reminder: Coaching session '%s' is coming up", s.Title),
			Body:    fmt.Sprintf("Hi %s,\n\nThis is a reminder that your coaching session '%s' is on %s.", detail.Coach.Name, s.Title, window),
		})
	}
	return mails
}

func sessionWindow(s models.Session) string {
	return fmt.Sprintf("%s - %s", s.StartTime.UTC().Format("Mon 02 Jan 2006 15:04"), s.EndTime.UTC().Format("15:04 MST"))
}

func hasAddress(u *models.UserSummary) bool {
	return u != nil && strings.TrimSpace(u.Email) != ""
}

// ConsoleMailer writes mails to the structured log instead of sending them.
type ConsoleMailer struct{}

func (ConsoleMailer) Send(_ context.Context, mail Mail) error {
	logger.Info("mail", map[string]any{
		"to":      mail.To,
		"subject": mail.Subject,
		"body":    mail.Body,
	})
	return nil
}

// deliveryLog remembers the most recent mails handed to the mailer, so a
// redelivered event only retries the mails that failed.
type deliveryLog struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newDeliveryLog(limit int) *deliveryLog {
	return &deliveryLog{seen: make(map[string]struct{}), limit: limit}
}

func (l *deliveryLog) sent(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key]
	return ok
}

func (l *deliveryLog) record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return
	}
	l.seen[key] = struct{}{}
	l.order = append(l.order, key)
	if len(l.order) > l.limit {
		delete(l.seen, l.order[0])
		l.order = l.order[1:]
	}
}

// sendAll attempts every mail not yet sent for eventID and returns the first
// failure.
func sendAll(ctx context.Context, mailer Mailer, log *deliveryLog, eventID string, mails []Mail) error {
	var first error
	for _, mail := range mails {
		key := eventID + "|" + mail.To + "|" + mail.Subject
		if log.sent(key) {
			continue
		}
		if err := mailer.Send(ctx, mail); err != nil {
			if first == nil {
				first = fmt.Errorf("send to %s: %w", mail.To, err)
			}
			continue
		}
		log.record(key)
	}
	return first
}

// MailSink sends SessionMails for every event.
type MailSink struct {
	mailer Mailer
	log    *deliveryLog
}

func NewMailSink(mailer Mailer) *MailSink {
	return &MailSink{mailer: mailer, log: newDeliveryLog(deliveryLogSize)}
}

func (s *MailSink) Name() string { return "mail" }

func (s *MailSink) Notify(ctx context.Context, event events.SessionCreated) error {
	return sendAll(ctx, s.mailer, s.log, event.EventID, SessionMails(event))
}
