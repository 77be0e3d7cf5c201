package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/minicoachy/internal/cache"
	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/policy"
	"github.com/saeid-a/minicoachy/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSessionCacheTTL = time.Minute
	invalidationTimeout    = 2 * time.Second
	maxUpdateAttempts      = 3
)

// errCoachMoved means the session changed coach between the unlocked read
// and the locked one, so the wrong advisory locks are held.
var errCoachMoved = errors.New("session coach changed during update")

type sessionReader interface {
	GetByID(ctx context.Context, sessionID int64) (*models.Session, error)
	List(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, error)
	ListByCoachInWindow(ctx context.Context, coachID int64, from, to time.Time) ([]models.Session, error)
	Recent(ctx context.Context, limit int) ([]models.Session, error)
}

type participantReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error)
}

type schedulingTx interface {
	InCoachTx(ctx context.Context, coachIDs []int64, fn func(repository.SessionWriter) error) error
}

type sessionEventPublisher interface {
	Publish(event events.SessionCreated)
}

type SessionService struct {
	sessions  sessionReader
	users     participantReader
	tx        schedulingTx
	lists     sessionListCache
	publisher sessionEventPublisher
	locks     *coachLocks
	tracer    trace.Tracer
	now       func() time.Time
}

func NewSessionService(
	sessions sessionReader,
	users participantReader,
	tx schedulingTx,
	listCache cache.Cache,
	cacheTTL time.Duration,
	publisher sessionEventPublisher,
) *SessionService {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	return &SessionService{
		sessions:  sessions,
		users:     users,
		tx:        tx,
		lists:     newSessionListCache(listCache, cacheTTL),
		publisher: publisher,
		locks:     newCoachLocks(),
		tracer:    otel.Tracer("github.com/saeid-a/minicoachy/internal/services"),
		now:       time.Now,
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(events.SessionCreated) {}

// SessionInput is a create payload or an update patch. Nil fields are absent;
// on update they keep the stored value. Timestamps stay raw so parse failures
// are reported as validation errors.
type SessionInput struct {
	Title       *string
	Description *string
	StartTime   *string
	EndTime     *string
	Status      *string
	CoachID     *int64
	ClientID    *int64
}

// ValidateAndBuild applies input over existing (nil when creating) and returns
// the resulting session, or a *ValidationError from the first failing layer.
// It does not check overlap.
func (s *SessionService) ValidateAndBuild(
	ctx context.Context,
	input SessionInput,
	actor models.Actor,
	existing *models.Session,
) (*models.Session, error) {
	session := models.Session{Status: models.StatusScheduled}
	if existing != nil {
		session = *existing
	}

	verr := &ValidationError{}

	if input.Title != nil {
		session.Title = strings.TrimSpace(*input.Title)
	}
	if session.Title == "" {
		verr.Add("title", msgBlank)
	}

	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		if description == "" {
			session.Description = nil
		} else {
			session.Description = &description
		}
	}

	applyTimestamp(verr, "start_time", input.StartTime, existing == nil, &session.StartTime)
	applyTimestamp(verr, "end_time", input.EndTime, existing == nil, &session.EndTime)

	if input.ClientID != nil {
		session.ClientID = *input.ClientID
	}
	if session.ClientID <= 0 {
		verr.Add("client_id", msgBlank)
	}

	switch actor.Role {
	case models.RoleCoach:
		session.CoachID = actor.ID
	case models.RoleAdmin:
		if input.CoachID != nil {
			session.CoachID = *input.CoachID
		}
		if session.CoachID <= 0 {
			verr.AddBase(msgCoachRequired)
		}
	case models.RoleClient:
		return nil, ErrForbidden
	default:
		return nil, ErrForbidden
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if !session.EndTime.After(session.StartTime) {
		verr.Add("end_time", msgEndAfterStart)
		return nil, verr
	}

	if input.Status != nil {
		if status := strings.ToLower(strings.TrimSpace(*input.Status)); status != "" {
			session.Status = models.SessionStatus(status)
		}
	}
	if !session.Status.Valid() {
		verr.Add("status", msgInvalidStatus)
		return nil, verr
	}

	if err := s.requireUser(ctx, verr, "client_id", session.ClientID); err != nil {
		return nil, err
	}
	if session.CoachID != actor.ID {
		if err := s.requireUser(ctx, verr, "coach_id", session.CoachID); err != nil {
			return nil, err
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return &session, nil
}

func applyTimestamp(verr *ValidationError, field string, raw *string, required bool, dst *time.Time) {
	if raw == nil {
		if required {
			verr.Add(field, msgBlank)
		}
		return
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		verr.Add(field, msgBlank)
		return
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		verr.Add(field, msgInvalidTime)
		return
	}
	*dst = parsed.UTC()
}

func (s *SessionService) requireUser(ctx context.Context, verr *ValidationError, field string, id int64) error {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			verr.Add(field, msgMustExist)
			return nil
		}
		return fmt.Errorf("load %s %d: %w", field, id, err)
	}
	return nil
}

// CheckOverlap reports whether [start, end) intersects any of the coach's
// sessions other than excludingID. Pass 0 when creating.
func (s *SessionService) CheckOverlap(
	ctx context.Context,
	coachID int64,
	start time.Time,
	end time.Time,
	excludingID int64,
) (bool, error) {
	return hasOverlap(ctx, s.sessions, coachID, start, end, excludingID)
}

type windowLister interface {
	ListByCoachInWindow(ctx context.Context, coachID int64, from, to time.Time) ([]models.Session, error)
}

func hasOverlap(
	ctx context.Context,
	store windowLister,
	coachID int64,
	start time.Time,
	end time.Time,
	excludingID int64,
) (bool, error) {
	candidates, err := store.ListByCoachInWindow(ctx, coachID, start, end)
	if err != nil {
		return false, fmt.Errorf("list sessions for coach %d: %w", coachID, err)
	}
	return len(newTimeline(candidates).conflicts(start, end, excludingID)) > 0, nil
}

func (s *SessionService) CreateSession(
	ctx context.Context,
	actor models.Actor,
	input SessionInput,
) (_ *models.SessionDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.CreateSession",
		trace.WithAttributes(attribute.Int64("actor.id", actor.ID)))
	defer func() { endSpan(span, err) }()

	if !policy.Can(actor, policy.CreateSession, policy.Target{}) {
		return nil, ErrForbidden
	}

	session, err := s.ValidateAndBuild(ctx, input, actor, nil)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("coach.id", session.CoachID))

	unlock := s.locks.lock(session.CoachID)
	err = s.tx.InCoachTx(ctx, []int64{session.CoachID}, func(w repository.SessionWriter) error {
		overlapping, err := hasOverlap(ctx, w, session.CoachID, session.StartTime, session.EndTime, 0)
		if err != nil {
			return err
		}
		if overlapping {
			return overlapError()
		}
		return w.Create(ctx, session)
	})
	unlock()
	if err != nil {
		return nil, translateWriteError(err)
	}

	s.lists.invalidate(ctx, session)

	detail := s.describeOne(ctx, session)
	s.publisher.Publish(events.NewSessionCreated(*detail, s.now()))
	return detail, nil
}

// UpdateSession patches a session and re-runs every validation, including
// overlap with the session itself excluded, whatever fields changed.
func (s *SessionService) UpdateSession(
	ctx context.Context,
	actor models.Actor,
	sessionID int64,
	input SessionInput,
) (_ *models.SessionDetail, err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.UpdateSession",
		trace.WithAttributes(
			attribute.Int64("actor.id", actor.ID),
			attribute.Int64("session.id", sessionID),
		))
	defer func() { endSpan(span, err) }()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, translateReadError(err)
		}
		if !policy.Can(actor, policy.UpdateSession, policy.SessionTarget(current)) {
			return nil, ErrForbidden
		}

		targetCoach := current.CoachID
		if actor.Role == models.RoleAdmin && input.CoachID != nil && *input.CoachID > 0 {
			targetCoach = *input.CoachID
		}
		coachIDs := []int64{current.CoachID, targetCoach}

		var previous, updated *models.Session
		unlock := s.locks.lock(coachIDs...)
		err = s.tx.InCoachTx(ctx, coachIDs, func(w repository.SessionWriter) error {
			locked, err := w.GetByIDForUpdate(ctx, sessionID)
			if err != nil {
				return err
			}
			if locked.CoachID != current.CoachID {
				return errCoachMoved
			}
			if !policy.Can(actor, policy.UpdateSession, policy.SessionTarget(locked)) {
				return ErrForbidden
			}

			candidate, err := s.ValidateAndBuild(ctx, input, actor, locked)
			if err != nil {
				return err
			}
			overlapping, err := hasOverlap(ctx, w, candidate.CoachID, candidate.StartTime, candidate.EndTime, sessionID)
			if err != nil {
				return err
			}
			if overlapping {
				return overlapError()
			}
			if err := w.Update(ctx, candidate); err != nil {
				return err
			}
			previous, updated = locked, candidate
			return nil
		})
		unlock()

		if errors.Is(err, errCoachMoved) {
			continue
		}
		if err != nil {
			return nil, translateWriteError(err)
		}

		s.lists.invalidate(ctx, previous, updated)
		return s.describeOne(ctx, updated), nil
	}
	return nil, fmt.Errorf("update session %d: %w", sessionID, errCoachMoved)
}

func (s *SessionService) DeleteSession(
	ctx context.Context,
	actor models.Actor,
	sessionID int64,
) (err error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.DeleteSession",
		trace.WithAttributes(
			attribute.Int64("actor.id", actor.ID),
			attribute.Int64("session.id", sessionID),
		))
	defer func() { endSpan(span, err) }()

	current, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return translateReadError(err)
	}
	if !policy.Can(actor, policy.DeleteSession, policy.SessionTarget(current)) {
		return ErrForbidden
	}

	var deleted *models.Session
	unlock := s.locks.lock(current.CoachID)
	err = s.tx.InCoachTx(ctx, []int64{current.CoachID}, func(w repository.SessionWriter) error {
		locked, err := w.GetByIDForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if !policy.Can(actor, policy.DeleteSession, policy.SessionTarget(locked)) {
			return ErrForbidden
		}
		if err := w.Delete(ctx, sessionID); err != nil {
			return err
		}
		deleted = locked
		return nil
	})
	unlock()
	if err != nil {
		return translateWriteError(err)
	}

	s.lists.invalidate(ctx, deleted)
	return nil
}

func (s *SessionService) GetSession(
	ctx context.Context,
	actor models.Actor,
	sessionID int64,
) (*models.SessionDetail, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, translateReadError(err)
	}
	if !policy.Can(actor, policy.ViewSession, policy.SessionTarget(session)) {
		return nil, ErrForbidden
	}
	return s.describeOne(ctx, session), nil
}

// ListSessions returns the actor's scope, served from cache when possible.
func (s *SessionService) ListSessions(ctx context.Context, actor models.Actor) ([]models.SessionDetail, error) {
	if !policy.Can(actor, policy.ListSessions, policy.Target{}) {
		return nil, ErrForbidden
	}
	scope, ok := policy.ScopeFor(actor)
	if !ok {
		return nil, ErrForbidden
	}

	key := scope.CacheKey()
	if cached, ok := s.lists.load(ctx, key); ok {
		return cached, nil
	}
	version, versioned := s.lists.version(ctx, key)

	sessions, err := s.sessions.List(ctx, repository.SessionListFilter{
		CoachID:  scope.CoachID,
		ClientID: scope.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	details, err := s.describe(ctx, sessions)
	if err != nil {
		return nil, err
	}
	if versioned {
		s.lists.storeIfCurrent(ctx, key, version, details)
	}
	return details, nil
}

// RecentSessions lists the newest sessions across all coaches. Admin only.
func (s *SessionService) RecentSessions(
	ctx context.Context,
	actor models.Actor,
	limit int,
) ([]models.SessionDetail, error) {
	if !policy.Can(actor, policy.ViewStats, policy.Target{}) {
		return nil, ErrForbidden
	}
	sessions, err := s.sessions.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return s.describe(ctx, sessions)
}

func (s *SessionService) describe(ctx context.Context, sessions []models.Session) ([]models.SessionDetail, error) {
	ids := make([]int64, 0, len(sessions)*2)
	for _, session := range sessions {
		ids = append(ids, session.CoachID, session.ClientID)
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load session participants: %w", err)
	}

	details := make([]models.SessionDetail, 0, len(sessions))
	for _, session := range sessions {
		details = append(details, withParticipants(session, users))
	}
	return details, nil
}

// describeOne never fails: a committed write is reported even when the
// participant lookup does not succeed.
func (s *SessionService) describeOne(ctx context.Context, session *models.Session) *models.SessionDetail {
	users, err := s.users.GetByIDs(ctx, []int64{session.CoachID, session.ClientID})
	if err != nil {
		logger.Warn("load session participants failed", map[string]any{
			"session_id": session.ID,
			"error":      err,
		})
		return &models.SessionDetail{Session: *session}
	}
	detail := withParticipants(*session, users)
	return &detail
}

func withParticipants(session models.Session, users map[int64]models.User) models.SessionDetail {
	detail := models.SessionDetail{Session: session}
	if coach, ok := users[session.CoachID]; ok {
		summary := coach.Summary()
		detail.Coach = &summary
	}
	if client, ok := users[session.ClientID]; ok {
		summary := client.Summary()
		detail.Client = &summary
	}
	return detail
}

func translateReadError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("load session: %w", err)
}

func translateWriteError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrForbidden):
		return err
	case errors.Is(err, repository.ErrSessionOverlap):
		conflict := overlapError()
		conflict.cause = ErrConflict
		return conflict
	case errors.Is(err, repository.ErrMissingUserRef):
		verr = &ValidationError{}
		verr.AddBase("Coach and client must exist")
		return verr
	case errors.Is(err, repository.ErrInvalidInterval):
		verr = &ValidationError{}
		verr.Add("end_time", msgEndAfterStart)
		return verr
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	default:
		return fmt.Errorf("schedule session: %w", err)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
