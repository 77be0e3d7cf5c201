package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/minicoachy/internal/cache"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/policy"
	"github.com/saeid-a/minicoachy/internal/repository"
	"github.com/saeid-a/minicoachy/pkg/utils"
)

const MinPasswordLength = 6

var ErrInvalidCredentials = errors.New("invalid credentials")

type userStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	ListByRole(ctx context.Context, role models.Role) ([]models.User, error)
	Recent(ctx context.Context, limit int) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}

type sessionDirectory interface {
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, error)
}

type UserService struct {
	users    userStore
	sessions sessionDirectory
	lists    sessionListCache
}

// NewUserService takes the session list cache so profile changes can drop
// the cached listings that embed the user's summary.
func NewUserService(users userStore, sessions sessionDirectory, listCache cache.Cache) *UserService {
	return &UserService{
		users:    users,
		sessions: sessions,
		lists:    newSessionListCache(listCache, 0),
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Register creates an account. Self-registration may choose coach or client;
// admins are provisioned out of band.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	verr := &ValidationError{}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		verr.Add("name", msgBlank)
	}
	email, ok := normalizeEmail(input.Email)
	if !ok {
		verr.Add("email", "is invalid")
	}
	if len(input.Password) < MinPasswordLength {
		verr.Add("password", fmt.Sprintf("is too short (minimum is %d characters)", MinPasswordLength))
	}

	role := models.RoleClient
	if raw := strings.TrimSpace(input.Role); raw != "" {
		parsed, err := models.ParseRole(raw)
		switch {
		case err != nil:
			verr.Add("role", msgInvalidStatus)
		case parsed == models.RoleAdmin:
			verr.Add("role", "cannot be admin")
		default:
			role = parsed
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			verr.Add("email", "has already been taken")
			return nil, verr
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate never reveals whether the email exists.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	normalized, ok := normalizeEmail(email)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ListUsers returns every user for admins, or the users of one role for any
// actor that supplies roleFilter.
func (s *UserService) ListUsers(ctx context.Context, actor models.Actor, roleFilter string) ([]models.User, error) {
	roleFilter = strings.TrimSpace(roleFilter)
	if !policy.Can(actor, policy.ListUsers, policy.Target{RoleFilter: roleFilter != ""}) {
		return nil, ErrForbidden
	}
	if roleFilter == "" {
		return s.users.List(ctx)
	}
	role, err := models.ParseRole(roleFilter)
	if err != nil {
		verr := &ValidationError{}
		verr.Add("role", msgInvalidStatus)
		return nil, verr
	}
	return s.users.ListByRole(ctx, role)
}

func (s *UserService) GetUser(ctx context.Context, actor models.Actor, id int64) (*models.User, error) {
	if !policy.Can(actor, policy.ViewUser, policy.UserTarget(id)) {
		return nil, ErrForbidden
	}
	return s.load(ctx, id)
}

type UserInput struct {
	Name  *string
	Email *string
	Role  *string
}

func (s *UserService) UpdateUser(ctx context.Context, actor models.Actor, id int64, input UserInput) (*models.User, error) {
	if !policy.Can(actor, policy.UpdateUser, policy.UserTarget(id)) {
		return nil, ErrForbidden
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	before := user.Summary()
	verr := &ValidationError{}
	if input.Name != nil {
		user.Name = strings.TrimSpace(*input.Name)
		if user.Name == "" {
			verr.Add("name", msgBlank)
		}
	}
	if input.Email != nil {
		email, ok := normalizeEmail(*input.Email)
		if ok {
			user.Email = email
		} else {
			verr.Add("email", "is invalid")
		}
	}
	if input.Role != nil {
		role, err := models.ParseRole(*input.Role)
		if err != nil {
			verr.Add("role", msgInvalidStatus)
		} else if role != user.Role {
			if actor.Role != models.RoleAdmin {
				return nil, ErrForbidden
			}
			user.Role = role
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if err := s.users.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			verr.Add("email", "has already been taken")
			return nil, verr
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("update user %d: %w", id, err)
		}
	}
	if user.Summary() != before {
		s.invalidateListingsOf(ctx, user.ID)
	}
	return user, nil
}

// invalidateListingsOf drops every cached scope listing a session the user
// takes part in.
func (s *UserService) invalidateListingsOf(ctx context.Context, userID int64) {
	var affected []*models.Session
	for _, filter := range []repository.SessionListFilter{{CoachID: userID}, {ClientID: userID}} {
		sessions, err := s.sessions.List(ctx, filter)
		if err != nil {
			logger.Error("load sessions for cache invalidation failed", map[string]any{
				"user_id": userID,
				"error":   err,
			})
			continue
		}
		for i := range sessions {
			affected = append(affected, &sessions[i])
		}
	}
	s.lists.invalidate(ctx, affected...)
}

func (s *UserService) DeleteUser(ctx context.Context, actor models.Actor, id int64) error {
	if !policy.Can(actor, policy.DeleteUser, policy.UserTarget(id)) {
		return ErrForbidden
	}
	if err := s.users.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrNotFound
		case errors.Is(err, repository.ErrUserHasSessions):
			verr := &ValidationError{}
			verr.AddBase(msgUserHasSession)
			return verr
		default:
			return fmt.Errorf("delete user %d: %w", id, err)
		}
	}
	return nil
}

func (s *UserService) Stats(ctx context.Context, actor models.Actor) (*models.UserStats, error) {
	if !policy.Can(actor, policy.ViewStats, policy.Target{}) {
		return nil, ErrForbidden
	}

	var (
		stats models.UserStats
		err   error
	)
	if stats.TotalUsers, err = s.users.Count(ctx); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if stats.TotalSessions, err = s.sessions.Count(ctx); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if stats.ActiveCoaches, err = s.users.CountByRole(ctx, models.RoleCoach); err != nil {
		return nil, fmt.Errorf("count coaches: %w", err)
	}
	if stats.ActiveClients, err = s.users.CountByRole(ctx, models.RoleClient); err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}
	return &stats, nil
}

func (s *UserService) RecentUsers(ctx context.Context, actor models.Actor, limit int) ([]models.User, error) {
	if !policy.Can(actor, policy.ViewStats, policy.Target{}) {
		return nil, ErrForbidden
	}
	return s.users.Recent(ctx, limit)
}

func (s *UserService) load(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return user, nil
}

func normalizeEmail(raw string) (string, bool) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || parsed.Name != "" {
		return "", false
	}
	return strings.ToLower(parsed.Address), true
}
