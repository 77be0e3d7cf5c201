package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/services"
)

type UserHandler struct {
	users    userApplicationService
	sessions recentSessionLister
}

type userApplicationService interface {
	ListUsers(ctx context.Context, actor models.Actor, roleFilter string) ([]models.User, error)
	GetUser(ctx context.Context, actor models.Actor, id int64) (*models.User, error)
	UpdateUser(ctx context.Context, actor models.Actor, id int64, input services.UserInput) (*models.User, error)
	DeleteUser(ctx context.Context, actor models.Actor, id int64) error
	Stats(ctx context.Context, actor models.Actor) (*models.UserStats, error)
	RecentUsers(ctx context.Context, actor models.Actor, limit int) ([]models.User, error)
}

type recentSessionLister interface {
	RecentSessions(ctx context.Context, actor models.Actor, limit int) ([]models.SessionDetail, error)
}

func NewUserHandler(users *services.UserService, sessions *services.SessionService) *UserHandler {
	return &UserHandler{users: users, sessions: sessions}
}

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

func (h *UserHandler) ListUsers(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	users, err := h.users.ListUsers(c.Context(), actor, c.Query("role"))
	if err != nil {
		return mapUserError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}
	userID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	user, err := h.users.GetUser(c.Context(), actor, userID)
	if err != nil {
		return mapUserError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

func (h *UserHandler) UpdateUser(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}
	userID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	var envelope struct {
		User *updateUserRequest `json:"user"`
	}
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req := envelope.User
	if req == nil {
		req = &updateUserRequest{}
		if err := json.Unmarshal(c.Body(), req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	user, err := h.users.UpdateUser(c.Context(), actor, userID, services.UserInput{
		Name:  req.Name,
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		return mapUserError(c, err)
	}
	return c.JSON(fiber.Map{"user": user})
}

func (h *UserHandler) DeleteUser(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}
	userID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid user id")
	}

	if err := h.users.DeleteUser(c.Context(), actor, userID); err != nil {
		return mapUserError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *UserHandler) Stats(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	stats, err := h.users.Stats(c.Context(), actor)
	if err != nil {
		return mapUserError(c, err)
	}
	return c.JSON(stats)
}

func (h *UserHandler) RecentUsers(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	users, err := h.users.RecentUsers(c.Context(), actor, parseLimit(c))
	if err != nil {
		return mapUserError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

func (h *UserHandler) RecentSessions(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	sessions, err := h.sessions.RecentSessions(c.Context(), actor, parseLimit(c))
	if err != nil {
		return mapSessionError(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func mapUserError(c *fiber.Ctx, err error) error {
	if validationFailed(c, err) {
		return nil
	}
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	default:
		logger.Error("user request failed", map[string]any{
			"path":  c.Path(),
			"error": err,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process user request"})
	}
}
