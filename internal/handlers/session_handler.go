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

type SessionHandler struct {
	service sessionApplicationService
}

type sessionApplicationService interface {
	CreateSession(ctx context.Context, actor models.Actor, input services.SessionInput) (*models.SessionDetail, error)
	UpdateSession(ctx context.Context, actor models.Actor, sessionID int64, input services.SessionInput) (*models.SessionDetail, error)
	DeleteSession(ctx context.Context, actor models.Actor, sessionID int64) error
	GetSession(ctx context.Context, actor models.Actor, sessionID int64) (*models.SessionDetail, error)
	ListSessions(ctx context.Context, actor models.Actor) ([]models.SessionDetail, error)
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type sessionRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Status      *string `json:"status"`
	CoachID     *int64  `json:"coach_id"`
	ClientID    *int64  `json:"client_id"`
}

func (r sessionRequest) input() services.SessionInput {
	return services.SessionInput{
		Title:       r.Title,
		Description: r.Description,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Status:      r.Status,
		CoachID:     r.CoachID,
		ClientID:    r.ClientID,
	}
}

// parseSessionRequest accepts the attributes either at the top level or
// nested under "session".
func parseSessionRequest(c *fiber.Ctx) (sessionRequest, error) {
	var envelope struct {
		Session *sessionRequest `json:"session"`
	}
	body := c.Body()
	if err := json.Unmarshal(body, &envelope); err != nil {
		return sessionRequest{}, err
	}
	if envelope.Session != nil {
		return *envelope.Session, nil
	}
	var req sessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return sessionRequest{}, err
	}
	return req, nil
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	req, err := parseSessionRequest(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}

	detail, err := h.service.CreateSession(c.Context(), actor, req.input())
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": detail})
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	sessions, err := h.service.ListSessions(c.Context(), actor)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid session id")
	}

	session, err := h.service.GetSession(c.Context(), actor, sessionID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) UpdateSession(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid session id")
	}

	req, err := parseSessionRequest(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}

	session, err := h.service.UpdateSession(c.Context(), actor, sessionID, req.input())
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return unauthorized(c)
	}

	sessionID, ok := parseID(c)
	if !ok {
		return badRequest(c, "Invalid session id")
	}

	if err := h.service.DeleteSession(c.Context(), actor, sessionID); err != nil {
		return mapSessionError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func mapSessionError(c *fiber.Ctx, err error) error {
	if validationFailed(c, err) {
		return nil
	}
	switch {
	case errors.Is(err, services.ErrForbidden):
		return forbidden(c)
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		logger.Error("session request failed", map[string]any{
			"path":  c.Path(),
			"error": err,
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
