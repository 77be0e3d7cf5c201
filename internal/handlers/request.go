package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/services"
)

const (
	defaultRecentLimit = 5
	maxRecentLimit     = 50
)

var errMissingActor = errors.New("missing actor in request context")

// currentActor reads the identity stored by middleware.AuthRequired. An
// unrecognised role yields an actor with the zero role, which every policy
// rule denies.
func currentActor(c *fiber.Ctx) (models.Actor, error) {
	userIDStr, ok := c.Locals("user_id").(string)
	if !ok {
		return models.Actor{}, errMissingActor
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, errMissingActor
	}

	roleStr, _ := c.Locals("role").(string)
	role, err := models.ParseRole(roleStr)
	if err != nil {
		role = 0
	}
	return models.Actor{ID: userID, Role: role}, nil
}

func parseID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseLimit(c *fiber.Ctx) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return defaultRecentLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

// validationFailed renders the error list clients display verbatim.
func validationFailed(c *fiber.Ctx, err error) bool {
	var verr *services.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	_ = c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"errors": verr.Messages()})
	return true
}
