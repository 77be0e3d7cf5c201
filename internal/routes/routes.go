package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saeid-a/minicoachy/internal/cache"
	"github.com/saeid-a/minicoachy/internal/config"
	"github.com/saeid-a/minicoachy/internal/events"
	"github.com/saeid-a/minicoachy/internal/handlers"
	"github.com/saeid-a/minicoachy/internal/middleware"
	"github.com/saeid-a/minicoachy/internal/repository"
	"github.com/saeid-a/minicoachy/internal/services"
	sessionws "github.com/saeid-a/minicoachy/internal/websocket"
)

type eventPublisher interface {
	Publish(event events.SessionCreated)
}

// Dependencies are the long-lived resources owned by main.
type Dependencies struct {
	DB     *pgxpool.Pool
	Cache  cache.Cache
	Events eventPublisher
	Hub    *sessionws.Hub
}

func RegisterRoutes(app *fiber.App, cfg *config.Config, deps Dependencies) {
	userRepo := repository.NewUserRepository(deps.DB)
	sessionRepo := repository.NewSessionRepository(deps.DB)
	schedulingTx := repository.NewSchedulingTx(deps.DB)

	userService := services.NewUserService(userRepo, sessionRepo, deps.Cache)
	sessionService := services.NewSessionService(sessionRepo, userRepo, schedulingTx, deps.Cache, cfg.CacheTTL, deps.Events)

	authHandler := handlers.NewAuthHandler(userService, cfg.JWTSecret, cfg.TokenTTL())
	userHandler := handlers.NewUserHandler(userService, sessionService)
	sessionHandler := handlers.NewSessionHandler(sessionService)

	v1 := app.Group("/api/v1")

	// Public routes come before the protected group, whose middleware
	// matches every path under /api/v1.
	v1.Post("/register", authHandler.Register)
	v1.Post("/login", authHandler.Login)
	if deps.Hub != nil {
		liveHandler := handlers.NewLiveHandler(deps.Hub, cfg.JWTSecret)
		v1.Use("/ws", liveHandler.WebSocketAuth)
		v1.Get("/ws", websocket.New(liveHandler.HandleWebSocket))
	}

	protected := v1.Group("", middleware.AuthRequired(cfg.JWTSecret))
	protected.Get("/me", authHandler.Me)

	users := protected.Group("/users")
	users.Get("", userHandler.ListUsers)
	users.Get("/stats", userHandler.Stats)
	users.Get("/recent_sessions", userHandler.RecentSessions)
	users.Get("/recent_users", userHandler.RecentUsers)
	users.Get("/:id", userHandler.GetUser)
	users.Put("/:id", userHandler.UpdateUser)
	users.Patch("/:id", userHandler.UpdateUser)
	users.Delete("/:id", userHandler.DeleteUser)

	sessions := protected.Group("/sessions")
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Post("", sessionHandler.CreateSession)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Put("/:id", sessionHandler.UpdateSession)
	sessions.Patch("/:id", sessionHandler.UpdateSession)
	sessions.Delete("/:id", sessionHandler.DeleteSession)
}
