package server

import (
	"time"

	"backend-fieldtrack/internal/auth"
	"backend-fieldtrack/internal/config"
	"backend-fieldtrack/internal/jobstatus"
	"backend-fieldtrack/internal/session"
	"backend-fieldtrack/internal/sink"
	"backend-fieldtrack/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Stream *stream.Hub
	Log    zerolog.Logger
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, log zerolog.Logger) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log),
		Log:    log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	expiry := time.Duration(s.Cfg.SessionExpiryHours) * time.Hour

	// *pgxpool.Pool satisfies db.Querier; a nil pool is only ever handed
	// in by tests that stay on unauthenticated routes.
	sessionSvc := session.NewService(s.DB, s.Stream, s.Redis, expiry)

	tracking := s.App.Group("/tracking")
	session.RegisterRoutes(tracking, sessionSvc, jwtMiddleware)
	sink.RegisterRoutes(tracking, sink.NewStore(s.DB), jwtMiddleware)
	jobstatus.RegisterRoutes(s.App.Group("/jobs"), jobstatus.NewService(s.DB), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
