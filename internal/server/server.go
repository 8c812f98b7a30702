package server

import (
	"backend-shoptrack/internal/auth"
	"backend-shoptrack/internal/config"
	"backend-shoptrack/internal/ledger"
	"backend-shoptrack/internal/offline"
	"backend-shoptrack/internal/settings"
	"backend-shoptrack/internal/stream"
	"backend-shoptrack/internal/summary"
	"backend-shoptrack/internal/tracker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Stream  *stream.Hub
	Tracker *tracker.Manager
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	ledgerSvc := ledger.NewService(s.DB)
	queue := offline.NewQueue(s.Redis)
	pointer := offline.NewPointer(s.Redis)
	settingsSvc := settings.NewService(s.DB, settings.Defaults(s.Cfg))
	summarySvc := summary.NewService(s.Redis, ledgerSvc, queue)

	s.Tracker = tracker.NewManager(tracker.Deps{
		Ledger:   ledgerSvc,
		Queue:    queue,
		Pointer:  pointer,
		Summary:  summarySvc,
		Settings: settingsSvc,
		Hub:      s.Stream,
	}, tracker.ConfigFrom(s.Cfg))

	tracker.RegisterRoutes(s.App.Group("/tracking"), s.Tracker, jwtMiddleware)
	tracker.RegisterSessionRoutes(s.App.Group("/sessions"), ledgerSvc, queue, jwtMiddleware)
	summary.RegisterRoutes(s.App.Group("/summary"), summarySvc, settingsSvc, jwtMiddleware)
	settings.RegisterRoutes(s.App.Group("/settings"), settingsSvc, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
