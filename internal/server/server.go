package server

import (
	"errors"

	"backend-bravely/internal/config"
	"backend-bravely/internal/metrics"
	"backend-bravely/internal/recording"
	"backend-bravely/internal/stream"
	"backend-bravely/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// SessionTopic is the stream topic that carries every engine event.
const SessionTopic = "session"

type Server struct {
	App        *fiber.App
	Cfg        config.Config
	Engine     *tracking.Engine
	Recordings *recording.Service
	Stream     *stream.Hub
	Metrics    *metrics.Metrics
}

// NewServer wires the HTTP surface. recordings and m may be nil, in which
// case their routes are not registered.
func NewServer(cfg config.Config, engine *tracking.Engine, recordings *recording.Service, hub *stream.Hub, m *metrics.Metrics) *Server {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Use(recover.New())
	app.Use(logger.New())

	if hub == nil {
		hub = stream.NewHub(nil, nil)
	}

	s := &Server{
		App:        app,
		Cfg:        cfg,
		Engine:     engine,
		Recordings: recordings,
		Stream:     hub,
		Metrics:    m,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "phase": s.Engine.Phase()})
	})

	tracking.RegisterRoutes(s.App.Group("/session"), s.Engine)
	if s.Recordings != nil {
		recording.RegisterRoutes(s.App.Group("/sessions"), s.Recordings)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
	if s.Metrics != nil {
		s.App.Get("/metrics", adaptor.HTTPHandler(s.Metrics.Handler()))
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
