// Package api exposes the photo library, the artifact cache and preview runs
// over HTTP.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/Rikharthu/bath-wallpaper-preview/internal/artifact"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/config"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/library"
	"github.com/Rikharthu/bath-wallpaper-preview/internal/pipeline"
)

// HealthFunc reports readiness and a JSON-serialisable status body.
type HealthFunc func() (ready bool, status any)

// Deps are the services the HTTP handlers operate on.
type Deps struct {
	Library *library.Library
	Cache   *artifact.Cache
	Runs    *pipeline.Registry
	Health  HealthFunc
}

// Server is the HTTP front end.
type Server struct {
	app  *fiber.App
	deps Deps
}

// New builds the fiber application and registers every route.
func New(cfg config.ServerConfig, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutS) * time.Second,
		BodyLimit:    cfg.BodyLimitMB << 20,
		AppName:      "Wallpaper Preview Service",
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))

	s := &Server{app: app, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health/live", s.live)
	s.app.Get("/health/ready", s.ready)

	v1 := s.app.Group("/api/v1")

	for _, r := range []photoRoutes{roomRoutes, wallpaperRoutes} {
		g := v1.Group("/" + r.path)
		g.Post("", s.addPhoto(r.kind))
		g.Get("", s.listPhotos(r.kind))
		g.Get("/:id", s.getPhoto(r.kind))
		g.Get("/:id/image", s.photoImage(r.kind))
		g.Delete("/:id", s.deletePhoto(r.kind))
	}
	v1.Get("/rooms/:id/mask", s.roomMask)
	v1.Get("/rooms/:id/layout", s.roomLayout)
	v1.Get("/wallpapers/:id/tile", s.wallpaperTile)

	v1.Post("/previews", s.generatePreview)
	v1.Get("/previews", s.listPreviews)
	v1.Get("/previews/:id/image", s.previewImage)
	v1.Delete("/previews/:id", s.deletePreview)

	v1.Get("/runs", s.listRuns)
	v1.Get("/runs/:id", s.getRun)
	v1.Delete("/runs/:id", s.cancelRun)

	v1.Delete("/artifacts/:kind/:id", s.invalidateArtifact)
	v1.Get("/stats", s.stats)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves HTTP on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	slog.Info("starting http server", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

func (s *Server) ready(c fiber.Ctx) error {
	if s.deps.Health == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	ok, status := s.deps.Health()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

func (s *Server) stats(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"cache":       s.deps.Cache.Stats(),
		"active_runs": s.deps.Runs.Active(),
	})
}
