package server

import (
	"context"
	"log"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"

	"github.com/notifyhub/notifyhub/pkg/bus"
	"github.com/notifyhub/notifyhub/pkg/config"
	"github.com/notifyhub/notifyhub/pkg/notify"
	"github.com/notifyhub/notifyhub/pkg/push"
	"github.com/notifyhub/notifyhub/pkg/registry"
	"github.com/notifyhub/notifyhub/pkg/stream"
)

// Channel is the bus channel notifications are published on.
const Channel = "notification_received"

// recentCacheSize caps the server's in-memory recent-notification cache.
const recentCacheSize = 100

// Server is the notifyhub HTTP surface: subscription registration,
// notification creation with push fan-out, the live SSE stream, and the
// VAPID public key.
type Server struct {
	echo       *echo.Echo
	cfg        *config.Config
	registry   *registry.Registry
	dispatcher *push.Dispatcher
	bus        *bus.Bus
	gateway    *stream.Gateway
	vapid      push.VAPIDKeys
	cron       *cron.Cron

	mu     sync.Mutex
	recent []notify.NotificationRecord
}

// New wires a server from its collaborators.
func New(cfg *config.Config, reg *registry.Registry, dispatcher *push.Dispatcher, b *bus.Bus, vapid push.VAPIDKeys) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:       e,
		cfg:        cfg,
		registry:   reg,
		dispatcher: dispatcher,
		bus:        b,
		gateway:    stream.NewGateway(b, Channel),
		vapid:      vapid,
		cron:       cron.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/vapid-public-key", s.handleVAPIDPublicKey)

	api := s.echo.Group("/api/notifications")
	api.POST("", s.handleCreate)
	api.GET("", s.handleListRecent)
	api.POST("/subscribe", s.handleSubscribe)
	api.DELETE("/subscribe", s.handleUnsubscribe)
	api.GET("/stream", s.handleStream)
	api.POST("/probe", s.handleProbe)
}

// Echo exposes the underlying echo instance, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start runs the HTTP server on the configured port and schedules daily
// registry compaction. It blocks until the server stops.
func (s *Server) Start() error {
	if _, err := s.cron.AddFunc("@daily", func() {
		if err := s.registry.Compact(); err != nil {
			log.Printf("Registry compaction failed: %v", err)
		}
	}); err != nil {
		log.Printf("Failed to schedule registry compaction: %v", err)
	}
	s.cron.Start()

	return s.echo.Start(":" + s.cfg.Port)
}

// Shutdown stops the cron schedule and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cron.Stop()
	return s.echo.Shutdown(ctx)
}

// remember prepends rec to the in-memory recent cache.
func (s *Server) remember(rec notify.NotificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append([]notify.NotificationRecord{rec}, s.recent...)
	if len(s.recent) > recentCacheSize {
		s.recent = s.recent[:recentCacheSize]
	}
}

func (s *Server) recentSnapshot() []notify.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.NotificationRecord, len(s.recent))
	copy(out, s.recent)
	return out
}
