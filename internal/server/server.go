// Package server exposes the daemon's status and control API: the
// name/state/trace visibility the framework owes its operators, plus
// acquire/release endpoints for consumers outside the process.
package server

import (
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/rprocctl/internal/observability"
	"github.com/danmuck/rprocctl/internal/rproc"
)

// Config wires one Server.
type Config struct {
	Name        string
	Registry    *rproc.Registry
	Controller  *rproc.Controller
	Logger      zerolog.Logger
	CorsOrigins []string
}

// Server owns the HTTP surface and the handles it acquired on behalf
// of remote callers.
type Server struct {
	name    string
	reg     *rproc.Registry
	ctl     *rproc.Controller
	log     zerolog.Logger
	started time.Time
	router  *gin.Engine

	mu   sync.Mutex
	held map[string][]*rproc.Handle
}

func New(cfg Config) *Server {
	s := &Server{
		name:    cfg.Name,
		reg:     cfg.Registry,
		ctl:     cfg.Controller,
		log:     cfg.Logger,
		started: time.Now(),
		held:    make(map[string][]*rproc.Handle),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(cfg.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s.router = r
	s.registerRoutes()
	return s
}

// Router returns the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) Run(addr string) error {
	s.log.Info().Str("addr", addr).Msg("status api listening")
	return s.router.Run(addr)
}
