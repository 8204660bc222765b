// Package httpserver exposes ingestion, verification, reporting and the
// reference clock over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/audit"
	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/metrics"
	"github.com/tinytelemetry/tracevault/internal/model"
	"github.com/tinytelemetry/tracevault/internal/report"
)

const defaultMaxUploadBytes = 32 << 20

// Store is the store contract required by the HTTP API.
type Store interface {
	model.BundleReader
	model.BundlePurger
	Ping(ctx context.Context) error
	BundleCount(ctx context.Context) (int64, error)
}

// Ingester accepts or rejects uploaded artifacts.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*model.LogBundle, error)
}

// Reporter builds and delivers reports.
type Reporter interface {
	Generate(ctx context.Context, deviceID string, start, end time.Time) (*report.Report, string, error)
}

// LiveDigests answers whether a digest is the live companion of a pair.
type LiveDigests interface {
	Matches(p model.Pair, sum string) (bool, error)
}

// Deps wires the server to the rest of the system. Audit is optional.
type Deps struct {
	Store          Store
	Ingest         Ingester
	Reports        Reporter
	Live           LiveDigests
	Audit          *audit.Auditor
	ClockZone      *time.Location
	MaxUploadBytes int64
}

// Server is the TraceVault HTTP API.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// NewServer creates the API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "0.0.0.0:8080"
	}
	if deps.ClockZone == nil {
		deps.ClockZone = time.UTC
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		now:       time.Now,
		logger:    log.With().Str("component", "http").Logger(),
	}
}

// Handler builds the routing engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware(), s.accessLog())
	r.MaxMultipartMemory = s.deps.MaxUploadBytes

	logs := r.Group("/logs")
	logs.POST("/upload", s.handleUpload)
	logs.GET("/device/:deviceId/:category", s.handleListBundles)
	logs.GET("/analyze/:deviceId/:start/:end", s.handleAnalyze)
	logs.GET("/verify/:deviceId/:category/:hash", s.handleVerify)
	logs.GET("/timestamp", s.handleTimestamp)
	logs.DELETE("/all", s.handlePurge)

	r.GET("/api/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
