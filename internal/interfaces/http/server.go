// Package http exposes the trip services over a two-verb RPC surface:
// GET /exec for reads and POST /exec for writes, both selected by action.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/trip-approval/internal/application/service"
)

const requestIDHeader = "X-Request-ID"

func init() {
	// Clients read amounts as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// Logger is the key-value logger used by the transport
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds listener settings
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// DefaultServerConfig listens on :8080
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the collaborators the routes call into
type Dependencies struct {
	Requests  service.RequestService
	Expenses  service.ExpenseService
	Queries   service.QueryService
	Reference service.ReferenceService
	Exporter  Exporter
	Health    HealthFunc
	// Metrics serves GET /metrics when set
	Metrics http.Handler
	// FilesDir is served under /files when set
	FilesDir string
}

// Server routes RPC calls to the services. It is an http.Handler, so tests
// drive it through httptest without opening a socket.
type Server struct {
	config ServerConfig
	engine *gin.Engine
	logger Logger
}

// NewServer registers every route up front
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	mode := gin.ReleaseMode
	if config.Debug {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))

	h := NewHandlers(deps, logger)
	engine.GET("/health", h.HealthCheck)
	engine.GET("/exec", h.Read)
	engine.POST("/exec", h.Write)
	if deps.Exporter != nil {
		engine.GET("/export.xlsx", h.Export)
	}
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.FilesDir != "" {
		engine.Static("/files", deps.FilesDir)
	}

	return &Server{config: config, engine: engine, logger: logger}
}

// accessLog tags each call with a request id, echoed back to the client,
// and logs one line once the handler returns
func accessLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()

		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		logger.Info("HTTP request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"action", c.Query("action"),
			"status", c.Writer.Status(),
			"latency", time.Since(started).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Address is host:port of the listener
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is cancelled, then drains in-flight calls within
// ShutdownTimeout. A listener failure is returned as is.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Address(),
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
			return err
		}
		s.logger.Info("HTTP server stopped")
		return nil
	})
	return g.Wait()
}
