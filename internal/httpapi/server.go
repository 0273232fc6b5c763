// Package httpapi serves the collector's health and status routes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"klinecollector/internal/ingest"
	"klinecollector/internal/watch"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger is a dependency the health route checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names a dependency for the health payload.
type Check struct {
	Name string
	Dep  Pinger
}

type Deps struct {
	Checks  []Check
	Stats   func() ingest.Stats            // optional
	Watches func() map[string]watch.Result // optional
}

// HealthResponse is the body of GET /.
type HealthResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

const pingTimeout = 2 * time.Second

func NewRouter(deps Deps, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/", health(deps.Checks))
	if deps.Stats != nil {
		router.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Stats())
		})
	}
	if deps.Watches != nil {
		router.GET("/watches", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Watches())
		})
	}
	return router
}

// health answers 200 either way; a failing dependency is reported in the payload.
func health(checks []Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()

		var failed []string
		for _, chk := range checks {
			if chk.Dep == nil {
				continue
			}
			if err := chk.Dep.Ping(ctx); err != nil {
				failed = append(failed, chk.Name+": "+err.Error())
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusOK, HealthResponse{Message: "ERROR", Error: strings.Join(failed, "; ")})
			return
		}
		c.JSON(http.StatusOK, HealthResponse{Message: "OK"})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	logger = logger.Named("http")
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
