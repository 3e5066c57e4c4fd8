package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/pkg/logging"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runner"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// StatusClientClosedRequest is reported when the caller went away mid-run.
const StatusClientClosedRequest = 499

// Server exposes the verification loop over HTTP.
type Server struct {
	runner          *runner.Runner
	engine          *gin.Engine
	logger          *slog.Logger
	serviceName     string
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	maxQuestionLen  int
	rps             float64
	burst           int
}

// Option customises the server.
type Option func(*Server)

// WithLogger overrides the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequestTimeout bounds each /v1/ask call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithRateLimit throttles /v1/ask to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithServiceName sets the otelgin service name.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

// New builds the gin engine and registers the routes.
func New(r *runner.Runner, opts ...Option) *Server {
	s := &Server{
		runner:          r,
		logger:          logging.WithComponent("server"),
		serviceName:     "veriflow",
		shutdownTimeout: 10 * time.Second,
		maxQuestionLen:  4000,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(s.serviceName))
	engine.Use(requestLogger(s.logger))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	ask := []gin.HandlerFunc{}
	if s.rps > 0 {
		ask = append(ask, rateLimiter(s.rps, s.burst))
	}
	v1.POST("/ask", append(ask, s.handleAsk)...)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

type askRequest struct {
	Question      string `json:"question"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type askResponse struct {
	*corrective.Result
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}
	if len([]rune(question)) > s.maxQuestionLen {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("question exceeds %d characters", s.maxQuestionLen)})
		return
	}
	if req.MaxIterations < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "max_iterations cannot be negative"})
		return
	}

	ctx := c.Request.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	var runOpts []corrective.RunOption
	if req.MaxIterations > 0 {
		runOpts = append(runOpts, corrective.MaxIterations(req.MaxIterations))
	}

	res, err := s.runner.Ask(ctx, question, runOpts...)
	switch {
	case errors.Is(err, errorskg.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, corrective.ErrCancelled) && c.Request.Context().Err() != nil:
		_ = c.Error(err)
		c.JSON(StatusClientClosedRequest, errorResponse{Error: "client closed request"})
		return
	case res == nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errText(err)})
		return
	}

	resp := askResponse{Result: res}
	if err != nil {
		_ = c.Error(err)
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c *gin.Context) {
	store := s.runner.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "run log is disabled"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := store.List(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

func (s *Server) handleGetRun(c *gin.Context) {
	store := s.runner.Store()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "run log is disabled"})
		return
	}
	rec, err := store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, errorskg.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
