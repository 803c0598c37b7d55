// Package server exposes a Mesh over HTTP using gin.
//
// Routes:
//
//	POST /chat    {user_id, session_id, user_message, image_source?, agent?} -> {reply}
//	GET  /health  -> {status, agents}
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/xagent"
	"github.com/hupe1980/xagent/logging"
)

// Pinger is implemented by stores that can report their health (e.g. Redis).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	// DefaultAgent answers requests that do not name an agent.
	DefaultAgent string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain in Run.
	ShutdownTimeout time.Duration

	Logger logging.Logger
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message" binding:"required"`
	ImageSource string `json:"image_source,omitempty"`
	Agent       string `json:"agent,omitempty"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Server serves a Mesh.
type Server struct {
	mesh   *xagent.Mesh
	opts   Options
	logger logging.Logger
	router *gin.Engine
}

// New builds the gin engine for mesh. When DefaultAgent is empty the first
// registered agent is used.
func New(mesh *xagent.Mesh, optFns ...func(o *Options)) *Server {
	opts := Options{
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.DefaultAgent == "" {
		if agents := mesh.Agents(); len(agents) > 0 {
			opts.DefaultAgent = agents[0].Name()
		}
	}

	s := &Server{
		mesh:   mesh,
		opts:   opts,
		logger: logging.With(opts.Logger, "component", "server"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	router.POST("/chat", s.handleChat)
	router.GET("/health", s.handleHealth)

	s.router = router

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server.listen", "addr", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.logger.Info("server.shutdown")

	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})

		return
	}

	name := req.Agent
	if name == "" {
		name = s.opts.DefaultAgent
	}

	reply, err := s.mesh.Chat(c.Request.Context(), name, req.UserID, req.SessionID, req.UserMessage, req.ImageSource)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, xagent.ErrAgentNotFound) {
			status = http.StatusNotFound
		}

		c.JSON(status, ErrorResponse{Error: "chat_failed", Message: err.Error(), Code: status})

		return
	}

	c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}

func (s *Server) handleHealth(c *gin.Context) {
	names := make([]string, 0)
	for _, a := range s.mesh.Agents() {
		names = append(names, a.Name())
	}

	if p, ok := s.mesh.Store().(Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("server.health.store.error", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "agents": names, "error": err.Error()})

			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "agents": names})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Info("server.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
