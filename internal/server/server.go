package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iamvkosarev/groq-chat/config"
	"github.com/iamvkosarev/groq-chat/internal/storage/uploads"
	"github.com/iamvkosarev/groq-chat/internal/usecase"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	ClientIDHeader       = "X-Client-ID"
	EffectiveModelHeader = "X-Effective-Model"
	OverriddenHeader     = "X-Model-Overridden"

	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

type Deps struct {
	Models   *usecase.ModelUsecase
	Chat     *usecase.ChatUsecase
	Sessions *usecase.SessionHubUsecase
	Uploads  *uploads.UploadStorage
}

type Server struct {
	Deps
	cfg     config.HTTP
	app     *echo.Echo
	address string
}

func New(cfg config.HTTP, deps Deps) (*Server, error) {
	if deps.Models == nil || deps.Chat == nil || deps.Sessions == nil || deps.Uploads == nil {
		return nil, errors.New("server dependencies must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(
		middleware.RequestLoggerWithConfig(
			middleware.RequestLoggerConfig{
				LogLatency: true,
				LogMethod:  true,
				LogURI:     true,
				LogStatus:  true,
				LogError:   true,
				LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
					slog.Info(
						"request",
						"method", v.Method,
						"uri", v.URI,
						"status", v.Status,
						"latency_ms", v.Latency.Milliseconds(),
						"error", v.Error,
					)
					return nil
				},
			},
		),
	)
	e.Use(
		func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				req := c.Request()
				c.SetRequest(req.WithContext(uploads.WithOrigin(req.Context(), req.Host)))
				return next(c)
			}
		},
	)
	if cfg.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxBodyBytes, 10)))
	}

	srv := &Server{
		Deps:    deps,
		cfg:     cfg,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Port),
	}
	srv.registerRoutes()
	return srv, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.Static(uploads.PathPrefix, s.Uploads.Dir())

	api := s.app.Group("/api")
	api.GET("/models", s.handleListModels)
	api.POST("/chat", s.handleChat)
	api.POST("/chat-image", s.handleChatImage)
	api.POST("/transcribe", s.handleTranscribe)
	api.POST("/upload", s.handleUpload)

	sessions := api.Group("/sessions")
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/active", s.handleActiveSession)
	sessions.PUT("/active/model", s.handleSwitchModel)
	sessions.POST("/active/messages", s.handleSendMessage)
	sessions.GET("/:id", s.handleLoadSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
