// Пакет server — HTTP-сервер WARC Manager с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/warc-manager/internal/api/handlers"
	"github.com/bigkaa/warc-manager/internal/api/middleware"
	"github.com/bigkaa/warc-manager/internal/config"
	"github.com/bigkaa/warc-manager/internal/domain/rbac"
)

// Server — HTTP-сервер WARC Manager.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — зависимости маршрутизатора.
type Deps struct {
	Handler *handlers.APIHandler
	// Auth — JWTAuth.Middleware() или AnonymousAuth() при WM_AUTH_ENABLED=false
	Auth func(http.Handler) http.Handler
	// Validator — OpenAPI-валидация запросов (может быть nil)
	Validator *middleware.OpenAPIValidator
	// Profiles — флаг can_initiate_downloads для подтверждения загрузки
	Profiles middleware.ProfileProvider
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(deps, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AggregationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты. Health, metrics, info и version публичны,
// всё под /api/v1 проходит аутентификацию и OpenAPI-валидацию.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	h := deps.Handler
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/info", h.GetInfo)
	router.Get("/version", h.GetVersion)

	router.Route("/api/v1", func(r chi.Router) {
		auth := deps.Auth
		if auth == nil {
			auth = middleware.AnonymousAuth()
		}
		r.Use(auth)
		if deps.Validator != nil {
			r.Use(deps.Validator.Middleware())
		}

		r.Get("/me", h.GetMe)

		r.Route("/collections", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoleOrScope(rbac.RoleViewer, rbac.ScopeCollectionsRead))
				r.Post("/check", h.CheckCollection)
				r.Get("/", h.ListCollections)
				r.Get("/{collectionID}", h.GetCollection)
			})
			r.With(middleware.RequireDownloadCapability(deps.Profiles, logger)).
				Post("/{collectionID}/confirm", h.ConfirmDownload)
			r.With(middleware.RequireScope(rbac.ScopeDownloadsReport)).
				Post("/{collectionID}/progress", h.ReportProgress)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
