package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/config"
	"github.com/Clark-Hu/hidden-spots/internal/events"
	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
	"github.com/Clark-Hu/hidden-spots/internal/logging"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
	"github.com/Clark-Hu/hidden-spots/internal/validation"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	health   HealthChecker
	repo     *repository.Repository
	images   imagehost.Client
	events   events.Publisher
	validate *validation.Validator
	logger   *zap.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. health, images and
// publisher may be nil: health checks then always pass, uploads are rejected and
// events are dropped.
func New(cfg config.Config, health HealthChecker, repo *repository.Repository, images imagehost.Client, publisher events.Publisher, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Location"},
		MaxAge:         300,
	}))

	s := &Server{
		cfg:      cfg,
		health:   health,
		repo:     repo,
		images:   images,
		events:   publisher,
		validate: validation.New(),
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Route("/spots", func(r chi.Router) {
		r.Get("/", s.handleListSpots)
		r.Post("/", s.handleCreateSpot)
		r.Get("/nearby", s.handleNearbySpots)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSpot)
			r.Patch("/", s.handleUpdateSpot)
			r.Put("/", s.handleUpdateSpot)
			r.Post("/rating", s.handleSubmitRating)
			r.Get("/rating", s.handleGetRating)
			r.Post("/comments", s.handleAddComment)
			r.Get("/comments", s.handleListComments)
			r.Post("/gallery", s.handleAddGallery)
			r.Post("/stories", s.handleAddStory)
			r.Get("/stories", s.handleListStories)
			r.Put("/stories/{storyId}", s.handleUpdateStory)
		})
	})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// requestLogger writes one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
