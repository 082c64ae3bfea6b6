// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/howard-nolan/docchat/internal/chat"
	"github.com/howard-nolan/docchat/internal/config"
	"github.com/howard-nolan/docchat/internal/document"
	"github.com/howard-nolan/docchat/internal/metrics"
)

// Asker answers a question with the provider named by selector.
// *chat.Dispatcher is the production implementation.
type Asker interface {
	Ask(ctx context.Context, selector, message string, opts ...chat.AskOption) (*chat.Result, error)
	Supports(selector string) error
}

// Deps are the collaborators the handlers need. Metrics and Logger may be
// nil.
type Deps struct {
	Chat    Asker
	Store   *document.Store
	Texts   *document.TextCache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	chat    Asker
	store   *document.Store
	texts   *document.TextCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		chat:    d.Chat,
		store:   d.Store,
		texts:   d.Texts,
		metrics: d.Metrics,
		logger:  logger,
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID comes first so the access log and the upstream
	// X-Request-Id header carry the same id.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Any origin may call the API; the browser client is served separately.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/deepseek", s.handleDeepSeek)
		r.Post("/upload", s.handleUpload)
		r.Post("/parse-pdf", s.handleParsePDF)
	})

	r.Get("/uploads/{name}", s.handleUploadedFile)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
