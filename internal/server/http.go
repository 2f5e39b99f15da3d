// Package server exposes the engine to the desktop UI over a local HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loomchat/knowledge/internal/compress"
	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/repository"
	"github.com/loomchat/knowledge/internal/retrieval"
	"github.com/loomchat/knowledge/internal/service"
)

// Config holds configuration for the HTTP server
type Config struct {
	Port   int
	APIKey string // optional; empty disables the guard
	Logger *slog.Logger

	// Health optionally checks backing services; a failure turns /healthz
	// into a 503.
	Health func(ctx context.Context) error
}

// Server wraps the HTTP server serving the local API
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// New creates the HTTP server and mounts all routes.
func New(cfg Config, svc *service.KnowledgeService) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLoggingMiddleware(logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/references", handleReferences(svc))
		r.Post("/compress", handleCompress(svc))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{server: server, logger: logger}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

func handleReferences(svc *service.KnowledgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}

		refs, err := svc.Search(r.Context(), req)
		if err != nil {
			respondError(w, statusFor(err), err)
			return
		}
		if refs == nil {
			refs = []retrieval.Reference{}
		}

		respondJSON(w, http.StatusOK, map[string]any{"references": refs})
	}
}

func handleCompress(svc *service.KnowledgeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CompressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}

		results, err := svc.Compress(r.Context(), req)
		if err != nil {
			respondError(w, statusFor(err), err)
			return
		}
		if results == nil {
			results = []compress.RawResult{}
		}

		respondJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var policyErr *compress.PolicyError
	switch {
	case errors.As(err, &policyErr):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, index.ErrGone):
		// The ephemeral index was evicted mid-flight; the caller should
		// retry, which re-ensures and re-ingests.
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// apiKeyMiddleware rejects requests without the expected X-API-Key header.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != apiKey {
				respondError(w, http.StatusUnauthorized, errors.New("invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLoggingMiddleware logs HTTP requests
func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
