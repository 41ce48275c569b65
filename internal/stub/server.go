// Package stub is a local development backend: it serves the same chat
// and session API as the real service but answers every turn with a
// scripted multi-agent stream. It exists so the synchronizer can be
// developed and demoed without backend credentials.
package stub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/weftlabs/weft/internal/auth"
	"github.com/weftlabs/weft/internal/config"
)

type contextKey string

const contextKeyUserID contextKey = "userID"

// anonymousUserID is assigned when no bearer token is presented. The
// stub accepts anonymous requests so the client can run without a
// token source; a presented token must still be valid.
const anonymousUserID = "dev-user"

// Server is the stub backend HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *memStore
	cfg        config.StubConfig
}

// New creates a Server with all routes wired.
func New(cfg config.StubConfig) *Server {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		store:  newMemStore(),
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}

	router.Route("/api/chat", func(r chi.Router) {
		r.Use(devAuth(cfg.Secret))

		r.Post("/send", s.handleSend)
		r.Get("/agents", s.handleListAgents)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Patch("/", s.handleUpdateSession)
				r.Delete("/", s.handleDeleteSession)
				r.Get("/messages", s.handleListMessages)
			})
		})
	})

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler returns the router, for mounting in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests and blocks until shutdown.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.cfg.Addr).Msg("stub: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("stub.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("stub.Shutdown: %w", err)
	}
	return nil
}

// devAuth validates a bearer token when one is presented and otherwise
// lets the request through as the anonymous development user.
func devAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := anonymousUserID

			if tok := extractBearer(r); tok != "" {
				claims, err := auth.ValidateToken(secret, tok)
				if err != nil {
					log.Warn().Err(err).Str("path", r.URL.Path).Msg("stub: rejected bearer token")
					writeError(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				userID = claims.UserID
			}

			ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return ""
}

func userIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyUserID).(string); ok {
		return id
	}
	return anonymousUserID
}
