// Package api exposes the review service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/cors"

	"github.com/example/hanzibot/internal/review"
	"github.com/example/hanzibot/pkg/models"
)

// UserStore is the subset of user storage the API needs
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// Options configures the HTTP server
type Options struct {
	// Default size of a due batch when the request has no limit
	DueLimit    int
	CORSOrigins []string
}

// Server serves the JSON API
type Server struct {
	svc    *review.Service
	users  UserStore
	logger *log.Logger
	opts   Options
}

// NewServer creates the API server
func NewServer(svc *review.Service, users UserStore, logger *log.Logger, opts Options) *Server {
	return &Server{svc: svc, users: users, logger: logger, opts: opts}
}

// Handler returns the routed handler with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", s.ping)
	mux.HandleFunc("POST /api/users", s.createUser)
	mux.HandleFunc("GET /api/stats", s.withUser(s.statistics))

	// Items, {kind} is "characters" or "sentences"
	mux.HandleFunc("GET /api/{kind}/due", s.withUser(s.due))
	mux.HandleFunc("GET /api/{kind}/{id}", s.withUser(s.getItem))
	mux.HandleFunc("GET /api/{kind}/{id}/history", s.withUser(s.history))
	mux.HandleFunc("POST /api/{kind}/{id}/review", s.withUser(s.review))
	mux.HandleFunc("POST /api/{kind}/{id}/learn", s.withUser(s.learn))
	mux.HandleFunc("POST /api/{kind}/{id}/seen", s.withUser(s.seen))
	mux.HandleFunc("POST /api/{kind}/{id}/reset", s.withUser(s.reset))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Origin", userHeader},
		MaxAge:         86400,
	})
	return s.logRequests(corsHandler.Handler(mux))
}

// ListenAndServe serves on addr until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
