package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/example/hanzibot/internal/database"
	"github.com/example/hanzibot/pkg/models"
)

// userHeader carries the id of the acting user. It identifies, it does not authenticate.
const userHeader = "X-User-ID"

type contextKey string

const userKey contextKey = "user"

// withUser loads the user named by the X-User-ID header and attaches it to the request context
func (s *Server) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(userHeader)
		if raw == "" {
			writeMessage(w, http.StatusUnauthorized, userHeader+" header is required")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid "+userHeader+" header")
			return
		}

		user, err := s.users.GetByID(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			writeMessage(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func userFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey).(*models.User)
	return user
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}
