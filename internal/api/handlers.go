package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/example/hanzibot/pkg/models"
)

type reviewRequest struct {
	Quality *int   `json:"quality"`
	Version *int64 `json:"version,omitempty"`
}

type seenRequest struct {
	Context string `json:"context"`
}

type createUserRequest struct {
	Username         string `json:"username"`
	TelegramID       *int64 `json:"telegramId,omitempty"`
	NotificationHour *int   `json:"notificationHour,omitempty"`
	DailyLimit       *int   `json:"dailyLimit,omitempty"`
}

// itemKey builds the item identity from the path and the acting user
func itemKey(r *http.Request) (models.ItemKey, error) {
	kind, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		return models.ItemKey{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return models.ItemKey{}, fmt.Errorf("%w: invalid item id %q", errBadRequest, r.PathValue("id"))
	}
	return models.ItemKey{UserID: userFrom(r).ID, Kind: kind, ItemID: id}, nil
}

// decodeBody reads an optional JSON body into v
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user := &models.User{
		Username:            req.Username,
		TelegramID:          req.TelegramID,
		NotificationEnabled: req.TelegramID != nil,
		NotificationHour:    9,
		DailyLimit:          s.opts.DueLimit,
	}
	if req.NotificationHour != nil {
		if *req.NotificationHour < 0 || *req.NotificationHour > 23 {
			writeMessage(w, http.StatusBadRequest, "notificationHour must be 0-23")
			return
		}
		user.NotificationHour = *req.NotificationHour
	}
	if req.DailyLimit != nil {
		user.DailyLimit = *req.DailyLimit
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) review(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Quality == nil {
		writeMessage(w, http.StatusBadRequest, "quality is required")
		return
	}

	item, err := s.svc.Review(r.Context(), key, *req.Quality, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) learn(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, created, err := s.svc.StartLearning(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

func (s *Server) seen(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req seenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, _, err := s.svc.MarkSeen(r.Context(), key, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.svc.Reset(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.svc.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	key, err := itemKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logs, err := s.svc.History(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) due(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := s.opts.DueLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}

	batch, err := s.svc.Due(r.Context(), userFrom(r).ID, kind, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(r.Context(), userFrom(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
