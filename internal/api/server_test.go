package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/example/hanzibot/internal/database"
	"github.com/example/hanzibot/internal/review"
	"github.com/example/hanzibot/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	userID  int64
	charID  int64
	sentID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Connect(database.TypeSQLite, filepath.Join(dir, "api.db"), dir)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	users := database.NewUserRepository(db)
	user := &models.User{Username: "li", NotificationHour: 9, DailyLimit: 20}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	catalog := database.NewCatalog(db)
	c := &models.Character{Hanzi: "水", Pinyin: "shuǐ", Meaning: "water", HSKLevel: 1}
	if _, err := catalog.Characters.Upsert(ctx, c); err != nil {
		t.Fatalf("create character: %v", err)
	}
	s := &models.Sentence{Chinese: "我喝水。", Pinyin: "wǒ hē shuǐ.", English: "I drink water."}
	if _, err := catalog.Sentences.Upsert(ctx, s); err != nil {
		t.Fatalf("create sentence: %v", err)
	}

	logger := log.New(io.Discard)
	svc := review.NewService(database.NewStore(db), catalog, logger,
		review.WithClock(func() time.Time { return t0 }))
	srv := NewServer(svc, users, logger, Options{DueLimit: 20, CORSOrigins: []string{"http://localhost:3000"}})
	return &fixture{handler: srv.Handler(), userID: user.ID, charID: c.ID, sentID: s.ID}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, strconv.FormatInt(f.userID, 10))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) charPath(suffix string) string {
	return "/api/characters/" + strconv.FormatInt(f.charID, 10) + suffix
}

type itemResponse struct {
	ID             int64      `json:"id"`
	Kind           string     `json:"kind"`
	EasinessFactor float64    `json:"easinessFactor"`
	Repetitions    int        `json:"repetitions"`
	Interval       int        `json:"interval"`
	Learning       bool       `json:"learning"`
	NextReviewDate *time.Time `json:"nextReviewDate"`
	FirstSeenDate  *time.Time `json:"firstSeenDate"`
	SeenContext    string     `json:"seenContext"`
	Version        int64      `json:"version"`
	Status         string     `json:"status"`
	DueForReview   bool       `json:"dueForReview"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, want, rec.Body.String())
	}
}

func TestLearnAndReview(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, f.charPath("/learn"), nil)
	expectStatus(t, rec, http.StatusCreated)
	started := decode[itemResponse](t, rec)
	if !started.Learning || started.EasinessFactor != 2.5 || started.ID != f.charID || started.Kind != "character" {
		t.Errorf("learn response = %+v", started)
	}
	if !started.DueForReview || started.Status != "seen" {
		t.Errorf("new item status = %s due=%v", started.Status, started.DueForReview)
	}

	rec = f.do(t, http.MethodPost, f.charPath("/learn"), nil)
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, f.charPath("/review"), map[string]interface{}{"quality": 5, "version": started.Version})
	expectStatus(t, rec, http.StatusOK)
	graded := decode[itemResponse](t, rec)
	if graded.Repetitions != 1 || graded.Interval != 1 || graded.Status != "learning" {
		t.Errorf("review response = %+v", graded)
	}
	if graded.NextReviewDate == nil || !graded.NextReviewDate.Equal(t0.AddDate(0, 0, 1)) {
		t.Errorf("nextReviewDate = %v", graded.NextReviewDate)
	}

	// replaying the same request must be rejected
	rec = f.do(t, http.MethodPost, f.charPath("/review"), map[string]interface{}{"quality": 5, "version": started.Version})
	expectStatus(t, rec, http.StatusConflict)

	rec = f.do(t, http.MethodGet, f.charPath("/history"), nil)
	expectStatus(t, rec, http.StatusOK)
	if logs := decode[[]models.ReviewLog](t, rec); len(logs) != 1 || logs[0].Quality != 5 {
		t.Errorf("history = %+v", logs)
	}

	rec = f.do(t, http.MethodGet, f.charPath(""), nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[itemResponse](t, rec); got.Version != graded.Version {
		t.Errorf("stored version = %d, want %d", got.Version, graded.Version)
	}
}

func TestReviewErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"not learning", http.MethodPost, f.charPath("/review"), map[string]int{"quality": 4}, http.StatusNotFound},
		{"quality too high", http.MethodPost, f.charPath("/review"), map[string]int{"quality": 6}, http.StatusBadRequest},
		{"quality negative", http.MethodPost, f.charPath("/review"), map[string]int{"quality": -1}, http.StatusBadRequest},
		{"quality missing", http.MethodPost, f.charPath("/review"), map[string]int{}, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/api/words/1/review", map[string]int{"quality": 4}, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/api/characters/abc/review", map[string]int{"quality": 4}, http.StatusBadRequest},
		{"learn unknown item", http.MethodPost, "/api/characters/999/learn", nil, http.StatusNotFound},
		{"reset without item", http.MethodPost, f.charPath("/reset"), nil, http.StatusNotFound},
		{"get without item", http.MethodGet, f.charPath(""), nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, rec, tt.status)
			if body := decode[errorResponse](t, rec); body.Error == "" {
				t.Error("error response has no message")
			}
		})
	}
}

func TestUserHeader(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(userHeader, "9999")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(userHeader, "me")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSeenDueAndStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, f.charPath("/seen"), map[string]string{"context": "menu"})
	expectStatus(t, rec, http.StatusOK)
	seen := decode[itemResponse](t, rec)
	if seen.Status != "seen" || seen.SeenContext != "menu" || seen.Learning {
		t.Errorf("seen response = %+v", seen)
	}

	sentence := "/api/sentences/" + strconv.FormatInt(f.sentID, 10)
	expectStatus(t, f.do(t, http.MethodPost, sentence+"/learn", nil), http.StatusCreated)

	rec = f.do(t, http.MethodGet, "/api/sentences/due?limit=5", nil)
	expectStatus(t, rec, http.StatusOK)
	batch := decode[struct {
		Items []itemResponse `json:"items"`
		Total int            `json:"total"`
	}](t, rec)
	if batch.Total != 1 || len(batch.Items) != 1 || batch.Items[0].ID != f.sentID {
		t.Errorf("due batch = %+v", batch)
	}

	// a seen item is not learning and never offered
	rec = f.do(t, http.MethodGet, "/api/characters/due", nil)
	expectStatus(t, rec, http.StatusOK)
	if empty := decode[review.DueBatch](t, rec); empty.Total != 0 || len(empty.Items) != 0 {
		t.Errorf("character due batch = %+v", empty)
	}

	expectStatus(t, f.do(t, http.MethodGet, "/api/sentences/due?limit=x", nil), http.StatusBadRequest)

	rec = f.do(t, http.MethodGet, "/api/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	stats := decode[[]models.Statistics](t, rec)
	if len(stats) != 2 || stats[0].Seen != 1 || stats[1].Total != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestResetEndpoint(t *testing.T) {
	f := newFixture(t)

	expectStatus(t, f.do(t, http.MethodPost, f.charPath("/seen"), nil), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPost, f.charPath("/learn"), nil), http.StatusCreated)
	expectStatus(t, f.do(t, http.MethodPost, f.charPath("/review"), map[string]int{"quality": 5}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPost, f.charPath("/review"), map[string]int{"quality": 5}), http.StatusOK)

	rec := f.do(t, http.MethodPost, f.charPath("/reset"), nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[itemResponse](t, rec)
	if got.Repetitions != 0 || got.Interval != 0 || got.EasinessFactor != 2.5 || got.NextReviewDate != nil {
		t.Errorf("reset response = %+v", got)
	}
	if got.FirstSeenDate == nil {
		t.Error("reset dropped firstSeenDate")
	}
}

func TestCreateUserAndPing(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/ping", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = f.do(t, http.MethodPost, "/api/users", map[string]interface{}{"username": "wang", "notificationHour": 20})
	expectStatus(t, rec, http.StatusCreated)
	user := decode[models.User](t, rec)
	if user.ID == 0 || user.Username != "wang" || user.NotificationHour != 20 || user.DailyLimit != 20 {
		t.Errorf("created user = %+v", user)
	}

	rec = f.do(t, http.MethodPost, "/api/users", map[string]interface{}{"username": "x", "notificationHour": 30})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/characters/1/review", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", userHeader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
