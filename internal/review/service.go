// Package review applies learner actions to stored review items.
// Every mutation is a read, a pure scheduler step and a versioned write.
package review

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/example/hanzibot/internal/database"
	sr "github.com/example/hanzibot/internal/spaced_repetition"
	"github.com/example/hanzibot/pkg/models"
)

// DefaultMaxRetries is how many times a write is retried after a version conflict
const DefaultMaxRetries = 3

// ItemStore persists review items and their history
type ItemStore interface {
	GetItem(ctx context.Context, key models.ItemKey) (*models.ReviewableItem, error)
	CreateItem(ctx context.Context, item *models.ReviewableItem) error
	PutItem(ctx context.Context, item *models.ReviewableItem) error
	CommitReview(ctx context.Context, item *models.ReviewableItem, entry *models.ReviewLog) error
	QueryDue(ctx context.Context, userID int64, kind models.ItemKind, now time.Time) ([]models.ReviewableItem, error)
	QueryUnscheduled(ctx context.Context, userID int64, kind models.ItemKind, limit int) ([]models.ReviewableItem, error)
	ListByUser(ctx context.Context, userID int64, kind models.ItemKind) ([]models.ReviewableItem, error)
	ListLogs(ctx context.Context, key models.ItemKey) ([]models.ReviewLog, error)
}

// Catalog tells whether a character or sentence exists
type Catalog interface {
	Exists(ctx context.Context, kind models.ItemKind, id int64) (bool, error)
}

// ItemView is a review item together with its derived fields
type ItemView struct {
	models.ReviewableItem
	Status       models.KnowledgeStatus `json:"status"`
	DueForReview bool                   `json:"dueForReview"`
}

// DueBatch is the answer to a due-items query
type DueBatch struct {
	Items []ItemView `json:"items"`
	Total int        `json:"total"`
}

// Audit compares a stored schedule with the one rebuilt from its log
type Audit struct {
	Stored   models.ReviewableItem `json:"stored"`
	Replayed models.ReviewableItem `json:"replayed"`
	Entries  int                   `json:"entries"`
	Match    bool                  `json:"match"`
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.clock = now }
}

// WithMaxRetries bounds the retries after a version conflict
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// Service coordinates the scheduler and the store
type Service struct {
	store      ItemStore
	catalog    Catalog
	sm         *sr.SM2
	locks      *keyedMutex
	maxRetries int
	clock      func() time.Time
	logger     *log.Logger
}

// NewService creates a review service
func NewService(store ItemStore, catalog Catalog, logger *log.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		catalog:    catalog,
		sm:         sr.NewSM2(),
		locks:      newKeyedMutex(),
		maxRetries: DefaultMaxRetries,
		clock:      time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now is stored with second precision so that SQLite and PostgreSQL compare the same way
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

// View adds the derived status fields to item
func (s *Service) View(item models.ReviewableItem, now time.Time) ItemView {
	return ItemView{
		ReviewableItem: item,
		Status:         s.sm.Status(item),
		DueForReview:   item.DueForReview(now),
	}
}

// retry runs fn until it succeeds, fails with something other than a
// version conflict, or the retry budget is spent.
func (s *Service) retry(ctx context.Context, op string, key models.ItemKey, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying after version conflict", "op", op, "user", key.UserID, "kind", key.Kind, "item", key.ItemID, "attempt", attempt)
		}
		if err = fn(); !errors.Is(err, database.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// Review grades one recall of an item. expectedVersion, when set, must match
// the stored version; otherwise database.ErrConflict is returned without retrying.
func (s *Service) Review(ctx context.Context, key models.ItemKey, quality int, expectedVersion *int64) (*ItemView, error) {
	q, err := sr.ValidateQuality(quality)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	var result models.ReviewableItem
	var now time.Time
	err = s.retry(ctx, "review", key, func() error {
		item, err := s.store.GetItem(ctx, key)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s %d", sr.ErrInvalidItemState, key.Kind, key.ItemID)
		}
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != item.Version {
			return fmt.Errorf("%w: version %d is stale, current is %d", errStaleVersion, *expectedVersion, item.Version)
		}

		now = s.now()
		next, err := s.sm.Grade(*item, q, now)
		if err != nil {
			return err
		}
		entry := &models.ReviewLog{
			Event:            models.EventReview,
			UserID:           key.UserID,
			Kind:             key.Kind,
			ItemID:           key.ItemID,
			Quality:          int(q),
			EasinessBefore:   item.EasinessFactor,
			EasinessAfter:    next.EasinessFactor,
			RepetitionsAfter: next.Repetitions,
			IntervalAfter:    next.Interval,
			ReviewedAt:       now,
		}
		if err := s.store.CommitReview(ctx, &next, entry); err != nil {
			if expectedVersion != nil && errors.Is(err, database.ErrConflict) {
				return fmt.Errorf("%w: item changed during review", errStaleVersion)
			}
			return err
		}
		result = next
		return nil
	})
	if errors.Is(err, errStaleVersion) {
		return nil, fmt.Errorf("%w: %v", database.ErrConflict, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to review %s %d: %w", key.Kind, key.ItemID, err)
	}

	s.logger.Debug("graded item", "user", key.UserID, "kind", key.Kind, "item", key.ItemID,
		"quality", int(q), "ef", result.EasinessFactor, "interval", result.Interval)
	view := s.View(result, now)
	return &view, nil
}

// errStaleVersion marks a conflict that must not be retried
var errStaleVersion = errors.New("stale version")

// StartLearning initializes the SRS fields of an item. Items that are already
// learning are returned unchanged and changed is false.
func (s *Service) StartLearning(ctx context.Context, key models.ItemKey) (view *ItemView, changed bool, err error) {
	if err := s.checkCatalog(ctx, key); err != nil {
		return nil, false, err
	}
	return s.upsert(ctx, "learn", key, func(item models.ReviewableItem, now time.Time) (models.ReviewableItem, bool) {
		return s.sm.StartLearning(item, now)
	})
}

// MarkSeen records the first passive encounter with an item. seenContext is
// stored only on that first encounter.
func (s *Service) MarkSeen(ctx context.Context, key models.ItemKey, seenContext string) (view *ItemView, changed bool, err error) {
	if err := s.checkCatalog(ctx, key); err != nil {
		return nil, false, err
	}
	return s.upsert(ctx, "seen", key, func(item models.ReviewableItem, now time.Time) (models.ReviewableItem, bool) {
		next, ok := s.sm.MarkSeen(item, now)
		if ok && seenContext != "" {
			next.SeenContext = seenContext
		}
		return next, ok
	})
}

// upsert applies step to the stored item, creating the row when it does not exist yet
func (s *Service) upsert(ctx context.Context, op string, key models.ItemKey,
	step func(models.ReviewableItem, time.Time) (models.ReviewableItem, bool)) (*ItemView, bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	var result models.ReviewableItem
	var changed bool
	var now time.Time
	err := s.retry(ctx, op, key, func() error {
		now = s.now()
		item, err := s.store.GetItem(ctx, key)
		switch {
		case errors.Is(err, database.ErrNotFound):
			next, _ := step(models.NewReviewableItem(key), now)
			if err := s.store.CreateItem(ctx, &next); err != nil {
				return err
			}
			result, changed = next, true
			return nil
		case err != nil:
			return err
		}

		next, ok := step(*item, now)
		if !ok {
			result, changed = *item, false
			return nil
		}
		if err := s.store.PutItem(ctx, &next); err != nil {
			return err
		}
		result, changed = next, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to %s %s %d: %w", op, key.Kind, key.ItemID, err)
	}
	if changed {
		s.logger.Debug("updated item", "op", op, "user", key.UserID, "kind", key.Kind, "item", key.ItemID)
	}
	view := s.View(result, now)
	return &view, changed, nil
}

// Reset discards the progress of an item and starts learning it again.
// The reset is written to the review log so that Replay can follow it.
func (s *Service) Reset(ctx context.Context, key models.ItemKey) (*ItemView, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	var result models.ReviewableItem
	var now time.Time
	err := s.retry(ctx, "reset", key, func() error {
		item, err := s.store.GetItem(ctx, key)
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s %d", sr.ErrInvalidItemState, key.Kind, key.ItemID)
		}
		if err != nil {
			return err
		}
		now = s.now()
		next := s.sm.ResetLearning(*item, now)
		entry := &models.ReviewLog{
			Event:          models.EventReset,
			UserID:         key.UserID,
			Kind:           key.Kind,
			ItemID:         key.ItemID,
			EasinessBefore: item.EasinessFactor,
			EasinessAfter:  next.EasinessFactor,
			ReviewedAt:     now,
		}
		if err := s.store.CommitReview(ctx, &next, entry); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset %s %d: %w", key.Kind, key.ItemID, err)
	}
	s.logger.Info("reset item", "user", key.UserID, "kind", key.Kind, "item", key.ItemID)
	view := s.View(result, now)
	return &view, nil
}

// Get returns one item with its derived fields
func (s *Service) Get(ctx context.Context, key models.ItemKey) (*ItemView, error) {
	item, err := s.store.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", key.Kind, key.ItemID, err)
	}
	view := s.View(*item, s.now())
	return &view, nil
}

// Due returns the items a user should review now. When nothing is scheduled
// for now, items that were started but never graded are offered instead.
func (s *Service) Due(ctx context.Context, userID int64, kind models.ItemKind, limit int) (*DueBatch, error) {
	now := s.now()
	candidates, err := s.store.QueryDue(ctx, userID, kind, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = s.store.QueryUnscheduled(ctx, userID, kind, 0)
		if err != nil {
			return nil, err
		}
	}

	selected := s.sm.SelectDue(candidates, now, limit)
	batch := &DueBatch{Items: make([]ItemView, 0, len(selected)), Total: len(candidates)}
	for _, item := range selected {
		batch.Items = append(batch.Items, s.View(item, now))
	}
	return batch, nil
}

// Statistics summarizes a user's progress, one entry per kind
func (s *Service) Statistics(ctx context.Context, userID int64) ([]models.Statistics, error) {
	items, err := s.store.ListByUser(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	now := s.now()

	byKind := make(map[models.ItemKind]*models.Statistics, len(models.Kinds))
	sums := make(map[models.ItemKind]float64, len(models.Kinds))
	learning := make(map[models.ItemKind]int, len(models.Kinds))
	for _, kind := range models.Kinds {
		byKind[kind] = &models.Statistics{Kind: kind}
	}

	for _, item := range items {
		st, ok := byKind[item.Kind]
		if !ok {
			continue
		}
		st.Total++
		switch s.sm.Status(item) {
		case models.StatusSeen:
			st.Seen++
		case models.StatusLearning:
			st.Learning++
		case models.StatusLearned:
			st.Learned++
		}
		if item.NextReviewDate != nil && !item.NextReviewDate.After(now) {
			st.Due++
		}
		if item.Learning {
			sums[item.Kind] += item.EasinessFactor
			learning[item.Kind]++
		}
	}

	stats := make([]models.Statistics, 0, len(models.Kinds))
	for _, kind := range models.Kinds {
		st := byKind[kind]
		if n := learning[kind]; n > 0 {
			st.AvgEasiness = math.Round(sums[kind]/float64(n)*100) / 100
		}
		stats = append(stats, *st)
	}
	return stats, nil
}

// History returns the review log of one item, oldest first
func (s *Service) History(ctx context.Context, key models.ItemKey) ([]models.ReviewLog, error) {
	logs, err := s.store.ListLogs(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s %d: %w", key.Kind, key.ItemID, err)
	}
	return logs, nil
}

// Audit rebuilds the schedule of an item from its review log and compares it
// with the stored state.
func (s *Service) Audit(ctx context.Context, key models.ItemKey) (*Audit, error) {
	item, err := s.store.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", key.Kind, key.ItemID, err)
	}
	logs, err := s.store.ListLogs(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get history of %s %d: %w", key.Kind, key.ItemID, err)
	}

	// Seen-only items have no SRS fields to rebuild
	start := models.NewReviewableItem(key)
	start.CreatedAt = item.CreatedAt
	if item.Learning || len(logs) > 0 {
		start, _ = s.sm.StartLearning(start, item.CreatedAt)
	}
	replayed, err := s.sm.Replay(start, logs)
	if err != nil {
		return nil, err
	}

	return &Audit{
		Stored:   *item,
		Replayed: replayed,
		Entries:  len(logs),
		Match:    sameSchedule(*item, replayed),
	}, nil
}

func sameSchedule(a, b models.ReviewableItem) bool {
	if math.Abs(a.EasinessFactor-b.EasinessFactor) > 1e-9 ||
		a.Repetitions != b.Repetitions ||
		a.Interval != b.Interval {
		return false
	}
	return sameTime(a.NextReviewDate, b.NextReviewDate) && sameTime(a.LastReviewDate, b.LastReviewDate)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Service) checkCatalog(ctx context.Context, key models.ItemKey) error {
	if !key.Kind.IsValid() {
		return fmt.Errorf("unknown item kind %q", key.Kind)
	}
	ok, err := s.catalog.Exists(ctx, key.Kind, key.ItemID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %d is not in the catalog", database.ErrNotFound, key.Kind, key.ItemID)
	}
	return nil
}
