package review

import (
	"context"
	"errors"
	"io"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/example/hanzibot/internal/database"
	sr "github.com/example/hanzibot/internal/spaced_repetition"
	"github.com/example/hanzibot/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// memStore is an in-memory ItemStore with the same version semantics as the SQL store.
type memStore struct {
	mu        sync.Mutex
	items     map[models.ItemKey]models.ReviewableItem
	logs      map[models.ItemKey][]models.ReviewLog
	reads     int
	conflicts int // CommitReview calls left to fail with ErrConflict
}

func newMemStore() *memStore {
	return &memStore{
		items: make(map[models.ItemKey]models.ReviewableItem),
		logs:  make(map[models.ItemKey][]models.ReviewLog),
	}
}

func (m *memStore) GetItem(_ context.Context, key models.ItemKey) (*models.ReviewableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	item, ok := m.items[key]
	if !ok {
		return nil, database.ErrNotFound
	}
	item = item.Clone()
	return &item, nil
}

func (m *memStore) CreateItem(_ context.Context, item *models.ReviewableItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.Key()]; ok {
		return database.ErrConflict
	}
	item.Version = 1
	item.CreatedAt = t0
	m.items[item.Key()] = item.Clone()
	return nil
}

func (m *memStore) PutItem(_ context.Context, item *models.ReviewableItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(item)
}

func (m *memStore) put(item *models.ReviewableItem) error {
	current, ok := m.items[item.Key()]
	if !ok || current.Version != item.Version {
		return database.ErrConflict
	}
	item.Version++
	m.items[item.Key()] = item.Clone()
	return nil
}

func (m *memStore) CommitReview(_ context.Context, item *models.ReviewableItem, entry *models.ReviewLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return database.ErrConflict
	}
	if err := m.put(item); err != nil {
		return err
	}
	m.logs[item.Key()] = append(m.logs[item.Key()], *entry)
	return nil
}

func (m *memStore) QueryDue(_ context.Context, userID int64, kind models.ItemKind, now time.Time) ([]models.ReviewableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReviewableItem
	for k, it := range m.items {
		if k.UserID == userID && k.Kind == kind && it.Learning && it.NextReviewDate != nil && !it.NextReviewDate.After(now) {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (m *memStore) QueryUnscheduled(_ context.Context, userID int64, kind models.ItemKind, limit int) ([]models.ReviewableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReviewableItem
	for k, it := range m.items {
		if k.UserID == userID && k.Kind == kind && it.Learning && it.NextReviewDate == nil {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, userID int64, kind models.ItemKind) ([]models.ReviewableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReviewableItem
	for k, it := range m.items {
		if k.UserID == userID && (kind == "" || k.Kind == kind) {
			out = append(out, it.Clone())
		}
	}
	return out, nil
}

func (m *memStore) ListLogs(_ context.Context, key models.ItemKey) ([]models.ReviewLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReviewLog(nil), m.logs[key]...), nil
}

// allCatalog accepts item ids up to max
type allCatalog struct{ max int64 }

func (c allCatalog) Exists(_ context.Context, _ models.ItemKind, id int64) (bool, error) {
	return id > 0 && id <= c.max, nil
}

func newTestService(t *testing.T, store ItemStore, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewService(store, allCatalog{max: 100}, log.New(io.Discard), opts...), clock
}

func charKey(id int64) models.ItemKey {
	return models.ItemKey{UserID: 1, Kind: models.KindCharacter, ItemID: id}
}

func assertFloat(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestReviewScenario(t *testing.T) {
	svc, clock := newTestService(t, newMemStore())
	ctx := context.Background()
	key := charKey(1)

	if _, _, err := svc.StartLearning(ctx, key); err != nil {
		t.Fatalf("StartLearning: %v", err)
	}

	steps := []struct {
		quality  int
		ef       float64
		reps     int
		interval int
	}{
		{5, 2.6, 1, 1},
		{5, 2.7, 2, 6},
		{5, 2.8, 3, 17},
		{2, 2.48, 0, 1},
		{5, 2.58, 1, 1},
	}
	for i, step := range steps {
		got, err := svc.Review(ctx, key, step.quality, nil)
		if err != nil {
			t.Fatalf("step %d: Review: %v", i, err)
		}
		assertFloat(t, "ef", got.EasinessFactor, step.ef)
		if got.Repetitions != step.reps || got.Interval != step.interval {
			t.Errorf("step %d: reps=%d interval=%d, want %d and %d", i, got.Repetitions, got.Interval, step.reps, step.interval)
		}
		want := clock.Now().AddDate(0, 0, step.interval)
		if got.NextReviewDate == nil || !got.NextReviewDate.Equal(want) {
			t.Errorf("step %d: nextReviewDate = %v, want %v", i, got.NextReviewDate, want)
		}
		clock.Advance(days(step.interval))
	}

	history, err := svc.History(ctx, key)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != len(steps) {
		t.Errorf("history has %d entries, want %d", len(history), len(steps))
	}
}

func TestReviewInvalidQualityReadsNothing(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)

	for _, q := range []int{-1, 6, 42} {
		_, err := svc.Review(context.Background(), charKey(1), q, nil)
		if !errors.Is(err, sr.ErrInvalidQuality) {
			t.Errorf("quality %d: err = %v, want ErrInvalidQuality", q, err)
		}
	}
	if store.reads != 0 {
		t.Errorf("store was read %d times", store.reads)
	}
}

func TestReviewRequiresLearning(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	if _, err := svc.Review(ctx, charKey(1), 4, nil); !errors.Is(err, sr.ErrInvalidItemState) {
		t.Errorf("missing item: err = %v, want ErrInvalidItemState", err)
	}

	// seen but never started
	if _, _, err := svc.MarkSeen(ctx, charKey(2), "reader"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if _, err := svc.Review(ctx, charKey(2), 4, nil); !errors.Is(err, sr.ErrInvalidItemState) {
		t.Errorf("seen item: err = %v, want ErrInvalidItemState", err)
	}
	got, err := svc.Get(ctx, charKey(2))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Learning || got.Status != models.StatusSeen {
		t.Errorf("item was initialized by a failed review: %+v", got)
	}
}

func TestReviewStaleVersion(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	key := charKey(1)

	started, _, err := svc.StartLearning(ctx, key)
	if err != nil {
		t.Fatalf("StartLearning: %v", err)
	}
	seen := started.Version
	if _, err := svc.Review(ctx, key, 5, &seen); err != nil {
		t.Fatalf("first Review: %v", err)
	}

	// the same submission arriving twice must not be applied twice
	_, err = svc.Review(ctx, key, 5, &seen)
	if !errors.Is(err, database.ErrConflict) {
		t.Fatalf("duplicate Review err = %v, want ErrConflict", err)
	}
	got, _ := svc.Get(ctx, key)
	if got.Repetitions != 1 {
		t.Errorf("repetitions = %d, want 1", got.Repetitions)
	}
	if logs, _ := svc.History(ctx, key); len(logs) != 1 {
		t.Errorf("history has %d entries, want 1", len(logs))
	}
}

func TestReviewRetriesConflicts(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, store, WithMaxRetries(2))
	ctx := context.Background()
	key := charKey(1)

	if _, _, err := svc.StartLearning(ctx, key); err != nil {
		t.Fatalf("StartLearning: %v", err)
	}

	store.conflicts = 2
	got, err := svc.Review(ctx, key, 4, nil)
	if err != nil {
		t.Fatalf("Review after 2 conflicts: %v", err)
	}
	if got.Repetitions != 1 {
		t.Errorf("repetitions = %d, want 1", got.Repetitions)
	}

	store.conflicts = 3
	if _, err := svc.Review(ctx, key, 4, nil); !errors.Is(err, database.ErrConflict) {
		t.Errorf("Review after 3 conflicts err = %v, want ErrConflict", err)
	}
	current, _ := svc.Get(ctx, key)
	if current.Repetitions != 1 {
		t.Errorf("failed review changed the item: reps = %d", current.Repetitions)
	}
}

func TestConcurrentReviewsLoseNothing(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Connect(database.TypeSQLite, filepath.Join(dir, "review.db"), dir)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	user := &models.User{Username: "li", NotificationHour: 9, DailyLimit: 20}
	if err := database.NewUserRepository(db).Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	c := &models.Character{Hanzi: "学", Pinyin: "xué", Meaning: "study"}
	if _, err := database.NewCharacterRepository(db).Upsert(ctx, c); err != nil {
		t.Fatalf("create character: %v", err)
	}
	key := models.ItemKey{UserID: user.ID, Kind: models.KindCharacter, ItemID: c.ID}

	// two services over one database behave like two server processes
	newSvc := func() *Service {
		return NewService(database.NewStore(db), database.NewCatalog(db), log.New(io.Discard),
			WithClock(func() time.Time { return t0 }), WithMaxRetries(20))
	}
	a, b := newSvc(), newSvc()
	if _, _, err := a.StartLearning(ctx, key); err != nil {
		t.Fatalf("StartLearning: %v", err)
	}

	const perService = 4
	var wg sync.WaitGroup
	errs := make(chan error, 2*perService)
	for _, svc := range []*Service{a, b} {
		for i := 0; i < perService; i++ {
			wg.Add(1)
			go func(svc *Service) {
				defer wg.Done()
				if _, err := svc.Review(ctx, key, 4, nil); err != nil {
					errs <- err
				}
			}(svc)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Review: %v", err)
	}

	got, err := a.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Repetitions != 2*perService {
		t.Errorf("repetitions = %d, want %d", got.Repetitions, 2*perService)
	}
	// created at version 1, one bump per review
	if got.Version != int64(1+2*perService) {
		t.Errorf("version = %d, want %d", got.Version, 1+2*perService)
	}
	logs, err := a.History(ctx, key)
	if err != nil || len(logs) != 2*perService {
		t.Errorf("history = %d entries, %v; want %d", len(logs), err, 2*perService)
	}
	if a.locks.size() != 0 || b.locks.size() != 0 {
		t.Errorf("item locks were not released")
	}
}

func TestStartLearningAndMarkSeen(t *testing.T) {
	svc, clock := newTestService(t, newMemStore())
	ctx := context.Background()
	key := charKey(3)

	seen, changed, err := svc.MarkSeen(ctx, key, "chapter 1")
	if err != nil || !changed {
		t.Fatalf("MarkSeen = %v, %v", changed, err)
	}
	if seen.Status != models.StatusSeen || seen.SeenContext != "chapter 1" {
		t.Errorf("after MarkSeen: %+v", seen)
	}

	clock.Advance(time.Hour)
	again, changed, err := svc.MarkSeen(ctx, key, "chapter 2")
	if err != nil || changed {
		t.Fatalf("second MarkSeen = %v, %v", changed, err)
	}
	if !again.FirstSeenDate.Equal(t0) || again.SeenContext != "chapter 1" {
		t.Errorf("second MarkSeen changed the item: %+v", again)
	}

	started, changed, err := svc.StartLearning(ctx, key)
	if err != nil || !changed {
		t.Fatalf("StartLearning = %v, %v", changed, err)
	}
	assertFloat(t, "ef", started.EasinessFactor, 2.5)
	if !started.Learning || started.Repetitions != 0 || started.Interval != 0 || !started.FirstSeenDate.Equal(t0) {
		t.Errorf("after StartLearning: %+v", started)
	}
	if !started.DueForReview {
		t.Errorf("a started item that was never scheduled should be due")
	}

	if _, err := svc.Review(ctx, key, 5, nil); err != nil {
		t.Fatalf("Review: %v", err)
	}
	kept, changed, err := svc.StartLearning(ctx, key)
	if err != nil || changed {
		t.Fatalf("second StartLearning = %v, %v", changed, err)
	}
	if kept.Repetitions != 1 {
		t.Errorf("second StartLearning lost progress: %+v", kept)
	}

	if _, _, err := svc.StartLearning(ctx, charKey(1000)); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("unknown catalog item err = %v, want ErrNotFound", err)
	}
}

func TestDueSelection(t *testing.T) {
	svc, clock := newTestService(t, newMemStore())
	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		if _, _, err := svc.StartLearning(ctx, charKey(id)); err != nil {
			t.Fatalf("StartLearning: %v", err)
		}
	}

	// nothing scheduled yet: fall back to started items by id
	batch, err := svc.Due(ctx, 1, models.KindCharacter, 2)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if batch.Total != 4 || len(batch.Items) != 2 || batch.Items[0].ItemID != 1 || batch.Items[1].ItemID != 2 {
		t.Fatalf("fallback batch = %+v", batch)
	}

	// item 3 lapses (due tomorrow, low EF), item 1 succeeds (due tomorrow)
	if _, err := svc.Review(ctx, charKey(1), 5, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Review(ctx, charKey(3), 0, nil); err != nil {
		t.Fatal(err)
	}

	batch, err = svc.Due(ctx, 1, models.KindCharacter, 0)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if batch.Total != 2 || len(batch.Items) != 2 {
		t.Fatalf("fallback after reviews = %+v", batch)
	}
	if batch.Items[0].ItemID != 2 || batch.Items[1].ItemID != 4 {
		t.Errorf("fallback order = %d,%d; want 2,4", batch.Items[0].ItemID, batch.Items[1].ItemID)
	}

	clock.Advance(days(1))
	batch, err = svc.Due(ctx, 1, models.KindCharacter, 0)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(batch.Items) != 2 {
		t.Fatalf("due batch = %+v", batch)
	}
	// same due date: lower EF first
	if batch.Items[0].ItemID != 3 || batch.Items[1].ItemID != 1 {
		t.Errorf("due order = %d,%d; want 3,1", batch.Items[0].ItemID, batch.Items[1].ItemID)
	}

	empty, err := svc.Due(ctx, 2, models.KindSentence, 10)
	if err != nil || empty.Total != 0 || len(empty.Items) != 0 {
		t.Errorf("Due for empty user = %+v, %v", empty, err)
	}
}

func TestResetAndAudit(t *testing.T) {
	svc, clock := newTestService(t, newMemStore())
	ctx := context.Background()
	key := charKey(5)

	if _, err := svc.Reset(ctx, key); !errors.Is(err, sr.ErrInvalidItemState) {
		t.Fatalf("Reset missing item err = %v, want ErrInvalidItemState", err)
	}

	if _, _, err := svc.MarkSeen(ctx, key, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.StartLearning(ctx, key); err != nil {
		t.Fatal(err)
	}
	for _, q := range []int{5, 4, 3} {
		if _, err := svc.Review(ctx, key, q, nil); err != nil {
			t.Fatal(err)
		}
		clock.Advance(days(2))
	}

	reset, err := svc.Reset(ctx, key)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	assertFloat(t, "ef", reset.EasinessFactor, 2.5)
	if reset.Repetitions != 0 || reset.Interval != 0 || reset.LastReviewDate != nil || reset.NextReviewDate != nil {
		t.Errorf("after Reset: %+v", reset)
	}
	if reset.FirstSeenDate == nil || !reset.FirstSeenDate.Equal(t0) {
		t.Errorf("Reset dropped firstSeenDate: %v", reset.FirstSeenDate)
	}

	clock.Advance(days(1))
	if _, err := svc.Review(ctx, key, 4, nil); err != nil {
		t.Fatal(err)
	}

	audit, err := svc.Audit(ctx, key)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if !audit.Match || audit.Entries != 5 {
		t.Errorf("audit = %+v", audit)
	}
}

func TestAuditWithoutReviews(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())
	ctx := context.Background()

	if _, _, err := svc.MarkSeen(ctx, charKey(6), "reader"); err != nil {
		t.Fatal(err)
	}
	audit, err := svc.Audit(ctx, charKey(6))
	if err != nil {
		t.Fatalf("Audit seen item: %v", err)
	}
	if !audit.Match || audit.Entries != 0 || audit.Replayed.EasinessFactor != 0 {
		t.Errorf("seen-only audit = %+v", audit)
	}

	started, _, err := svc.StartLearning(ctx, charKey(7))
	if err != nil {
		t.Fatal(err)
	}
	audit, err = svc.Audit(ctx, charKey(7))
	if err != nil {
		t.Fatalf("Audit started item: %v", err)
	}
	if !audit.Match || audit.Entries != 0 {
		t.Errorf("started audit = %+v", audit)
	}
	if started.Status != models.StatusUnknown || started.FirstSeenDate != nil {
		t.Errorf("StartLearning marked the item seen: %+v", started)
	}
}

func TestStatistics(t *testing.T) {
	svc, clock := newTestService(t, newMemStore())
	ctx := context.Background()

	if _, _, err := svc.MarkSeen(ctx, charKey(1), ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.StartLearning(ctx, charKey(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Review(ctx, charKey(2), 4, nil); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.StartLearning(ctx, charKey(3)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.Review(ctx, charKey(3), 5, nil); err != nil {
			t.Fatal(err)
		}
	}
	sentence := models.ItemKey{UserID: 1, Kind: models.KindSentence, ItemID: 1}
	if _, _, err := svc.StartLearning(ctx, sentence); err != nil {
		t.Fatal(err)
	}
	clock.Advance(days(1))

	stats, err := svc.Statistics(ctx, 1)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d entries, want 2", len(stats))
	}
	chars := stats[0]
	if chars.Kind != models.KindCharacter || chars.Total != 3 || chars.Seen != 1 || chars.Learning != 1 || chars.Learned != 1 {
		t.Errorf("character stats = %+v", chars)
	}
	// item 2 is due after one day, item 3 only after 17
	if chars.Due != 1 {
		t.Errorf("due = %d, want 1", chars.Due)
	}
	assertFloat(t, "avg ef", chars.AvgEasiness, 2.65)

	sentences := stats[1]
	// started without being seen and never reviewed is still unknown
	if sentences.Total != 1 || sentences.Seen != 0 || sentences.Learning != 0 || sentences.Learned != 0 {
		t.Errorf("sentence stats = %+v", sentences)
	}
}
