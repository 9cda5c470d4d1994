package spaced_repetition

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/hanzibot/pkg/models"
)

// Sentinel errors returned by the scheduler. Use errors.Is to check them.
var (
	ErrInvalidQuality   = errors.New("spaced_repetition: quality must be between 0 and 5")
	ErrInvalidItemState = errors.New("spaced_repetition: item has not started learning")
)

// SM2 implements the SuperMemo-2 algorithm for spaced repetition
type SM2 struct {
	// Quality at or above this value counts as a successful recall
	PassThreshold QualityResponse
	// Lower bound for the easiness factor
	MinEasiness float64
	// Easiness factor assigned when learning starts
	InitialEasiness float64
	// Repetitions and easiness an item needs to count as learned
	LearnedRepetitions int
	LearnedEasiness    float64
}

// NewSM2 creates a new SM2 instance with the default settings
func NewSM2() *SM2 {
	return &SM2{
		PassThreshold:      QualityCorrectDifficult,
		MinEasiness:        1.3,
		InitialEasiness:    2.5,
		LearnedRepetitions: 3,
		LearnedEasiness:    2.0,
	}
}

// QualityResponse represents the quality of response in SM-2
type QualityResponse int

const (
	// Complete blackout, unable to recall
	QualityBlackout QualityResponse = 0
	// Incorrect response but remembered upon seeing the correct answer
	QualityIncorrect QualityResponse = 1
	// Incorrect response but the correct answer felt familiar
	QualityIncorrectFamiliar QualityResponse = 2
	// Correct response but required significant effort
	QualityCorrectDifficult QualityResponse = 3
	// Correct response after some hesitation
	QualityCorrectHesitation QualityResponse = 4
	// Perfect response with no hesitation
	QualityPerfect QualityResponse = 5
)

// IsValid reports whether q is within 0..5.
func (q QualityResponse) IsValid() bool {
	return q >= QualityBlackout && q <= QualityPerfect
}

// ValidateQuality converts a raw rating into a QualityResponse.
func ValidateQuality(quality int) (QualityResponse, error) {
	q := QualityResponse(quality)
	if !q.IsValid() {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidQuality, quality)
	}
	return q, nil
}

// Grade applies one review to item and returns the new state. The input is not modified.
func (sm *SM2) Grade(item models.ReviewableItem, quality QualityResponse, now time.Time) (models.ReviewableItem, error) {
	if !quality.IsValid() {
		return item, fmt.Errorf("%w: got %d", ErrInvalidQuality, int(quality))
	}
	if !item.Learning {
		return item, ErrInvalidItemState
	}

	next := item.Clone()
	next.EasinessFactor = sm.nextEasiness(item.EasinessFactor, quality)

	if quality >= sm.PassThreshold {
		next.Repetitions = item.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.Interval = 1
		case 2:
			next.Interval = 6
		default:
			next.Interval = int(math.Round(float64(item.Interval) * next.EasinessFactor))
		}
	} else {
		// Lapse: start the repetition sequence over, review again tomorrow
		next.Repetitions = 0
		next.Interval = 1
	}

	reviewed := now
	due := now.AddDate(0, 0, next.Interval)
	next.LastReviewDate = &reviewed
	next.NextReviewDate = &due
	return next, nil
}

// nextEasiness computes EF' = EF + (0.1 - (5-q)*(0.08 + (5-q)*0.02)) clamped to the floor
func (sm *SM2) nextEasiness(ef float64, quality QualityResponse) float64 {
	d := 5.0 - float64(quality)
	newEF := ef + (0.1 - d*(0.08+d*0.02))
	if newEF < sm.MinEasiness {
		newEF = sm.MinEasiness
	}
	return newEF
}

// SelectDue returns the items due at now, most overdue first. When nothing is
// due it falls back to learning items that were never scheduled. limit <= 0
// means no limit.
func (sm *SM2) SelectDue(items []models.ReviewableItem, now time.Time, limit int) []models.ReviewableItem {
	var due []models.ReviewableItem
	for _, it := range items {
		if it.NextReviewDate != nil && !it.NextReviewDate.After(now) {
			due = append(due, it)
		}
	}

	if len(due) > 0 {
		sort.SliceStable(due, func(i, j int) bool {
			a, b := due[i], due[j]
			if !a.NextReviewDate.Equal(*b.NextReviewDate) {
				return a.NextReviewDate.Before(*b.NextReviewDate)
			}
			if a.EasinessFactor != b.EasinessFactor {
				return a.EasinessFactor < b.EasinessFactor
			}
			return a.ItemID < b.ItemID
		})
	} else {
		for _, it := range items {
			if it.Learning && it.NextReviewDate == nil {
				due = append(due, it)
			}
		}
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].ItemID < due[j].ItemID
		})
	}

	if limit > 0 && len(due) > limit {
		return due[:limit]
	}
	return due
}

// MarkSeen records the first passive encounter with an item. It reports
// whether anything changed; an item that was already seen is left alone.
func (sm *SM2) MarkSeen(item models.ReviewableItem, now time.Time) (models.ReviewableItem, bool) {
	if item.FirstSeenDate != nil {
		return item, false
	}
	next := item.Clone()
	seen := now
	next.FirstSeenDate = &seen
	return next, true
}

// StartLearning initializes the SRS fields. Items that are already learning
// keep their progress and the call reports false. firstSeenDate is left as it
// is, so an item started without being seen stays unknown until its first grade.
func (sm *SM2) StartLearning(item models.ReviewableItem, now time.Time) (models.ReviewableItem, bool) {
	if item.Learning {
		return item, false
	}
	return sm.initialize(item), true
}

// ResetLearning discards all accumulated progress and re-initializes the item
// the same way StartLearning does. firstSeenDate is kept.
func (sm *SM2) ResetLearning(item models.ReviewableItem, now time.Time) models.ReviewableItem {
	return sm.initialize(item)
}

func (sm *SM2) initialize(item models.ReviewableItem) models.ReviewableItem {
	next := item.Clone()
	next.Learning = true
	next.EasinessFactor = sm.InitialEasiness
	next.Repetitions = 0
	next.Interval = 0
	next.LastReviewDate = nil
	next.NextReviewDate = nil
	return next
}

// Status derives the knowledge status from the SRS fields.
func (sm *SM2) Status(item models.ReviewableItem) models.KnowledgeStatus {
	switch {
	case item.LastReviewDate != nil && sm.IsLearned(item):
		return models.StatusLearned
	case item.LastReviewDate != nil:
		return models.StatusLearning
	case item.FirstSeenDate != nil:
		return models.StatusSeen
	}
	return models.StatusUnknown
}

// IsLearned determines if an item is considered "learned":
// it has been reviewed, recalled at least LearnedRepetitions times in a row
// and its easiness has not dropped below LearnedEasiness.
func (sm *SM2) IsLearned(item models.ReviewableItem) bool {
	return item.LastReviewDate != nil &&
		item.Repetitions >= sm.LearnedRepetitions &&
		item.EasinessFactor >= sm.LearnedEasiness
}

// Replay rebuilds the schedule of start from an ordered review log. Reset
// events re-initialize the item; review events are graded at their timestamp.
// An empty log returns start unchanged.
func (sm *SM2) Replay(start models.ReviewableItem, logs []models.ReviewLog) (models.ReviewableItem, error) {
	item := start
	if !item.Learning && len(logs) > 0 {
		item = sm.initialize(item)
	}
	for i, entry := range logs {
		switch entry.Event {
		case models.EventReset:
			item = sm.ResetLearning(item, entry.ReviewedAt)
		case models.EventReview, "":
			next, err := sm.Grade(item, QualityResponse(entry.Quality), entry.ReviewedAt)
			if err != nil {
				return item, fmt.Errorf("failed to replay entry %d (%s): %w", i, entry.ID, err)
			}
			item = next
		default:
			return item, fmt.Errorf("failed to replay entry %d: unknown event %q", i, entry.Event)
		}
	}
	return item, nil
}
