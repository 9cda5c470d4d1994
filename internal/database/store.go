package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/hanzibot/pkg/models"
)

// Store combines review items and their log into the storage used by the review service
type Store struct {
	*ReviewItemRepository
	logs *ReviewLogRepository
}

// NewStore creates a store backed by db
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		ReviewItemRepository: NewReviewItemRepository(db),
		logs:                 NewReviewLogRepository(db),
	}
}

// ListLogs returns the review history of one item, oldest first
func (s *Store) ListLogs(ctx context.Context, key models.ItemKey) ([]models.ReviewLog, error) {
	return s.logs.ListByItem(ctx, key)
}

// Catalog answers whether a character or sentence exists
type Catalog struct {
	Characters *CharacterRepository
	Sentences  *SentenceRepository
}

// NewCatalog creates a catalog backed by db
func NewCatalog(db *sqlx.DB) *Catalog {
	return &Catalog{
		Characters: NewCharacterRepository(db),
		Sentences:  NewSentenceRepository(db),
	}
}

// Exists reports whether the item of the given kind is in the catalog
func (c *Catalog) Exists(ctx context.Context, kind models.ItemKind, id int64) (bool, error) {
	switch kind {
	case models.KindCharacter:
		return c.Characters.Exists(ctx, id)
	case models.KindSentence:
		return c.Sentences.Exists(ctx, id)
	}
	return false, fmt.Errorf("unknown item kind %q", kind)
}
