// internal/storage/content_store.go
package storage

import (
	"context"
	"sort"
	"time"

	"github.com/Corphon/ShelfTalk/internal/models"
)

// ContentStore persists content documents. Implementations store
// {content, content_type} exactly as given; deriving plain text is the
// caller's job.
type ContentStore interface {
	// Create inserts doc. doc.ID must be set.
	Create(ctx context.Context, doc *models.ContentDocument) error
	// Update applies patch and returns the stored result.
	Update(ctx context.Context, id string, patch models.ContentPatch) (*models.ContentDocument, error)
	Get(ctx context.Context, id string) (*models.ContentDocument, error)
	// List returns matching documents, newest first.
	List(ctx context.Context, filter models.ContentFilter) ([]*models.ContentDocument, error)
	// IncrementViewCount adds one view and returns the new count.
	IncrementViewCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// sortNewestFirst orders by creation time, then id for stability.
func sortNewestFirst(docs []*models.ContentDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
