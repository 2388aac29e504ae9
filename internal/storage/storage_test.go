// internal/storage/storage_test.go
package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileContentStore {
	t.Helper()
	files, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewFileContentStore(files)
}

func testDoc(id, owner string, created time.Time, tags ...string) *models.ContentDocument {
	return &models.ContentDocument{
		ID:          id,
		Title:       "Doc " + id,
		Content:     "# Heading\n\n| A | B |",
		ContentType: models.ContentTypeMarkdown,
		Category:    "Technology",
		Tags:        tags,
		CreatedBy:   owner,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestFileContentStoreRoundTripsContent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc := testDoc("a1", "u1", time.Now().UTC())
	require.NoError(t, store.Create(ctx, doc))

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, models.ContentTypeMarkdown, got.ContentType)

	err = store.Create(ctx, doc)
	assert.True(t, apperrors.IsConflictError(err))
}

func TestFileContentStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Create(ctx, testDoc("a1", "u1", time.Now().UTC())))

	title := "New title"
	plain := "derived"
	updated, err := store.Update(ctx, "a1", models.ContentPatch{Title: &title, PlainTextContent: &plain})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, "derived", updated.PlainTextContent)

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)

	_, err = store.Update(ctx, "missing", models.ContentPatch{Title: &title})
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestFileContentStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, testDoc("a", "u1", base, "idea")))
	require.NoError(t, store.Create(ctx, testDoc("b", "u1", base.Add(time.Hour), "plan")))
	require.NoError(t, store.Create(ctx, testDoc("c", "u2", base.Add(2*time.Hour), "idea", "plan")))

	all, err := store.List(ctx, models.ContentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	mine, err := store.List(ctx, models.ContentFilter{CreatedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(mine))

	tagged, err := store.List(ctx, models.ContentFilter{Tags: []string{"idea"}, ExcludeID: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(tagged))

	limited, err := store.List(ctx, models.ContentFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(limited))
}

func TestFileContentStoreIncrementViewCountConcurrently(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Create(ctx, testDoc("a1", "u1", time.Now().UTC())))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementViewCount(ctx, "a1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	views, err := store.IncrementViewCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(21), views)
}

func TestFileContentStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Create(ctx, testDoc("a1", "u1", time.Now().UTC())))

	require.NoError(t, store.Delete(ctx, "a1"))
	_, err := store.Get(ctx, "a1")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.True(t, apperrors.IsNotFoundError(store.Delete(ctx, "a1")))
}

func TestFileStorageRejectsPathTraversal(t *testing.T) {
	files, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, files.SaveTextFile("documents", "../escape.json", []byte("x")))
}

func TestLocalMediaStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalMediaStore(dir, "/uploads/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "../../images/a.png", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/images/a.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "images", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func ids(docs []*models.ContentDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
