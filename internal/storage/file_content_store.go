// internal/storage/file_content_store.go
package storage

import (
	"context"
	"errors"
	"os"
	"strings"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
)

const documentsDir = "documents"

// FileContentStore keeps one JSON file per document. It suits a single
// instance deployment and tests.
type FileContentStore struct {
	files *FileStorage
}

// NewFileContentStore stores documents below files.BaseDir/documents.
func NewFileContentStore(files *FileStorage) *FileContentStore {
	return &FileContentStore{files: files}
}

func documentFile(id string) string {
	return id + ".json"
}

func (s *FileContentStore) Create(ctx context.Context, doc *models.ContentDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" || strings.ContainsAny(doc.ID, `/\.`) {
		return apperrors.NewValidationError("invalid document id", nil)
	}
	if s.files.FileExists(documentsDir, documentFile(doc.ID)) {
		return apperrors.NewConflictError("document already exists", nil)
	}
	if err := s.files.SaveJSONFile(documentsDir, documentFile(doc.ID), doc); err != nil {
		return apperrors.NewStorageError("failed to save document", err)
	}
	return nil
}

func (s *FileContentStore) Update(ctx context.Context, id string, patch models.ContentPatch) (*models.ContentDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc models.ContentDocument
	err := s.files.UpdateJSONFile(documentsDir, documentFile(id), &doc, func() error {
		patch.Apply(&doc, nowUTC())
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "failed to update document")
	}
	return &doc, nil
}

func (s *FileContentStore) Get(ctx context.Context, id string) (*models.ContentDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc models.ContentDocument
	if err := s.files.LoadJSONFile(documentsDir, documentFile(id), &doc); err != nil {
		return nil, s.wrap(err, "failed to load document")
	}
	return &doc, nil
}

func (s *FileContentStore) List(ctx context.Context, filter models.ContentFilter) ([]*models.ContentDocument, error) {
	names, err := s.files.ListFiles(documentsDir, ".json")
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list documents", err)
	}

	docs := make([]*models.ContentDocument, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var doc models.ContentDocument
		if err := s.files.LoadJSONFile(documentsDir, name, &doc); err != nil {
			// deleted between listing and reading
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, apperrors.NewStorageError("failed to load document", err)
		}
		if filter.Matches(&doc) {
			docs = append(docs, &doc)
		}
	}

	sortNewestFirst(docs)
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

func (s *FileContentStore) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var doc models.ContentDocument
	err := s.files.UpdateJSONFile(documentsDir, documentFile(id), &doc, func() error {
		doc.Views++
		return nil
	})
	if err != nil {
		return 0, s.wrap(err, "failed to count view")
	}
	return doc.Views, nil
}

func (s *FileContentStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.files.DeleteFile(documentsDir, documentFile(id)); err != nil {
		return s.wrap(err, "failed to delete document")
	}
	return nil
}

func (s *FileContentStore) Close(context.Context) error { return nil }

func (s *FileContentStore) wrap(err error, message string) error {
	if errors.Is(err, os.ErrNotExist) {
		return apperrors.NewNotFoundError("document not found", err)
	}
	return apperrors.NewStorageError(message, err)
}
