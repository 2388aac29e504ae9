// internal/storage/firestore_store.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreContentStore keeps documents in a Firestore collection.
type FirestoreContentStore struct {
	client *firestore.Client
	coll   *firestore.CollectionRef
}

// NewFirestoreClient creates a client for projectID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewFirestoreContentStore uses client.Collection("ideas").
func NewFirestoreContentStore(client *firestore.Client) *FirestoreContentStore {
	return &FirestoreContentStore{client: client, coll: client.Collection(documentsCollection)}
}

func (s *FirestoreContentStore) Create(ctx context.Context, doc *models.ContentDocument) error {
	if _, err := s.coll.Doc(doc.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return apperrors.NewConflictError("document already exists", err)
		}
		return apperrors.NewStorageError("failed to create document", err)
	}
	return nil
}

func (s *FirestoreContentStore) Update(ctx context.Context, id string, patch models.ContentPatch) (*models.ContentDocument, error) {
	ref := s.coll.Doc(id)
	var doc models.ContentDocument
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc = models.ContentDocument{}
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		patch.Apply(&doc, nowUTC())
		return tx.Set(ref, &doc)
	})
	if err != nil {
		return nil, wrapFirestore(err, "failed to update document")
	}
	return &doc, nil
}

func (s *FirestoreContentStore) Get(ctx context.Context, id string) (*models.ContentDocument, error) {
	snap, err := s.coll.Doc(id).Get(ctx)
	if err != nil {
		return nil, wrapFirestore(err, "failed to load document")
	}
	var doc models.ContentDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, apperrors.NewStorageError("failed to decode document", err)
	}
	return &doc, nil
}

func (s *FirestoreContentStore) List(ctx context.Context, filter models.ContentFilter) ([]*models.ContentDocument, error) {
	q := s.coll.Query
	if filter.CreatedBy != "" {
		q = q.Where("created_by", "==", filter.CreatedBy)
	}
	if filter.Category != "" {
		q = q.Where("category", "==", filter.Category)
	}
	if len(filter.Tags) > 0 {
		q = q.Where("tags", "array-contains-any", filter.Tags)
	}
	q = q.OrderBy("created_at", firestore.Desc)

	// ExcludeID is applied client side, so fetch one extra
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit + 1)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []*models.ContentDocument
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, apperrors.NewStorageError("failed to list documents", err)
		}
		var doc models.ContentDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, apperrors.NewStorageError("failed to decode document", err)
		}
		if filter.ExcludeID != "" && doc.ID == filter.ExcludeID {
			continue
		}
		docs = append(docs, &doc)
	}

	sortNewestFirst(docs)
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

func (s *FirestoreContentStore) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	ref := s.coll.Doc(id)
	var views int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc models.ContentDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		views = doc.Views + 1
		return tx.Update(ref, []firestore.Update{{Path: "views", Value: views}})
	})
	if err != nil {
		return 0, wrapFirestore(err, "failed to count view")
	}
	return views, nil
}

func (s *FirestoreContentStore) Delete(ctx context.Context, id string) error {
	ref := s.coll.Doc(id)
	// Delete on a missing document succeeds, so check first
	if _, err := ref.Get(ctx); err != nil {
		return wrapFirestore(err, "failed to delete document")
	}
	if _, err := ref.Delete(ctx); err != nil {
		return apperrors.NewStorageError("failed to delete document", err)
	}
	return nil
}

func (s *FirestoreContentStore) Close(context.Context) error {
	return s.client.Close()
}

func wrapFirestore(err error, message string) error {
	if status.Code(err) == codes.NotFound {
		return apperrors.NewNotFoundError("document not found", err)
	}
	return apperrors.NewStorageError(message, err)
}
