// internal/storage/mongo_store.go
package storage

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const documentsCollection = "ideas"

// MongoContentStore keeps documents in a MongoDB collection. The database
// handle is owned by the caller.
type MongoContentStore struct {
	coll *mongo.Collection
}

// NewMongoContentStore uses db.Collection("ideas").
func NewMongoContentStore(db *mongo.Database) *MongoContentStore {
	return &MongoContentStore{coll: db.Collection(documentsCollection)}
}

// ConnectMongo opens a client and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client.Database(database), nil
}

// EnsureIndexes creates the indexes List relies on.
func (s *MongoContentStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "created_by", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_author_created"),
		},
		{
			Keys:    bson.D{{Key: "tags", Value: 1}},
			Options: options.Index().SetName("idx_tags"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created"),
		},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoContentStore) Create(ctx context.Context, doc *models.ContentDocument) error {
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.NewConflictError("document already exists", err)
		}
		return apperrors.NewStorageError("failed to insert document", err)
	}
	return nil
}

func (s *MongoContentStore) Update(ctx context.Context, id string, patch models.ContentPatch) (*models.ContentDocument, error) {
	set := patchToBSON(patch)
	set = append(set, bson.E{Key: "updated_at", Value: nowUTC()})

	var doc models.ContentDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, wrapMongo(err, "failed to update document")
	}
	return &doc, nil
}

func patchToBSON(p models.ContentPatch) bson.D {
	var set bson.D
	if p.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *p.Title})
	}
	if p.Content != nil {
		set = append(set, bson.E{Key: "content", Value: *p.Content})
	}
	if p.ContentType != nil {
		set = append(set, bson.E{Key: "content_type", Value: *p.ContentType})
	}
	if p.PlainTextContent != nil {
		set = append(set, bson.E{Key: "plain_text_content", Value: *p.PlainTextContent})
	}
	if p.Category != nil {
		set = append(set, bson.E{Key: "category", Value: *p.Category})
	}
	if p.Tags != nil {
		set = append(set, bson.E{Key: "tags", Value: *p.Tags})
	}
	if p.ImageURL != nil {
		set = append(set, bson.E{Key: "image_url", Value: *p.ImageURL})
	}
	return set
}

func (s *MongoContentStore) Get(ctx context.Context, id string) (*models.ContentDocument, error) {
	var doc models.ContentDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, wrapMongo(err, "failed to load document")
	}
	return &doc, nil
}

func (s *MongoContentStore) List(ctx context.Context, filter models.ContentFilter) ([]*models.ContentDocument, error) {
	query := bson.M{}
	if filter.CreatedBy != "" {
		query["created_by"] = filter.CreatedBy
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if len(filter.Tags) > 0 {
		query["tags"] = bson.M{"$in": filter.Tags}
	}
	if filter.ExcludeID != "" {
		query["_id"] = bson.M{"$ne": filter.ExcludeID}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list documents", err)
	}
	var docs []*models.ContentDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperrors.NewStorageError("failed to decode documents", err)
	}
	return docs, nil
}

func (s *MongoContentStore) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	var doc struct {
		Views int64 `bson:"views"`
	}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"views": 1}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"views": 1}),
	).Decode(&doc)
	if err != nil {
		return 0, wrapMongo(err, "failed to count view")
	}
	return doc.Views, nil
}

func (s *MongoContentStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperrors.NewStorageError("failed to delete document", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NewNotFoundError("document not found", nil)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *MongoContentStore) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}

func wrapMongo(err error, message string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperrors.NewNotFoundError("document not found", err)
	}
	return apperrors.NewStorageError(message, err)
}
