package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/isdelr/usermgmt-be/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Unique index names; duplicate key errors are matched against them.
const (
	indexUsername = "uniq_username"
	indexEmail    = "uniq_email"
	indexMobile   = "uniq_mobile"
)

// MongoUserRepository stores accounts in a MongoDB collection.
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository creates a repository on collection. Call
// EnsureIndexes once at startup before serving requests.
func NewMongoUserRepository(collection *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{collection: collection}
}

// EnsureIndexes creates the unique indexes that make inserts atomic
// check-and-insert operations. Mobile is only unique when present.
func (m *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetName(indexUsername).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName(indexEmail).SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "mobile", Value: 1}},
			Options: options.Index().SetName(indexMobile).SetUnique(true).
				SetPartialFilterExpression(bson.M{"mobile": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
		},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (m *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := m.collection.InsertOne(ctx, user); err != nil {
		return mongoWriteError(err)
	}
	return nil
}

func (m *MongoUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return m.findUserBy(ctx, "_id", id)
}

func (m *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUserBy(ctx, "email", email)
}

func (m *MongoUserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return m.findUserBy(ctx, "mobile", mobile)
}

func (m *MongoUserRepository) findUserBy(ctx context.Context, key, val string) (*models.User, error) {
	var user models.User
	err := m.collection.FindOne(ctx, bson.M{key: val}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by %s: %w", key, err)
	}
	return &user, nil
}

func (m *MongoUserRepository) Update(ctx context.Context, user *models.User) error {
	res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": user.ID}, user)
	if err != nil {
		return mongoWriteError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoUserRepository) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoUserRepository) List(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	total, err := m.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, 0, fmt.Errorf("decode users: %w", err)
	}
	return users, total, nil
}

// mongoWriteError maps a duplicate key error to the field whose unique
// index rejected the write.
func mongoWriteError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("write user: %w", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, indexEmail):
		return &DuplicateError{Field: "email"}
	case strings.Contains(msg, indexUsername):
		return &DuplicateError{Field: "username"}
	case strings.Contains(msg, indexMobile):
		return &DuplicateError{Field: "mobile"}
	default:
		return &DuplicateError{Field: "id"}
	}
}
