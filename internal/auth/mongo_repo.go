package auth

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BlacklistMongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewBlacklistMongoRepo(db *mongo.Database, timeout time.Duration) *BlacklistMongoRepo {
	return &BlacklistMongoRepo{coll: db.Collection("token_blacklist"), timeout: timeout}
}

func (r *BlacklistMongoRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// EnsureIndexes lets the server expire entries on its own.
func (r *BlacklistMongoRepo) EnsureIndexes(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.Indexes().CreateOne(timeoutCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (r *BlacklistMongoRepo) AddToken(ctx context.Context, jti string, userID string, expiresAt time.Time) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.UpdateOne(timeoutCtx,
		bson.M{"_id": jti},
		bson.M{"$setOnInsert": bson.M{"userId": userID, "expiresAt": expiresAt}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *BlacklistMongoRepo) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.coll.CountDocuments(timeoutCtx, bson.M{"_id": jti, "expiresAt": bson.M{"$gt": time.Now()}})
	return n > 0, err
}

func (r *BlacklistMongoRepo) CleanupExpired(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.DeleteMany(timeoutCtx, bson.M{"expiresAt": bson.M{"$lt": time.Now()}})
	return err
}
