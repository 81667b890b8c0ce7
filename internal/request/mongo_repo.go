package request

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type requestDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	EbookID   string    `bson:"ebookId"`
	Status    Status    `bson:"status"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type MongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoRepo(db *mongo.Database, timeout time.Duration) *MongoRepo {
	return &MongoRepo{coll: db.Collection("requests"), timeout: timeout}
}

func (r *MongoRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.Indexes().CreateMany(timeoutCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, req *Request) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.InsertOne(timeoutCtx, requestDoc(*req))
	return err
}

func (r *MongoRepo) GetByID(ctx context.Context, id string) (Request, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var doc requestDoc
	if err := r.coll.FindOne(timeoutCtx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	return Request(doc), nil
}

func (r *MongoRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(timeoutCtx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepo) ListByUser(ctx context.Context, userID string, status Status) ([]Request, error) {
	filter := bson.M{"userId": userID}
	if status != "" {
		filter["status"] = status
	}
	return r.find(ctx, filter, -1)
}

func (r *MongoRepo) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	return r.find(ctx, bson.M{"status": status}, 1)
}

func (r *MongoRepo) find(ctx context.Context, filter bson.M, order int) ([]Request, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Find(timeoutCtx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: order}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(timeoutCtx)

	var docs []requestDoc
	if err := cur.All(timeoutCtx, &docs); err != nil {
		return nil, err
	}
	reqs := make([]Request, 0, len(docs))
	for _, d := range docs {
		reqs = append(reqs, Request(d))
	}
	return reqs, nil
}
