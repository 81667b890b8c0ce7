package ebook

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ebookDoc struct {
	ID               string     `bson:"_id"`
	Title            string     `bson:"title"`
	Content          string     `bson:"content"`
	Authors          []string   `bson:"authors"`
	SectionID        string     `bson:"section"`
	Status           Status     `bson:"status"`
	IssuedTo         *string    `bson:"issuedTo"`
	DateIssued       *time.Time `bson:"dateIssued"`
	ReturnDate       *time.Time `bson:"returnDate"`
	ActualReturnDate *time.Time `bson:"actualReturnDate"`
	FineAmount       int64      `bson:"fineAmount"`
	Version          int64      `bson:"version"`
	CreatedAt        time.Time  `bson:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt"`
}

type MongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoRepo(db *mongo.Database, timeout time.Duration) *MongoRepo {
	return &MongoRepo{coll: db.Collection("ebooks"), timeout: timeout}
}

// live restricts filter to ebooks that have not been deleted.
func live(filter bson.M) bson.M {
	filter["deletedAt"] = bson.M{"$exists": false}
	return filter
}

func (r *MongoRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.Indexes().CreateMany(timeoutCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "issuedTo", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, b *Ebook) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.InsertOne(timeoutCtx, ebookDoc(*b))
	return err
}

func (r *MongoRepo) GetByID(ctx context.Context, id string) (Ebook, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var doc ebookDoc
	if err := r.coll.FindOne(timeoutCtx, live(bson.M{"_id": id})).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Ebook{}, ErrNotFound
		}
		return Ebook{}, err
	}
	return Ebook(doc), nil
}

func (r *MongoRepo) List(ctx context.Context, filter ListFilter) ([]Ebook, error) {
	q := live(bson.M{})
	if filter.IssuedTo != "" {
		q["issuedTo"] = filter.IssuedTo
	}
	if len(filter.Statuses) > 0 {
		q["status"] = bson.M{"$in": filter.Statuses}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit)).SetSkip(int64(filter.Offset))
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Find(timeoutCtx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(timeoutCtx)

	var docs []ebookDoc
	if err := cur.All(timeoutCtx, &docs); err != nil {
		return nil, err
	}
	books := make([]Ebook, 0, len(docs))
	for _, d := range docs {
		books = append(books, Ebook(d))
	}
	return books, nil
}

func (r *MongoRepo) UpdateState(ctx context.Context, b Ebook) (Ebook, error) {
	update := bson.M{
		"$set": bson.M{
			"status":           b.Status,
			"issuedTo":         b.IssuedTo,
			"dateIssued":       b.DateIssued,
			"returnDate":       b.ReturnDate,
			"actualReturnDate": b.ActualReturnDate,
			"fineAmount":       b.FineAmount,
			"updatedAt":        b.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var doc ebookDoc
	err := r.coll.FindOneAndUpdate(timeoutCtx,
		live(bson.M{"_id": b.ID, "version": b.Version}),
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
				return Ebook{}, getErr
			}
			return Ebook{}, ErrVersionConflict
		}
		return Ebook{}, err
	}
	return Ebook(doc), nil
}

func (r *MongoRepo) Update(ctx context.Context, b Ebook) (Ebook, error) {
	update := bson.M{
		"$set": bson.M{
			"title":     b.Title,
			"content":   b.Content,
			"authors":   b.Authors,
			"section":   b.SectionID,
			"updatedAt": b.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var doc ebookDoc
	err := r.coll.FindOneAndUpdate(timeoutCtx,
		live(bson.M{"_id": b.ID, "version": b.Version}),
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
				return Ebook{}, getErr
			}
			return Ebook{}, ErrVersionConflict
		}
		return Ebook{}, err
	}
	return Ebook(doc), nil
}

func (r *MongoRepo) Delete(ctx context.Context, id string, at time.Time) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(timeoutCtx,
		live(bson.M{"_id": id, "status": bson.M{"$nin": bson.A{StatusIssued, StatusPendingReturn}}}),
		bson.M{
			"$set": bson.M{"deletedAt": at, "updatedAt": at},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrOnLoan
	}
	return nil
}
