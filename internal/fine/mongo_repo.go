package fine

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fineDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"userId"`
	EbookID     string     `bson:"ebookId"`
	FineAmount  int64      `bson:"fineAmount"`
	Paid        bool       `bson:"paid"`
	PaymentDate *time.Time `bson:"paymentDate,omitempty"`
	PaymentRef  string     `bson:"paymentRef"`
	CreatedAt   time.Time  `bson:"createdAt"`
}

func (d fineDoc) toFine() Fine {
	return Fine(d)
}

type MongoRepo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func NewMongoRepo(db *mongo.Database, timeout time.Duration) *MongoRepo {
	return &MongoRepo{coll: db.Collection("fines"), timeout: timeout}
}

func (r *MongoRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// EnsureIndexes creates the lookup index used by ListByUser and FindOutstanding.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.Indexes().CreateOne(timeoutCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "ebookId", Value: 1}, {Key: "paid", Value: 1}},
	})
	return err
}

func (r *MongoRepo) Create(ctx context.Context, f *Fine) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.InsertOne(timeoutCtx, fineDoc(*f))
	return err
}

func (r *MongoRepo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (Fine, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	var doc fineDoc
	if err := r.coll.FindOne(timeoutCtx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Fine{}, ErrNotFound
		}
		return Fine{}, err
	}
	return doc.toFine(), nil
}

func (r *MongoRepo) GetByID(ctx context.Context, id string) (Fine, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoRepo) ListByUser(ctx context.Context, userID string, paidOnly bool) ([]Fine, error) {
	filter := bson.M{"userId": userID}
	if paidOnly {
		filter["paid"] = true
	}
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Find(timeoutCtx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(timeoutCtx)

	fines := []Fine{}
	for cur.Next(timeoutCtx) {
		var doc fineDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		fines = append(fines, doc.toFine())
	}
	return fines, cur.Err()
}

func (r *MongoRepo) FindOutstanding(ctx context.Context, userID, ebookID string) (Fine, error) {
	return r.findOne(ctx,
		bson.M{"userId": userID, "ebookId": ebookID, "paid": false},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	)
}

func (r *MongoRepo) UpdateAmount(ctx context.Context, id string, amount int64) error {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(timeoutCtx,
		bson.M{"_id": id, "paid": false},
		bson.M{"$set": bson.M{"fineAmount": amount}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepo) MarkPaid(ctx context.Context, id string, at time.Time, ref string) (Fine, error) {
	timeoutCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	// The pipeline form keeps the first payment date on a repeated call.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"paid":        true,
			"paymentDate": bson.M{"$ifNull": bson.A{"$paymentDate", at}},
			"paymentRef": bson.M{"$cond": bson.A{
				bson.M{"$in": bson.A{"$paymentRef", bson.A{"", nil}}}, ref, "$paymentRef",
			}},
		}}},
	}
	var doc fineDoc
	err := r.coll.FindOneAndUpdate(timeoutCtx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Fine{}, ErrNotFound
		}
		return Fine{}, err
	}
	return doc.toFine(), nil
}
