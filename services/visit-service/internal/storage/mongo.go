package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
)

const pagesCollection = "pages"

// MongoStore keeps one document per page with the reference as _id. The
// version field doubles as the compare-and-swap guard of every update.
type MongoStore struct {
	coll *mongo.Collection
}

// ConnectMongo opens a client and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// MongoReadyCheck pings the deployment.
func MongoReadyCheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("mongo not configured")
		}
		return client.Ping(ctx, nil)
	}
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(pagesCollection)}
}

// EnsureIndexes creates the index used by the cleanup scan.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: FieldDateTo, Value: 1}},
		Options: options.Index().SetName("date_to_idx"),
	})
	if err != nil {
		return fmt.Errorf("failed to create page indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Fetch(ctx context.Context, reference string, fields ...string) (*model.Page, error) {
	opts := options.FindOne()
	if len(fields) > 0 {
		opts.SetProjection(projection(fields))
	}
	var page model.Page
	err := s.coll.FindOne(ctx, bson.M{"_id": reference}, opts).Decode(&page)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *MongoStore) Insert(ctx context.Context, page *model.Page) error {
	now := time.Now().UTC()
	page.CreatedAt, page.UpdatedAt = now, now
	page.Version = 1
	if _, err := s.coll.InsertOne(ctx, page); err != nil {
		page.Version = 0
		if mongo.IsDuplicateKeyError(err) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *MongoStore) Put(ctx context.Context, page *model.Page, pre *Precondition) error {
	page.UpdatedAt = time.Now().UTC()
	next := *page

	if pre == nil {
		current, err := s.Fetch(ctx, page.Reference, FieldVersion)
		switch {
		case errors.Is(err, ErrNotFound):
			next.Version = 1
		case err != nil:
			return err
		default:
			next.Version = current.Version + 1
		}
		_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": page.Reference}, &next, options.Replace().SetUpsert(true))
		if err != nil {
			return err
		}
		page.Version = next.Version
		return nil
	}

	next.Version = pre.Version + 1
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": page.Reference, FieldVersion: pre.Version}, &next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missOrConflict(ctx, page.Reference)
	}
	page.Version = next.Version
	return nil
}

func (s *MongoStore) ConditionalUpdate(ctx context.Context, reference string, attrs Attributes, pre Precondition) (int64, error) {
	set := bson.M{}
	for k, v := range withUpdatedAt(attrs, time.Now().UTC()) {
		set[k] = v
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": reference, FieldVersion: pre.Version},
		bson.M{"$set": set, "$inc": bson.M{FieldVersion: 1}},
	)
	if err != nil {
		return 0, err
	}
	if res.MatchedCount == 0 {
		return 0, s.missOrConflict(ctx, reference)
	}
	return pre.Version + 1, nil
}

func (s *MongoStore) Delete(ctx context.Context, reference string, pre *Precondition) error {
	filter := bson.M{"_id": reference}
	if pre != nil {
		filter[FieldVersion] = pre.Version
	}
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return s.missOrConflict(ctx, reference)
	}
	return nil
}

func (s *MongoStore) Scan(ctx context.Context, fields []string, fn func(*model.Page) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if len(fields) > 0 {
		opts.SetProjection(projection(fields))
	}
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	var pages []*model.Page
	for cur.Next(ctx) {
		var page model.Page
		if err := cur.Decode(&page); err != nil {
			_ = cur.Close(ctx)
			return err
		}
		pages = append(pages, &page)
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close(ctx)
		return err
	}
	_ = cur.Close(ctx)

	for _, page := range pages {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func (s *MongoStore) missOrConflict(ctx context.Context, reference string) error {
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": reference}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func projection(fields []string) bson.M {
	proj := bson.M{FieldVersion: 1}
	for _, f := range fields {
		if f == FieldReference {
			continue
		}
		proj[f] = 1
	}
	return proj
}
