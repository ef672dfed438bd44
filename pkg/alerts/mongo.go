package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// Collection is the MongoDB collection holding alerts.
const Collection = "alerts"

type alertDoc struct {
	ID        string    `bson:"_id"`
	Severity  string    `bson:"severity"`
	Message   string    `bson:"message"`
	IsActive  bool      `bson:"is_active"`
	PostedBy  string    `bson:"posted_by"`
	Timestamp time.Time `bson:"timestamp"`
}

func (d alertDoc) alert() models.Alert {
	return models.Alert{
		ID:        d.ID,
		Severity:  models.Severity(d.Severity),
		Message:   d.Message,
		IsActive:  d.IsActive,
		PostedBy:  d.PostedBy,
		Timestamp: d.Timestamp.UTC(),
	}
}

// MongoStore keeps alerts in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri and prepares the alerts collection in dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, coll: client.Database(dbName).Collection(Collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "severity", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create alerts index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Post(ctx context.Context, in models.PostAlertInput, postedBy string) (models.Alert, error) {
	a, err := newAlert(in, postedBy, time.Now())
	if err != nil {
		return models.Alert{}, err
	}
	doc := alertDoc{
		ID:        a.ID,
		Severity:  string(a.Severity),
		Message:   a.Message,
		IsActive:  a.IsActive,
		PostedBy:  a.PostedBy,
		Timestamp: a.Timestamp,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return models.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return a, nil
}

func (s *MongoStore) Active(ctx context.Context, limit int) ([]models.Alert, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limitOrDefault(limit)))
	cur, err := s.coll.Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("find alerts: %w", err)
	}
	defer cur.Close(ctx)

	var docs []alertDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	out := make([]models.Alert, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.alert())
	}
	return out, nil
}

func (s *MongoStore) LatestCritical(ctx context.Context) (*models.Alert, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var doc alertDoc
	err := s.coll.FindOne(ctx, bson.M{"is_active": true, "severity": string(models.SeverityCritical)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find critical alert: %w", err)
	}
	a := doc.alert()
	return &a, nil
}
