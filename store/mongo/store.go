// Package mongo implements store.Store on MongoDB. A usage period is one
// document keyed by its period id; increments use $inc so the server applies
// them atomically.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/genquota"
	"github.com/xraph/genquota/history"
	"github.com/xraph/genquota/id"
	genquotastore "github.com/xraph/genquota/store"
	"github.com/xraph/genquota/usage"
)

// Collection name constants.
const (
	colUsagePeriods = "genquota_usage_periods"
	colGenerations  = "genquota_generations"
)

// compile-time interface check
var _ genquotastore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	db *mongo.Database
}

// New creates a MongoDB store on db.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to uri and uses the named database.
func Open(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("genquota/mongo: connect: %w", err)
	}
	return New(client.Database(database)), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all genquota collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("genquota/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

// ==================== Usage Period Store ====================

func (s *Store) GetPeriod(ctx context.Context, userID, periodID string) (*usage.Period, error) {
	var m periodModel
	err := s.db.Collection(colUsagePeriods).
		FindOne(ctx, bson.M{"_id": periodID, "user_id": userID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("genquota/mongo: period %q: %w", periodID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/mongo: get period: %w", err)
	}
	return fromPeriodModel(&m), nil
}

func (s *Store) CreatePeriod(ctx context.Context, p *usage.Period) error {
	_, err := s.db.Collection(colUsagePeriods).InsertOne(ctx, toPeriodModel(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("genquota/mongo: period %q: %w: %w", p.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/mongo: create period: %w", err)
	}
	return nil
}

func (s *Store) IncrementPeriod(ctx context.Context, userID, periodID string, inc usage.Increment) error {
	res, err := s.db.Collection(colUsagePeriods).UpdateOne(ctx,
		bson.M{"_id": periodID, "user_id": userID},
		bson.M{
			"$inc": bson.M{
				"total":                              inc.Count,
				"counts_by_type." + string(inc.Type): inc.Count,
			},
			"$set": bson.M{"last_updated_at": inc.At.UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("genquota/mongo: increment period: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("genquota/mongo: period %q: %w", periodID, genquota.ErrNotFound)
	}
	return nil
}

// ==================== Generation Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *history.Record) error {
	_, err := s.db.Collection(colGenerations).InsertOne(ctx, toRecordModel(r))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("genquota/mongo: record %q: %w: %w", r.ID, genquota.ErrConflict, err)
		}
		return fmt.Errorf("genquota/mongo: create record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, userID string, recordID id.GenerationID) (*history.Record, error) {
	var m recordModel
	err := s.db.Collection(colGenerations).
		FindOne(ctx, bson.M{"_id": recordID.String(), "user_id": userID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("genquota/mongo: record %q: %w", recordID, genquota.ErrNotFound)
		}
		return nil, fmt.Errorf("genquota/mongo: get record: %w", err)
	}

	r, err := fromRecordModel(&m)
	if err != nil {
		return nil, fmt.Errorf("genquota/mongo: decode record %q: %w", recordID, err)
	}
	return r, nil
}

func (s *Store) ListRecords(ctx context.Context, userID string, opts history.ListOpts) ([]*history.Record, error) {
	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colGenerations).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("genquota/mongo: list records: %w", err)
	}

	var models []recordModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("genquota/mongo: list records: %w", err)
	}

	result := make([]*history.Record, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("genquota/mongo: decode record %q: %w", models[i].ID, err)
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsagePeriods: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "year_month", Value: 1}}},
		},
		colGenerations: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		},
	}
}
