package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"listingsync/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoListingRepository implements ListingRepository using MongoDB.
// Each item is one document: {sku, listings: [...], snapshot_time}.
type MongoListingRepository struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	now        Clock
}

// NewMongoListingRepository connects to MongoDB and ensures the indexes exist.
func NewMongoListingRepository(uri, database, collection string) (*MongoListingRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetRegistry(newRegistry()).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	coll := db.Collection(collection)

	r := &MongoListingRepository{
		client:     client,
		db:         db,
		collection: coll,
		now:        time.Now,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		log.Printf("[MongoDB] Warning: failed to create indexes: %v", err)
	}

	log.Printf("[MongoDB] Connected to %s/%s", database, collection)
	return r, nil
}

func (r *MongoListingRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "snapshot_time", Value: 1}}},
		{Keys: bson.D{{Key: "listings.updated", Value: 1}}},
	})
	return err
}

// SetClock overrides the clock used for eviction cutoffs.
func (r *MongoListingRepository) SetClock(now Clock) {
	r.now = now
}

func pullListing(key model.ListingKey) bson.M {
	return bson.M{"$pull": bson.M{"listings": bson.M{
		"intent":  key.Intent,
		"steamid": key.SteamID,
	}}}
}

func pushListing(listing model.Listing) bson.M {
	return bson.M{"$push": bson.M{"listings": listing}}
}

// Upsert replaces the listing at key in a single pipeline update, so
// concurrent upserts of one key serialize on the document.
func (r *MongoListingRepository) Upsert(ctx context.Context, key model.ListingKey, listing model.Listing) error {
	sameKey := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$$this.intent", key.Intent}}},
		bson.D{{Key: "$eq", Value: bson.A{"$$this.steamid", key.SteamID}}},
	}}}
	kept := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$listings", bson.A{}}}}},
		{Key: "cond", Value: bson.D{{Key: "$not", Value: bson.A{sameKey}}}},
	}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "sku", Value: bson.D{{Key: "$literal", Value: key.SKU}}},
			// $literal keeps values such as "$5" from being read as field paths
			{Key: "listings", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				kept,
				bson.D{{Key: "$literal", Value: bson.A{listing}}},
			}}}},
		}}},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"sku": key.SKU}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

// Delete removes the listing at key, if any.
func (r *MongoListingRepository) Delete(ctx context.Context, key model.ListingKey) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"sku": key.SKU}, pullListing(key))
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}

// BulkApply writes all deletes in one BulkWrite, then all inserts in another.
func (r *MongoListingRepository) BulkApply(ctx context.Context, deletes []model.ListingKey, inserts []model.ItemListing) error {
	opts := options.BulkWrite().SetOrdered(false)

	if len(deletes) > 0 {
		models := make([]mongo.WriteModel, len(deletes))
		for i, key := range deletes {
			models[i] = mongo.NewUpdateOneModel().
				SetFilter(bson.M{"sku": key.SKU}).
				SetUpdate(pullListing(key))
		}
		if _, err := r.collection.BulkWrite(ctx, models, opts); err != nil {
			return fmt.Errorf("bulk delete of %d listings failed: %w", len(deletes), err)
		}
	}

	if len(inserts) > 0 {
		models := make([]mongo.WriteModel, len(inserts))
		for i, in := range inserts {
			models[i] = mongo.NewUpdateOneModel().
				SetFilter(bson.M{"sku": in.SKU}).
				SetUpdate(pushListing(in.Listing)).
				SetUpsert(true)
		}
		if _, err := r.collection.BulkWrite(ctx, models, opts); err != nil {
			return fmt.Errorf("bulk insert of %d listings failed: %w", len(inserts), err)
		}
	}
	return nil
}

// ReplaceItemListings overwrites the listing array of one item in a single update.
func (r *MongoListingRepository) ReplaceItemListings(ctx context.Context, sku string, listings []model.Listing) error {
	if listings == nil {
		listings = []model.Listing{}
	}
	update := bson.M{"$set": bson.M{"listings": listings}}
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"sku": sku}, update, opts); err != nil {
		return fmt.Errorf("failed to replace listings: %w", err)
	}
	return nil
}

// EvictOlderThan filters stale listings out of every record that holds one.
// The returned count is taken just before the update and is informational.
func (r *MongoListingRepository) EvictOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	limit := cutoff(r.now, horizon)
	stale := bson.M{"listings.updated": bson.M{"$lt": limit}}

	count, err := r.countStale(ctx, limit)
	if err != nil {
		log.Printf("[MongoDB] Warning: failed to count stale listings: %v", err)
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "listings", Value: bson.D{{Key: "$filter", Value: bson.D{
			{Key: "input", Value: "$listings"},
			{Key: "as", Value: "l"},
			{Key: "cond", Value: bson.D{{Key: "$gte", Value: bson.A{"$$l.updated", limit}}}},
		}}}}}}},
	}

	result, err := r.collection.UpdateMany(ctx, stale, update)
	if err != nil {
		return 0, fmt.Errorf("failed to evict listings: %w", err)
	}

	if result.ModifiedCount > 0 {
		log.Printf("[MongoDB] Evicted %d stale listings from %d items (horizon: %v)", count, result.ModifiedCount, horizon)
	}
	return count, nil
}

func (r *MongoListingRepository) countStale(ctx context.Context, limit int64) (int64, error) {
	match := bson.D{{Key: "$match", Value: bson.M{"listings.updated": bson.M{"$lt": limit}}}}
	pipeline := mongo.Pipeline{
		match,
		{{Key: "$unwind", Value: "$listings"}},
		match,
		{{Key: "$count", Value: "n"}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var out []struct {
		N int64 `bson:"n"`
	}
	if err := cursor.All(ctx, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].N, nil
}

// RecordSnapshotTime sets the refresh time, creating the record if needed.
func (r *MongoListingRepository) RecordSnapshotTime(ctx context.Context, sku string, at time.Time) error {
	update := bson.M{"$set": bson.M{"snapshot_time": at.UTC()}}
	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"sku": sku}, update, opts); err != nil {
		return fmt.Errorf("failed to record snapshot time: %w", err)
	}
	return nil
}

// AllSnapshotTimes returns the refresh time of every item record.
func (r *MongoListingRepository) AllSnapshotTimes(ctx context.Context) (map[string]time.Time, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 0, "sku": 1, "snapshot_time": 1})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot times: %w", err)
	}
	defer cursor.Close(ctx)

	times := make(map[string]time.Time)
	for cursor.Next(ctx) {
		var doc struct {
			SKU          string    `bson:"sku"`
			SnapshotTime time.Time `bson:"snapshot_time"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot time: %w", err)
		}
		times[doc.SKU] = doc.SnapshotTime
	}
	return times, cursor.Err()
}

// GetItem returns the record for sku.
func (r *MongoListingRepository) GetItem(ctx context.Context, sku string) (*model.ItemRecord, error) {
	var rec model.ItemRecord
	err := r.collection.FindOne(ctx, bson.M{"sku": sku}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if rec.Listings == nil {
		rec.Listings = []model.Listing{}
	}
	return &rec, nil
}

// GetStats returns statistics about the listings collection.
func (r *MongoListingRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	stats["status"] = "connected"

	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, err
	}
	stats["total_items"] = count

	neverRefreshed, err := r.collection.CountDocuments(ctx, bson.M{"snapshot_time": bson.M{"$exists": false}})
	if err == nil {
		stats["never_refreshed"] = neverRefreshed
	}

	result := r.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: r.collection.Name()}})
	var collStats bson.M
	if err := result.Decode(&collStats); err == nil {
		if size, ok := collStats["size"].(int64); ok {
			stats["db_size_bytes"] = size
		} else if size, ok := collStats["size"].(int32); ok {
			stats["db_size_bytes"] = int64(size)
		}
	}

	return stats, nil
}

// Close closes the MongoDB connection.
func (r *MongoListingRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

var _ ListingRepository = (*MongoListingRepository)(nil)
