package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"listingsync/internal/model"
)

// dialect holds the differences between the SQL backends.
type dialect struct {
	name      string
	jsonType  string
	numbered  bool // $1, $2 ... instead of ?
	sizeQuery string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		jsonType:  "TEXT",
		sizeQuery: "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	}
	postgresDialect = dialect{
		name:      "postgres",
		jsonType:  "JSONB",
		numbered:  true,
		sizeQuery: "SELECT pg_total_relation_size('listings')",
	}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SQLListingRepository implements ListingRepository on a relational database.
// An item record is one row in items plus its rows in listings; the
// natural key (sku, intent, steamid) is the listings primary key.
type SQLListingRepository struct {
	db      *sql.DB
	dialect dialect
	now     Clock
}

func newSQLListingRepository(db *sql.DB, d dialect) (*SQLListingRepository, error) {
	r := &SQLListingRepository{db: db, dialect: d, now: time.Now}
	if err := r.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return r, nil
}

func (r *SQLListingRepository) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			sku TEXT PRIMARY KEY,
			snapshot_time BIGINT NOT NULL DEFAULT 0
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS listings (
			sku TEXT NOT NULL,
			intent TEXT NOT NULL,
			steamid TEXT NOT NULL,
			updated BIGINT NOT NULL,
			data %s NOT NULL,
			PRIMARY KEY (sku, intent, steamid)
		)`, r.dialect.jsonType),
		`CREATE INDEX IF NOT EXISTS idx_listings_updated ON listings(updated)`,
		`CREATE INDEX IF NOT EXISTS idx_items_snapshot_time ON items(snapshot_time)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SetClock overrides the clock used for eviction cutoffs.
func (r *SQLListingRepository) SetClock(now Clock) {
	r.now = now
}

func (r *SQLListingRepository) q(query string) string {
	return r.dialect.rebind(query)
}

const (
	ensureItemSQL    = `INSERT INTO items (sku) VALUES (?) ON CONFLICT (sku) DO NOTHING`
	deleteListingSQL = `DELETE FROM listings WHERE sku = ? AND intent = ? AND steamid = ?`
	insertListingSQL = `INSERT INTO listings (sku, intent, steamid, updated, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sku, intent, steamid) DO UPDATE SET updated = excluded.updated, data = excluded.data`
)

// withTx runs fn in a transaction, committing on success.
func (r *SQLListingRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLListingRepository) insertListing(ctx context.Context, tx *sql.Tx, sku string, l model.Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to encode listing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.q(ensureItemSQL), sku); err != nil {
		return fmt.Errorf("failed to create item %s: %w", sku, err)
	}
	if _, err := tx.ExecContext(ctx, r.q(insertListingSQL), sku, string(l.Intent), l.SteamID, l.Updated, string(data)); err != nil {
		return fmt.Errorf("failed to insert listing %s/%s/%s: %w", sku, l.Intent, l.SteamID, err)
	}
	return nil
}

// Upsert removes the listing at key and inserts the new one in one transaction.
func (r *SQLListingRepository) Upsert(ctx context.Context, key model.ListingKey, listing model.Listing) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(deleteListingSQL), key.SKU, string(key.Intent), key.SteamID); err != nil {
			return fmt.Errorf("failed to remove previous listing: %w", err)
		}
		return r.insertListing(ctx, tx, key.SKU, listing)
	})
}

// Delete removes the listing at key, if any.
func (r *SQLListingRepository) Delete(ctx context.Context, key model.ListingKey) error {
	if _, err := r.db.ExecContext(ctx, r.q(deleteListingSQL), key.SKU, string(key.Intent), key.SteamID); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}

// BulkApply runs the delete set and the insert set as two transactions.
func (r *SQLListingRepository) BulkApply(ctx context.Context, deletes []model.ListingKey, inserts []model.ItemListing) error {
	if len(deletes) > 0 {
		err := r.withTx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, r.q(deleteListingSQL))
			if err != nil {
				return fmt.Errorf("failed to prepare statement: %w", err)
			}
			defer stmt.Close()

			for _, key := range deletes {
				if _, err := stmt.ExecContext(ctx, key.SKU, string(key.Intent), key.SteamID); err != nil {
					return fmt.Errorf("failed to delete %s/%s/%s: %w", key.SKU, key.Intent, key.SteamID, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("bulk delete of %d listings failed: %w", len(deletes), err)
		}
	}

	if len(inserts) > 0 {
		err := r.withTx(ctx, func(tx *sql.Tx) error {
			for _, in := range inserts {
				if err := r.insertListing(ctx, tx, in.SKU, in.Listing); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("bulk insert of %d listings failed: %w", len(inserts), err)
		}
	}
	return nil
}

// ReplaceItemListings deletes every listing of sku and inserts the new set.
func (r *SQLListingRepository) ReplaceItemListings(ctx context.Context, sku string, listings []model.Listing) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q(ensureItemSQL), sku); err != nil {
			return fmt.Errorf("failed to create item %s: %w", sku, err)
		}
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM listings WHERE sku = ?`), sku); err != nil {
			return fmt.Errorf("failed to clear listings of %s: %w", sku, err)
		}
		for _, l := range listings {
			if err := r.insertListing(ctx, tx, sku, l); err != nil {
				return err
			}
		}
		return nil
	})
}

// EvictOlderThan deletes listings updated before now-horizon.
func (r *SQLListingRepository) EvictOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.q(`DELETE FROM listings WHERE updated < ?`), cutoff(r.now, horizon))
	if err != nil {
		return 0, fmt.Errorf("failed to evict listings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		log.Printf("[%s] Evicted %d stale listings (horizon: %v)", r.dialect.name, deleted, horizon)
	}
	return deleted, nil
}

// RecordSnapshotTime stores the refresh time in unix milliseconds.
func (r *SQLListingRepository) RecordSnapshotTime(ctx context.Context, sku string, at time.Time) error {
	query := `INSERT INTO items (sku, snapshot_time) VALUES (?, ?)
		ON CONFLICT (sku) DO UPDATE SET snapshot_time = excluded.snapshot_time`
	if _, err := r.db.ExecContext(ctx, r.q(query), sku, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record snapshot time: %w", err)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// AllSnapshotTimes returns the refresh time of every item.
func (r *SQLListingRepository) AllSnapshotTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sku, snapshot_time FROM items`)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot times: %w", err)
	}
	defer rows.Close()

	times := make(map[string]time.Time)
	for rows.Next() {
		var sku string
		var ms int64
		if err := rows.Scan(&sku, &ms); err != nil {
			return nil, err
		}
		times[sku] = fromMillis(ms)
	}
	return times, rows.Err()
}

// GetItem returns the record for sku, newest listings first.
func (r *SQLListingRepository) GetItem(ctx context.Context, sku string) (*model.ItemRecord, error) {
	var ms int64
	err := r.db.QueryRowContext(ctx, r.q(`SELECT snapshot_time FROM items WHERE sku = ?`), sku).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, r.q(`SELECT data FROM listings WHERE sku = ? ORDER BY updated DESC, steamid`), sku)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	defer rows.Close()

	rec := &model.ItemRecord{SKU: sku, Listings: []model.Listing{}, SnapshotTime: fromMillis(ms)}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var l model.Listing
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("failed to decode listing of %s: %w", sku, err)
		}
		rec.Listings = append(rec.Listings, l)
	}
	return rec, rows.Err()
}

// GetStats returns statistics about the store.
func (r *SQLListingRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var items, listings int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&items); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&listings); err != nil {
		return nil, err
	}
	stats["total_items"] = items
	stats["total_listings"] = listings

	var newest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(updated) FROM listings").Scan(&newest); err == nil && newest.Valid {
		stats["newest_listing"] = time.Unix(newest.Int64, 0).UTC()
	}

	var size int64
	if err := r.db.QueryRowContext(ctx, r.dialect.sizeQuery).Scan(&size); err == nil {
		stats["db_size_bytes"] = size
	}

	if r.dialect.numbered {
		dbStats := r.db.Stats()
		stats["connections"] = map[string]interface{}{
			"open":     dbStats.OpenConnections,
			"in_use":   dbStats.InUse,
			"idle":     dbStats.Idle,
			"max_open": dbStats.MaxOpenConnections,
		}
	}

	return stats, nil
}

// Close closes the database connection.
func (r *SQLListingRepository) Close() error {
	return r.db.Close()
}

var _ ListingRepository = (*SQLListingRepository)(nil)
