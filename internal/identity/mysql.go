package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLResolver resolves names from a catalog table:
//
//	CREATE TABLE item_skus (name VARCHAR(255) PRIMARY KEY, sku VARCHAR(64) NOT NULL)
type MySQLResolver struct {
	db *sql.DB
}

// NewMySQLResolver opens the catalog database.
func NewMySQLResolver(dsn string) (*MySQLResolver, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	log.Println("[MySQLResolver] Connected to item catalog")
	return NewMySQLResolverWithDB(db), nil
}

// NewMySQLResolverWithDB wraps an existing handle.
func NewMySQLResolverWithDB(db *sql.DB) *MySQLResolver {
	return &MySQLResolver{db: db}
}

// Resolve looks the name up in item_skus.
func (r *MySQLResolver) Resolve(ctx context.Context, name string) (string, error) {
	query := `SELECT sku FROM item_skus WHERE name = ? LIMIT 1`

	var sku string
	err := r.db.QueryRowContext(ctx, query, name).Scan(&sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUnknownItem
		}
		return "", fmt.Errorf("failed to query item catalog: %w", err)
	}
	return sku, nil
}

// Close closes the database handle.
func (r *MySQLResolver) Close() error {
	return r.db.Close()
}
