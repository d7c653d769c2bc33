package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"listingsync/internal/cache"
)

func TestPassthrough(t *testing.T) {
	sku, err := Passthrough{}.Resolve(context.Background(), "  Name Tag ")
	if err != nil || sku != "Name Tag" {
		t.Fatalf("got %q, %v", sku, err)
	}
	if _, err := (Passthrough{}).Resolve(context.Background(), " "); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestMemo_ResolvesOnce(t *testing.T) {
	var calls int32
	next := ResolverFunc(func(ctx context.Context, name string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "sku:" + name, nil
	})
	m := NewMemo(next, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sku, err := m.Resolve(ctx, "Name Tag")
		if err != nil || sku != "sku:Name Tag" {
			t.Fatalf("got %q, %v", sku, err)
		}
	}
	if calls != 1 {
		t.Fatalf("resolver called %d times", calls)
	}
	if m.Len(ctx) != 1 {
		t.Fatalf("len=%d", m.Len(ctx))
	}
}

func TestMemo_FailuresNotCached(t *testing.T) {
	var calls int32
	next := ResolverFunc(func(ctx context.Context, name string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", ErrUnknownItem
	})
	m := NewMemo(next, cache.NewMemoryCache())

	for i := 0; i < 3; i++ {
		if _, err := m.Resolve(context.Background(), "Nope"); !errors.Is(err, ErrUnknownItem) {
			t.Fatalf("expected ErrUnknownItem, got %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("failed lookups should not be memoized, calls=%d", calls)
	}
}

func TestHTTPResolver(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/getSku/fromName/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/getSku/fromName/") {
		case "Name Tag":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":true,"sku":"5020;6"}`))
		case "Bogus":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"success":false,"message":"not found"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	r := NewHTTPResolver(ts.URL, 0)
	ctx := context.Background()

	sku, err := r.Resolve(ctx, "Name Tag")
	if err != nil || sku != "5020;6" {
		t.Fatalf("got %q, %v", sku, err)
	}
	if _, err := r.Resolve(ctx, "Bogus"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if _, err := r.Resolve(ctx, "Broken"); err == nil || errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestMySQLResolver_Integration(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set; integration test skipped")
	}
	r, err := NewMySQLResolver(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS item_skus (name VARCHAR(255) PRIMARY KEY, sku VARCHAR(64) NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err := r.db.ExecContext(ctx, `REPLACE INTO item_skus (name, sku) VALUES ('Name Tag', '5020;6')`); err != nil {
		t.Fatal(err)
	}

	sku, err := r.Resolve(ctx, "Name Tag")
	if err != nil || sku != "5020;6" {
		t.Fatalf("got %q, %v", sku, err)
	}
	if _, err := r.Resolve(ctx, "definitely not an item"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}
