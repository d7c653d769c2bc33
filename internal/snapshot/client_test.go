package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classifieds/listings/snapshot" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch q.Get("sku") {
		case "5021;6":
			if q.Get("appid") != "440" || q.Get("token") != "secret" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"listings":[{"steamid":"S1","intent":"sell"},{"steamid":"S2","intent":"buy"}],"createdAt":1700000000.5}`))
		case "limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "empty":
			w.Write([]byte(`{"listings":[],"createdAt":1}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "secret", Timeout: 5 * time.Second})
	ctx := context.Background()

	snap, err := c.Fetch(ctx, "5021;6", 440)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Listings) != 2 {
		t.Fatalf("listings=%d", len(snap.Listings))
	}
	if got := snap.Created(); got.Unix() != 1700000000 || got.Nanosecond() != 500000000 {
		t.Fatalf("created=%v", got)
	}

	snap, err = c.Fetch(ctx, "empty", 440)
	if err != nil || len(snap.Listings) != 0 {
		t.Fatalf("empty: %+v %v", snap, err)
	}

	_, err = c.Fetch(ctx, "limited", 440)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want ErrRateLimited", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
		t.Fatalf("retry hint=%v", err)
	}

	if _, err := c.Fetch(ctx, "broken", 440); err == nil || errors.Is(err, ErrRateLimited) {
		t.Fatalf("err=%v want plain failure", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"":    0,
		"3":   3 * time.Second,
		"-1":  0,
		"abc": 0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q)=%v want %v", in, got, want)
		}
	}
}
