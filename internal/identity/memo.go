package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"listingsync/internal/cache"
)

// Memo caches resolved identities for the lifetime of the backing cache.
// Entries are never invalidated: the name to identity mapping is assumed
// stable. Growth is bounded only by the item catalog; Len reports it.
// Failed lookups are not cached so a later catalog update is picked up.
type Memo struct {
	next  Resolver
	store cache.Cache
}

// NewMemo wraps next with a cache. A nil store uses a MemoryCache.
func NewMemo(next Resolver, store cache.Cache) *Memo {
	if store == nil {
		store = cache.NewMemoryCache()
	}
	return &Memo{next: next, store: store}
}

// Resolve returns the cached identity or asks the wrapped resolver.
func (m *Memo) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrUnknownItem
	}

	if v, err := m.store.Get(ctx, name); err == nil {
		return string(v), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		log.Printf("[IdentityMemo] cache read failed for %q: %v", name, err)
	}

	sku, err := m.next.Resolve(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}

	if err := m.store.Set(ctx, name, []byte(sku), 0); err != nil {
		log.Printf("[IdentityMemo] cache write failed for %q: %v", name, err)
	}
	return sku, nil
}

// Len returns the number of memoized identities.
func (m *Memo) Len(ctx context.Context) int64 {
	n, err := m.store.Len(ctx)
	if err != nil {
		return -1
	}
	return n
}
