// Package identity maps item display names to canonical item identities (SKUs).
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownItem is returned when a resolver has no identity for a name.
var ErrUnknownItem = errors.New("unknown item")

// Resolver maps an item display name to its canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Passthrough uses the trimmed display name as the identity.
type Passthrough struct{}

// Resolve returns the trimmed name, or ErrUnknownItem for blank names.
func (Passthrough) Resolve(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrUnknownItem
	}
	return name, nil
}
