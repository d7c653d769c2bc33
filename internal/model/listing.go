package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Intent is the trade direction of a listing.
type Intent string

const (
	IntentBuy  Intent = "buy"
	IntentSell Intent = "sell"
)

// Valid reports whether the intent is buy or sell.
func (i Intent) Valid() bool {
	return i == IntentBuy || i == IntentSell
}

// Currencies is a price bundle keyed by currency name (e.g. "keys", "metal").
type Currencies map[string]decimal.Decimal

// Listing is one trader's offer for one item.
type Listing struct {
	ID                   string         `json:"id,omitempty" bson:"id,omitempty"`
	SteamID              string         `json:"steamid" bson:"steamid"`
	Intent               Intent         `json:"intent" bson:"intent"`
	Currencies           Currencies     `json:"currencies,omitempty" bson:"currencies,omitempty"`
	TradeOffersPreferred bool           `json:"trade_offers_preferred" bson:"trade_offers_preferred"`
	BuyoutOnly           bool           `json:"buyout_only" bson:"buyout_only"`
	ListedAt             int64          `json:"listed_at" bson:"listed_at"`
	BumpedAt             int64          `json:"bumped_at" bson:"bumped_at"`
	Updated              int64          `json:"updated" bson:"updated"` // unix seconds, drives eviction
	UserAgent            string         `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	Details              string         `json:"details,omitempty" bson:"details,omitempty"`
	Item                 map[string]any `json:"item,omitempty" bson:"item,omitempty"`
}

// Key returns the natural key of the listing under the given item identity.
func (l *Listing) Key(sku string) ListingKey {
	return ListingKey{SKU: sku, Intent: l.Intent, SteamID: l.SteamID}
}

// Stamp fills Updated from the listing timestamps, falling back to now.
func (l *Listing) Stamp(now time.Time) {
	l.Updated = l.ListedAt
	if l.BumpedAt > l.Updated {
		l.Updated = l.BumpedAt
	}
	if l.Updated == 0 {
		l.Updated = now.Unix()
	}
}

// ListingKey identifies exactly one listing: (item identity, intent, trader).
// It doubles as the deletion key.
type ListingKey struct {
	SKU     string `json:"sku"`
	Intent  Intent `json:"intent"`
	SteamID string `json:"steamid"`
}

// ItemListing pairs a listing with the item identity it belongs to.
type ItemListing struct {
	SKU     string
	Listing Listing
}

// ItemRecord is the persisted state for one item identity.
type ItemRecord struct {
	SKU          string    `json:"sku" bson:"sku"`
	Listings     []Listing `json:"listings" bson:"listings"`
	SnapshotTime time.Time `json:"snapshot_time" bson:"snapshot_time,omitempty"`
}

// Filter returns the listings with the given intent.
func (r *ItemRecord) Filter(intent Intent) []Listing {
	out := make([]Listing, 0, len(r.Listings))
	for _, l := range r.Listings {
		if l.Intent == intent {
			out = append(out, l)
		}
	}
	return out
}
