package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"listingsync/internal/model"

	"github.com/shopspring/decimal"
)

// Shape identifies which historical payload layout a listing uses.
type Shape int

const (
	// ShapeLive is the websocket layout: listedAt, bumpedAt, tradeOffersPreferred, buyoutOnly.
	ShapeLive Shape = iota
	// ShapeSnapshot is the snapshot layout: timestamp, bump, offers, buyout.
	ShapeSnapshot
)

func (s Shape) String() string {
	if s == ShapeSnapshot {
		return "snapshot"
	}
	return "live"
}

// Header is the part of a payload needed to filter an event before normalizing it.
type Header struct {
	AppID    int64
	ItemName string
}

// Update is a normalized listing-update: the item display name plus the canonical listing.
type Update struct {
	ItemName string
	Listing  model.Listing
}

// Deletion is a normalized listing-delete before identity resolution.
type Deletion struct {
	ItemName string
	Intent   model.Intent
	SteamID  string
}

type rawItem struct {
	Name string `json:"name"`
}

type rawPayload struct {
	AppID   flexInt         `json:"appid"`
	ID      flexString      `json:"id"`
	SteamID flexString      `json:"steamid"`
	Intent  flexString      `json:"intent"`
	Item    json.RawMessage `json:"item"`
	Details string          `json:"details"`

	Currencies map[string]json.RawMessage `json:"currencies"`
	UserAgent  json.RawMessage            `json:"userAgent"`

	ListedAt             *flexInt  `json:"listedAt"`
	BumpedAt             *flexInt  `json:"bumpedAt"`
	TradeOffersPreferred *flexBool `json:"tradeOffersPreferred"`
	BuyoutOnly           *flexBool `json:"buyoutOnly"`

	Timestamp *flexInt  `json:"timestamp"`
	Bump      *flexInt  `json:"bump"`
	Offers    *flexBool `json:"offers"`
	Buyout    *flexBool `json:"buyout"`
}

func (p *rawPayload) shape() Shape {
	if p.ListedAt != nil || p.BumpedAt != nil || p.TradeOffersPreferred != nil || p.BuyoutOnly != nil {
		return ShapeLive
	}
	if p.Timestamp != nil || p.Bump != nil || p.Offers != nil || p.Buyout != nil {
		return ShapeSnapshot
	}
	return ShapeLive
}

func (p *rawPayload) itemName() string {
	if len(p.Item) == 0 {
		return ""
	}
	var it rawItem
	if err := json.Unmarshal(p.Item, &it); err != nil {
		return ""
	}
	return strings.TrimSpace(it.Name)
}

// PeekHeader reads the app id and item name without normalizing the payload.
func PeekHeader(payload json.RawMessage) (Header, bool) {
	var h struct {
		AppID flexInt `json:"appid"`
		Item  rawItem `json:"item"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &h) != nil {
		return Header{}, false
	}
	return Header{AppID: int64(h.AppID), ItemName: strings.TrimSpace(h.Item.Name)}, true
}

// DetectShape reports the payload layout.
func DetectShape(payload json.RawMessage) Shape {
	var p rawPayload
	if json.Unmarshal(payload, &p) != nil {
		return ShapeLive
	}
	return p.shape()
}

// Normalize converts a listing-update payload into an Update.
// It returns nil when the payload has no item name, trader or intent.
func Normalize(payload json.RawMessage) *Update {
	p, ok := decode(payload)
	if !ok {
		return nil
	}
	name := p.itemName()
	if name == "" {
		return nil
	}
	l := p.listing()
	if l == nil {
		return nil
	}
	return &Update{ItemName: name, Listing: *l}
}

// NormalizeListing converts one snapshot entry into a listing. The item name
// is not required because snapshot entries are already scoped to an item.
func NormalizeListing(payload json.RawMessage) *model.Listing {
	p, ok := decode(payload)
	if !ok {
		return nil
	}
	return p.listing()
}

// NormalizeDeletion extracts the deletion key fields of a listing-delete payload.
func NormalizeDeletion(payload json.RawMessage) (Deletion, bool) {
	p, ok := decode(payload)
	if !ok {
		return Deletion{}, false
	}
	d := Deletion{
		ItemName: p.itemName(),
		Intent:   parseIntent(string(p.Intent)),
		SteamID:  strings.TrimSpace(string(p.SteamID)),
	}
	if d.ItemName == "" || d.SteamID == "" || !d.Intent.Valid() {
		return Deletion{}, false
	}
	return d, true
}

func decode(payload json.RawMessage) (*rawPayload, bool) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, false
	}
	var p rawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (p *rawPayload) listing() *model.Listing {
	steamID := strings.TrimSpace(string(p.SteamID))
	intent := parseIntent(string(p.Intent))
	if steamID == "" || !intent.Valid() {
		return nil
	}

	l := &model.Listing{
		ID:         string(p.ID),
		SteamID:    steamID,
		Intent:     intent,
		Currencies: parseCurrencies(p.Currencies),
		UserAgent:  parseUserAgent(p.UserAgent),
		Details:    p.Details,
		Item:       parseItem(p.Item),
	}

	switch p.shape() {
	case ShapeSnapshot:
		l.ListedAt = p.Timestamp.value()
		l.BumpedAt = p.Bump.value()
		l.TradeOffersPreferred = p.Offers.value()
		l.BuyoutOnly = p.Buyout.value()
	default:
		l.ListedAt = p.ListedAt.value()
		l.BumpedAt = p.BumpedAt.value()
		l.TradeOffersPreferred = p.TradeOffersPreferred.value()
		l.BuyoutOnly = p.BuyoutOnly.value()
	}

	l.Updated = l.ListedAt
	if l.BumpedAt > l.Updated {
		l.Updated = l.BumpedAt
	}
	return l
}

// parseIntent accepts "buy"/"sell" and the legacy numeric 0/1 form.
func parseIntent(s string) model.Intent {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "0":
		return model.IntentBuy
	case "sell", "1":
		return model.IntentSell
	default:
		return ""
	}
}

func parseCurrencies(raw map[string]json.RawMessage) model.Currencies {
	if len(raw) == 0 {
		return nil
	}
	out := make(model.Currencies, len(raw))
	for name, v := range raw {
		var d decimal.Decimal
		if err := d.UnmarshalJSON(v); err != nil {
			continue
		}
		out[name] = d
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseUserAgent accepts {"client": "..."} or a bare string.
func parseUserAgent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var ua struct {
		Client string `json:"client"`
	}
	if json.Unmarshal(raw, &ua) == nil {
		return ua.Client
	}
	return ""
}

func parseItem(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

// flexInt decodes numbers, numeric strings and null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(int64(x))
	return nil
}

func (f *flexInt) value() int64 {
	if f == nil {
		return 0
	}
	return int64(*f)
}

// flexBool decodes booleans, 0/1 numbers and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`)) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

func (f *flexBool) value() bool {
	return f != nil && bool(*f)
}

// flexString decodes strings and bare numbers (ids and steam ids arrive as both).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}
