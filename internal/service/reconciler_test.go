package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"listingsync/internal/event"
	"listingsync/internal/identity"
	"listingsync/internal/model"
)

var testResolver = identity.ResolverFunc(func(_ context.Context, name string) (string, error) {
	switch name {
	case "Name Tag":
		return "5020;6", nil
	case "Key":
		return "5021;6", nil
	default:
		return "", identity.ErrUnknownItem
	}
})

func updatePayload(name, steamID, intent string, listedAt int64, metal string) string {
	return fmt.Sprintf(`{"appid":440,"item":{"name":%q},"steamid":%q,"intent":%q,"listedAt":%d,"currencies":{"metal":%s}}`,
		name, steamID, intent, listedAt, metal)
}

func deletePayload(name, steamID, intent string) string {
	return fmt.Sprintf(`{"appid":440,"item":{"name":%q},"steamid":%q,"intent":%q}`, name, steamID, intent)
}

func env(name, payload string) event.Envelope {
	return event.Envelope{Event: name, Payload: json.RawMessage(payload)}
}

func newTestReconciler(repo *memRepo) *Reconciler {
	r := NewReconciler(repo, testResolver, nil)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	return r
}

func TestReconcile_UpdateThenDeleteLeavesNothing(t *testing.T) {
	repo := newMemRepo()
	repo.Upsert(context.Background(), model.ListingKey{SKU: "5020;6", Intent: model.IntentSell, SteamID: "S1"},
		model.Listing{SteamID: "S1", Intent: model.IntentSell, Updated: 1})

	res, err := newTestReconciler(repo).Reconcile(context.Background(), []event.Envelope{
		env(event.NameListingUpdate, updatePayload("Name Tag", "S1", "sell", 10, "1")),
		env(event.NameListingDelete, deletePayload("Name Tag", "S1", "sell")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Deletes != 1 || res.Inserts != 0 {
		t.Fatalf("result=%+v", res)
	}
	if repo.bulkCalls != 1 {
		t.Fatalf("bulk calls=%d want 1", repo.bulkCalls)
	}
	if ls := repo.listings("5020;6"); len(ls) != 0 {
		t.Fatalf("listings=%+v want none", ls)
	}
}

func TestReconcile_LastUpdateWins(t *testing.T) {
	repo := newMemRepo()
	res, err := newTestReconciler(repo).Reconcile(context.Background(), []event.Envelope{
		env(event.NameListingUpdate, updatePayload("Name Tag", "S1", "sell", 10, "1")),
		env(event.NameListingUpdate, updatePayload("Name Tag", "S1", "sell", 20, "2")),
		env(event.NameListingUpdate, updatePayload("Name Tag", "S1", "buy", 15, "3")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Deletes != 2 || res.Inserts != 2 {
		t.Fatalf("result=%+v", res)
	}

	ls := repo.listings("5020;6")
	if len(ls) != 2 {
		t.Fatalf("listings=%+v", ls)
	}
	for _, l := range ls {
		if l.Intent == model.IntentSell && (l.Updated != 20 || l.Currencies["metal"].String() != "2") {
			t.Fatalf("sell listing not superseded: %+v", l)
		}
	}
}

func TestReconcile_DeleteThenUpdateInserts(t *testing.T) {
	repo := newMemRepo()
	deletes, inserts, _ := newTestReconciler(repo).Plan(context.Background(), []event.Envelope{
		env(event.NameListingDelete, deletePayload("Key", "S9", "buy")),
		env(event.NameListingUpdate, updatePayload("Key", "S9", "buy", 0, "1")),
	})
	if len(deletes) != 1 || len(inserts) != 1 {
		t.Fatalf("deletes=%v inserts=%v", deletes, inserts)
	}
	if inserts[0].Listing.Updated != 1000 {
		t.Fatalf("missing timestamps must be stamped with ingest time, got %d", inserts[0].Listing.Updated)
	}
}

func TestReconcile_DropsBadEvents(t *testing.T) {
	repo := newMemRepo()
	res, err := newTestReconciler(repo).Reconcile(context.Background(), []event.Envelope{
		env(event.NameListingUpdate, `{"appid":440,"item":{"name":"Name Tag"}}`),
		env(event.NameListingUpdate, updatePayload("Mystery", "S1", "sell", 10, "1")),
		env(event.NameListingDelete, `{"item":{"name":"Key"}}`),
		env("client-connect", `{}`),
		env(event.NameListingUpdate, updatePayload("Key", "S2", "sell", 10, "1")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dropped != 3 || res.Inserts != 1 {
		t.Fatalf("result=%+v", res)
	}
	if ls := repo.listings("5021;6"); len(ls) != 1 {
		t.Fatalf("listings=%+v", ls)
	}
}

func TestReconcile_FailedDeleteSkipsInserts(t *testing.T) {
	repo := newMemRepo()
	repo.failDelete = true

	_, err := newTestReconciler(repo).Reconcile(context.Background(), []event.Envelope{
		env(event.NameListingUpdate, updatePayload("Key", "S2", "sell", 10, "1")),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if ls := repo.listings("5021;6"); len(ls) != 0 {
		t.Fatalf("insert applied after failed delete: %+v", ls)
	}
}

func TestReconcile_EmptyBatchSkipsStore(t *testing.T) {
	repo := newMemRepo()
	if _, err := newTestReconciler(repo).Reconcile(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if repo.bulkCalls != 0 {
		t.Fatalf("bulk calls=%d", repo.bulkCalls)
	}
}
