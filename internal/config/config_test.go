package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.AppID != 440 || cfg.Feed.PongTimeout != 120*time.Second {
		t.Fatalf("feed=%+v", cfg.Feed)
	}
	if cfg.Snapshot.BatchSize != 10 || cfg.Snapshot.PriorityBatchSize != 10 {
		t.Fatalf("snapshot=%+v", cfg.Snapshot)
	}
	if cfg.Eviction.Horizon != 24*time.Hour {
		t.Fatalf("eviction=%+v", cfg.Eviction)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_TYPE", "sqlite")
	t.Setenv("SNAPSHOT_PRIORITY", "5021;6,5002;6")
	t.Setenv("EVICTION_INTERVAL", "0s")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Type != "sqlite" || cfg.Server.Address() != "0.0.0.0:9090" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Eviction.Interval != 0 {
		t.Fatalf("interval=%v", cfg.Eviction.Interval)
	}
	if !reflect.DeepEqual(cfg.Snapshot.Priority, []string{"5021;6", "5002;6"}) {
		t.Fatalf("priority=%v", cfg.Snapshot.Priority)
	}
}

func TestPriorityItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.yaml")
	content := "items:\n  - \"5002;6\"\n  - \"5000;6\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := SnapshotConfig{Priority: []string{"5021;6", "5002;6"}, PriorityFile: path}
	got, err := s.PriorityItems()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"5021;6", "5002;6", "5000;6"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PriorityItems()=%v want %v", got, want)
	}

	s.PriorityFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := s.PriorityItems(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDSNs(t *testing.T) {
	s := StoreConfig{User: "u", Password: "p", Host: "h", Port: 5432, Name: "n", SSLMode: "disable"}
	if got := s.PostgresDSN(); got != "postgres://u:p@h:5432/n?sslmode=disable" {
		t.Fatalf("PostgresDSN=%q", got)
	}
	i := IdentityConfig{User: "u", Password: "p", Host: "h", Port: 3306, Name: "items"}
	if got := i.DSN(); got != "u:p@tcp(h:3306)/items?parseTime=true" {
		t.Fatalf("DSN=%q", got)
	}
}
