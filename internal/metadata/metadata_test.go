package metadata

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/stats"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := database.Open(cfg, logger, stats.NewRegistry())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return NewStore(db)
}

func TestUpdateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "active_monitor", 1, map[string]string{
		"owner": "ops",
		"site":  "stockholm",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Upsert overwrites existing keys and leaves others untouched.
	if err := s.Update(ctx, "active_monitor", 1, map[string]string{"owner": "netops"}); err != nil {
		t.Fatalf("Update upsert: %v", err)
	}

	got, err := s.Get(ctx, "active_monitor", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got["owner"] != "netops" || got["site"] != "stockholm" {
		t.Errorf("metadata = %v", got)
	}

	// Different object id is isolated.
	other, err := s.Get(ctx, "active_monitor", 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("metadata leaked across objects: %v", other)
	}
}

func TestDeleteKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "active_monitor", 1, map[string]string{
		"a": "1", "b": "2", "c": "3",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "active_monitor", 1, []string{"a", "c"}); err != nil {
		t.Fatalf("Delete keys: %v", err)
	}
	got, _ := s.Get(ctx, "active_monitor", 1)
	if len(got) != 1 || got["b"] != "2" {
		t.Errorf("metadata after partial delete = %v", got)
	}

	if err := s.Delete(ctx, "active_monitor", 1, nil); err != nil {
		t.Fatalf("Delete all: %v", err)
	}
	got, _ = s.Get(ctx, "active_monitor", 1)
	if len(got) != 0 {
		t.Errorf("metadata after full delete = %v", got)
	}
}

func TestFindObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for id, site := range map[int64]string{1: "stockholm", 2: "oslo", 3: "stockholm"} {
		if err := s.Update(ctx, "active_monitor", id, map[string]string{"site": site}); err != nil {
			t.Fatal(err)
		}
	}
	// Same key on a different object type must not match.
	if err := s.Update(ctx, "monitor_group", 9, map[string]string{"site": "stockholm"}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.FindObjects(ctx, "active_monitor", "site", "stockholm")
	if err != nil {
		t.Fatalf("FindObjects: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 matches", ids)
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[1] || !seen[3] {
		t.Errorf("ids = %v, want {1, 3}", ids)
	}
}
