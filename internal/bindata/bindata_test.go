package bindata

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
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

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob := []byte{0x00, 0x01, 0xff, 0xfe, 'x'}
	if err := s.Set(ctx, "active_monitor", 1, "probe-config", blob); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "active_monitor", 1, "probe-config")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("blob = %v, want %v", got, blob)
	}

	// Upsert replaces the value.
	if err := s.Set(ctx, "active_monitor", 1, "probe-config", []byte("new")); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	got, err = s.Get(ctx, "active_monitor", 1, "probe-config")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("blob after upsert = %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "active_monitor", 1, "nope")
	if !errors.Is(err, errdef.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, "active_monitor", 1, key, []byte(key)); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete(ctx, "active_monitor", 1, []string{"a"}); err != nil {
		t.Fatalf("Delete key: %v", err)
	}
	if _, err := s.Get(ctx, "active_monitor", 1, "a"); !errors.Is(err, errdef.ErrNotFound) {
		t.Errorf("key a survived delete: %v", err)
	}
	if _, err := s.Get(ctx, "active_monitor", 1, "b"); err != nil {
		t.Errorf("key b should survive: %v", err)
	}

	if err := s.Delete(ctx, "active_monitor", 1, nil); err != nil {
		t.Fatalf("Delete all: %v", err)
	}
	for _, key := range []string{"b", "c"} {
		if _, err := s.Get(ctx, "active_monitor", 1, key); !errors.Is(err, errdef.ErrNotFound) {
			t.Errorf("key %s survived full delete: %v", key, err)
		}
	}
}
