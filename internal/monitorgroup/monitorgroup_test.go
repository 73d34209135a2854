package monitorgroup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
	"github.com/upwatch/upwatch/internal/metadata"
	"github.com/upwatch/upwatch/internal/stats"
)

func newTestStore(t *testing.T) (*Store, *metadata.Store) {
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
	meta := metadata.NewStore(db)
	return NewStore(db, meta), meta
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rootID, err := s.Create(ctx, 0, "datacenters")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	childID, err := s.Create(ctx, rootID, "dc1")
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}

	root, err := s.Get(ctx, rootID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if root.ParentID != 0 || root.Name != "datacenters" {
		t.Errorf("root = %+v", root)
	}
	child, err := s.Get(ctx, childID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if child.ParentID != rootID {
		t.Errorf("child parent = %d, want %d", child.ParentID, rootID)
	}

	if _, err := s.Create(ctx, 9999, "orphan"); !errors.Is(err, errdef.ErrInvalidArguments) {
		t.Errorf("create with missing parent: got %v, want ErrInvalidArguments", err)
	}
}

func TestUpdateRejectsSelfParent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, 0, "dc1")
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(ctx, id, map[string]any{"parent_id": id})
	if !errors.Is(err, errdef.ErrInvalidArguments) {
		t.Errorf("self-parent update: got %v, want ErrInvalidArguments", err)
	}
	if err := s.Update(ctx, id, map[string]any{"name": "dc2"}); err != nil {
		t.Fatalf("Update name: %v", err)
	}
	g, _ := s.Get(ctx, id)
	if g.Name != "dc2" {
		t.Errorf("name = %q", g.Name)
	}
}

func TestDeleteRerootsChildren(t *testing.T) {
	s, meta := newTestStore(t)
	ctx := context.Background()

	parentID, err := s.Create(ctx, 0, "parent")
	if err != nil {
		t.Fatal(err)
	}
	childID, err := s.Create(ctx, parentID, "child")
	if err != nil {
		t.Fatal(err)
	}
	if err := meta.Update(ctx, "monitor_group", parentID, map[string]string{"site": "x"}); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, parentID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	child, err := s.Get(ctx, childID)
	if err != nil {
		t.Fatalf("Get child after parent delete: %v", err)
	}
	if child.ParentID != 0 {
		t.Errorf("child parent = %d, want re-rooted to 0", child.ParentID)
	}
	if _, err := s.Get(ctx, parentID); !errors.Is(err, errdef.ErrNotFound) {
		t.Errorf("deleted group still readable: %v", err)
	}
	md, err := meta.Get(ctx, "monitor_group", parentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(md) != 0 {
		t.Errorf("metadata survived group delete: %v", md)
	}
}

func TestMemberships(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, 0, "dc1")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddActiveMonitor(ctx, id, 42); err != nil {
		t.Fatalf("AddActiveMonitor: %v", err)
	}
	// Adding the same monitor twice is idempotent.
	if err := s.AddActiveMonitor(ctx, id, 42); err != nil {
		t.Errorf("duplicate AddActiveMonitor: %v", err)
	}
	if err := s.RemoveActiveMonitor(ctx, id, 42); err != nil {
		t.Fatalf("RemoveActiveMonitor: %v", err)
	}
	if err := s.AddActiveMonitor(ctx, 9999, 42); !errors.Is(err, errdef.ErrInvalidArguments) {
		t.Errorf("add to missing group: got %v, want ErrInvalidArguments", err)
	}
}
