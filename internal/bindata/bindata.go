// Package bindata stores binary blobs keyed by object type/id/key, the
// binary counterpart of the metadata store.
package bindata

import (
	"context"

	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
)

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Get returns the blob for a single key.
func (s *Store) Get(ctx context.Context, objectType string, objectID int64, key string) ([]byte, error) {
	value, ok, err := database.FetchScalar[[]byte](ctx, s.db,
		`select value from object_bindata where object_type = $1 and object_id = $2 and "key" = $3`,
		objectType, objectID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errdef.ErrNotFound
	}
	return value, nil
}

// Set upserts a blob.
func (s *Store) Set(ctx context.Context, objectType string, objectID int64, key string, value []byte) error {
	_, err := s.db.Execute(ctx,
		`insert into object_bindata (object_type, object_id, "key", value)
		values ($1, $2, $3, $4)
		on conflict (object_type, object_id, "key") do update set value = excluded.value`,
		objectType, objectID, key, value)
	return err
}

// Delete removes the named keys, or every key when keys is empty.
func (s *Store) Delete(ctx context.Context, objectType string, objectID int64, keys []string) error {
	if len(keys) == 0 {
		_, err := s.db.Execute(ctx,
			`delete from object_bindata where object_type = $1 and object_id = $2`,
			objectType, objectID)
		return err
	}
	stmts := make([]database.Stmt, 0, len(keys))
	for _, k := range keys {
		stmts = append(stmts, database.Stmt{
			Query: `delete from object_bindata where object_type = $1 and object_id = $2 and "key" = $3`,
			Args:  []any{objectType, objectID, k},
		})
	}
	return s.db.ExecuteBatch(ctx, stmts)
}
