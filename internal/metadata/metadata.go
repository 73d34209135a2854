// Package metadata is a generic string key-value store attached to any
// object type/id pair. Consumers treat it as opaque lookups; the engine only
// touches it to purge entries when their owner is deleted.
package metadata

import (
	"context"
	"database/sql"

	"github.com/upwatch/upwatch/internal/database"
)

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Get returns all metadata for an object.
func (s *Store) Get(ctx context.Context, objectType string, objectID int64) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.FetchAll(ctx,
		`select "key", value from object_metadata where object_type = $1 and object_id = $2`,
		func(rows *sql.Rows) error {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			out[k] = v
			return nil
		}, objectType, objectID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update upserts the given keys, leaving others untouched.
func (s *Store) Update(ctx context.Context, objectType string, objectID int64, values map[string]string) error {
	stmts := make([]database.Stmt, 0, len(values))
	for k, v := range values {
		stmts = append(stmts, database.Stmt{
			Query: `insert into object_metadata (object_type, object_id, "key", value)
				values ($1, $2, $3, $4)
				on conflict (object_type, object_id, "key") do update set value = excluded.value`,
			Args: []any{objectType, objectID, k, v},
		})
	}
	return s.db.ExecuteBatch(ctx, stmts)
}

// Delete removes the named keys, or every key when keys is empty.
func (s *Store) Delete(ctx context.Context, objectType string, objectID int64, keys []string) error {
	if len(keys) == 0 {
		_, err := s.db.Execute(ctx,
			`delete from object_metadata where object_type = $1 and object_id = $2`,
			objectType, objectID)
		return err
	}
	stmts := make([]database.Stmt, 0, len(keys))
	for _, k := range keys {
		stmts = append(stmts, database.Stmt{
			Query: `delete from object_metadata where object_type = $1 and object_id = $2 and "key" = $3`,
			Args:  []any{objectType, objectID, k},
		})
	}
	return s.db.ExecuteBatch(ctx, stmts)
}

// FindObjects returns the ids of objects of a type carrying key=value.
func (s *Store) FindObjects(ctx context.Context, objectType, key, value string) ([]int64, error) {
	var ids []int64
	err := s.db.FetchAll(ctx,
		`select object_id from object_metadata where object_type = $1 and "key" = $2 and value = $3`,
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		}, objectType, key, value)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
