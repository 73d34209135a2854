// Package monitorgroup manages hierarchical monitor groups and their
// monitor/contact memberships. Groups exist to attach contacts to many
// monitors at once; the notification recipient queries in the contact
// package consume the membership tables written here.
package monitorgroup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
	"github.com/upwatch/upwatch/internal/metadata"
)

// Group is a monitor group. ParentID is zero for root groups.
type Group struct {
	ID       int64  `json:"id"`
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name"`
}

type Store struct {
	db   *database.DB
	meta *metadata.Store
}

func NewStore(db *database.DB, meta *metadata.Store) *Store {
	return &Store{db: db, meta: meta}
}

func (s *Store) exists(ctx context.Context, id int64) (bool, error) {
	n, _, err := database.FetchScalar[int64](ctx, s.db,
		`select count(*) from monitor_groups where id = $1`, id)
	return n > 0, err
}

// Create adds a monitor group. parentID zero means no parent.
func (s *Store) Create(ctx context.Context, parentID int64, name string) (int64, error) {
	if parentID != 0 {
		if ok, err := s.exists(ctx, parentID); err != nil {
			return 0, err
		} else if !ok {
			return 0, errdef.InvalidArgumentsf("parent monitor group %d does not exist", parentID)
		}
	}
	var parent any
	if parentID != 0 {
		parent = parentID
	}
	return s.db.InsertID(ctx,
		`insert into monitor_groups (parent_id, name) values ($1, $2) returning id`,
		parent, name)
}

// Update modifies the whitelisted fields parent_id and name. A group can
// never be its own parent.
func (s *Store) Update(ctx context.Context, id int64, data map[string]any) error {
	if ok, err := s.exists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("monitor group %d does not exist", id)
	}
	for key, value := range data {
		switch key {
		case "parent_id":
			if pid, ok := value.(int64); ok && pid == id {
				return errdef.InvalidArgumentsf("monitor group %d can not be its own parent", id)
			}
		case "name":
		default:
			return errdef.InvalidArgumentsf("unknown monitor group field %q", key)
		}
		q := fmt.Sprintf(`update monitor_groups set %s = $1 where id = $2`, key)
		if _, err := s.db.Execute(ctx, q, value, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a group, its memberships and its metadata. Child groups are
// re-rooted, not deleted.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if ok, err := s.exists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("monitor group %d does not exist", id)
	}
	err := s.db.ExecuteBatch(ctx, []database.Stmt{
		{Query: `update monitor_groups set parent_id = null where parent_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_groups where id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_active_monitors where monitor_group_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_contacts where monitor_group_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_contact_groups where monitor_group_id = $1`, Args: []any{id}},
	})
	if err != nil {
		return err
	}
	return s.meta.Delete(ctx, "monitor_group", id, nil)
}

// List returns all monitor groups.
func (s *Store) List(ctx context.Context) ([]Group, error) {
	var out []Group
	err := s.db.FetchAll(ctx,
		`select id, parent_id, name from monitor_groups`,
		func(rows *sql.Rows) error {
			var g Group
			var parent sql.NullInt64
			if err := rows.Scan(&g.ID, &parent, &g.Name); err != nil {
				return err
			}
			g.ParentID = parent.Int64
			out = append(out, g)
			return nil
		})
	return out, err
}

// Get returns one monitor group.
func (s *Store) Get(ctx context.Context, id int64) (*Group, error) {
	var found *Group
	err := s.db.FetchAll(ctx,
		`select id, parent_id, name from monitor_groups where id = $1`,
		func(rows *sql.Rows) error {
			var g Group
			var parent sql.NullInt64
			if err := rows.Scan(&g.ID, &parent, &g.Name); err != nil {
				return err
			}
			g.ParentID = parent.Int64
			found = &g
			return nil
		}, id)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdef.ErrNotFound
	}
	return found, nil
}

// AddActiveMonitor links a monitor into a group.
func (s *Store) AddActiveMonitor(ctx context.Context, groupID, monitorID int64) error {
	if ok, err := s.exists(ctx, groupID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("monitor group %d does not exist", groupID)
	}
	_, err := s.db.Execute(ctx,
		`insert into monitor_group_active_monitors (monitor_group_id, active_monitor_id)
		values ($1, $2) on conflict do nothing`,
		groupID, monitorID)
	return err
}

// RemoveActiveMonitor unlinks a monitor from a group.
func (s *Store) RemoveActiveMonitor(ctx context.Context, groupID, monitorID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from monitor_group_active_monitors where monitor_group_id = $1 and active_monitor_id = $2`,
		groupID, monitorID)
	return err
}

// AddContact links a contact to a group.
func (s *Store) AddContact(ctx context.Context, groupID, contactID int64) error {
	if ok, err := s.exists(ctx, groupID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("monitor group %d does not exist", groupID)
	}
	_, err := s.db.Execute(ctx,
		`insert into monitor_group_contacts (monitor_group_id, contact_id)
		values ($1, $2) on conflict do nothing`,
		groupID, contactID)
	return err
}

// RemoveContact unlinks a contact from a group.
func (s *Store) RemoveContact(ctx context.Context, groupID, contactID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from monitor_group_contacts where monitor_group_id = $1 and contact_id = $2`,
		groupID, contactID)
	return err
}

// AddContactGroup links a contact group to a monitor group.
func (s *Store) AddContactGroup(ctx context.Context, groupID, contactGroupID int64) error {
	if ok, err := s.exists(ctx, groupID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("monitor group %d does not exist", groupID)
	}
	_, err := s.db.Execute(ctx,
		`insert into monitor_group_contact_groups (monitor_group_id, contact_group_id)
		values ($1, $2) on conflict do nothing`,
		groupID, contactGroupID)
	return err
}

// RemoveContactGroup unlinks a contact group from a monitor group.
func (s *Store) RemoveContactGroup(ctx context.Context, groupID, contactGroupID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from monitor_group_contact_groups where monitor_group_id = $1 and contact_group_id = $2`,
		groupID, contactGroupID)
	return err
}
