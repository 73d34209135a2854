// Package contact manages contacts, contact groups and their links to
// monitors. Contacts are database-only state: they are loaded fresh each
// time a notification is sent, never cached in memory.
package contact

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
)

// Contact is a name/email/phone set used as a notification recipient.
type Contact struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Active bool   `json:"active"`
}

// Group is a named collection of contacts.
type Group struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Recipients is the deduplicated address set for a notification.
type Recipients struct {
	Emails []string
	Phones []string
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) contactExists(ctx context.Context, id int64) (bool, error) {
	n, _, err := database.FetchScalar[int64](ctx, s.db,
		`select count(*) from contacts where id = $1`, id)
	return n > 0, err
}

func (s *Store) groupExists(ctx context.Context, id int64) (bool, error) {
	n, _, err := database.FetchScalar[int64](ctx, s.db,
		`select count(*) from contact_groups where id = $1`, id)
	return n > 0, err
}

// Create adds a contact and returns its id.
func (s *Store) Create(ctx context.Context, name, email, phone string, active bool) (int64, error) {
	return s.db.InsertID(ctx,
		`insert into contacts (name, email, phone, active) values ($1, $2, $3, $4) returning id`,
		name, email, phone, active)
}

// Update modifies the whitelisted contact fields given in data.
func (s *Store) Update(ctx context.Context, id int64, data map[string]any) error {
	if ok, err := s.contactExists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact %d does not exist", id)
	}
	for key, value := range data {
		switch key {
		case "name", "email", "phone", "active":
		default:
			return errdef.InvalidArgumentsf("unknown contact field %q", key)
		}
		q := fmt.Sprintf(`update contacts set %s = $1 where id = $2`, key)
		if _, err := s.db.Execute(ctx, q, value, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a contact and its memberships.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if ok, err := s.contactExists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact %d does not exist", id)
	}
	return s.db.ExecuteBatch(ctx, []database.Stmt{
		{Query: `delete from contacts where id = $1`, Args: []any{id}},
		{Query: `delete from contact_group_contacts where contact_id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_contacts where contact_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_contacts where contact_id = $1`, Args: []any{id}},
	})
}

func scanContact(rows *sql.Rows) (Contact, error) {
	var c Contact
	var name, email, phone sql.NullString
	if err := rows.Scan(&c.ID, &name, &email, &phone, &c.Active); err != nil {
		return c, err
	}
	c.Name, c.Email, c.Phone = name.String, email.String, phone.String
	return c, nil
}

// List returns all contacts.
func (s *Store) List(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := s.db.FetchAll(ctx,
		`select id, name, email, phone, active from contacts`,
		func(rows *sql.Rows) error {
			c, err := scanContact(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	return out, err
}

// Get returns one contact.
func (s *Store) Get(ctx context.Context, id int64) (*Contact, error) {
	var found *Contact
	err := s.db.FetchAll(ctx,
		`select id, name, email, phone, active from contacts where id = $1`,
		func(rows *sql.Rows) error {
			c, err := scanContact(rows)
			if err != nil {
				return err
			}
			found = &c
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

// CreateGroup adds a contact group and returns its id.
func (s *Store) CreateGroup(ctx context.Context, name string, active bool) (int64, error) {
	return s.db.InsertID(ctx,
		`insert into contact_groups (name, active) values ($1, $2) returning id`,
		name, active)
}

// UpdateGroup modifies the whitelisted group fields given in data.
func (s *Store) UpdateGroup(ctx context.Context, id int64, data map[string]any) error {
	if ok, err := s.groupExists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact group %d does not exist", id)
	}
	for key, value := range data {
		switch key {
		case "name", "active":
		default:
			return errdef.InvalidArgumentsf("unknown contact group field %q", key)
		}
		q := fmt.Sprintf(`update contact_groups set %s = $1 where id = $2`, key)
		if _, err := s.db.Execute(ctx, q, value, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGroup removes a group and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	if ok, err := s.groupExists(ctx, id); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact group %d does not exist", id)
	}
	return s.db.ExecuteBatch(ctx, []database.Stmt{
		{Query: `delete from contact_groups where id = $1`, Args: []any{id}},
		{Query: `delete from contact_group_contacts where contact_group_id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_contact_groups where contact_group_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_contact_groups where contact_group_id = $1`, Args: []any{id}},
	})
}

// ListGroups returns all contact groups.
func (s *Store) ListGroups(ctx context.Context) ([]Group, error) {
	var out []Group
	err := s.db.FetchAll(ctx,
		`select id, name, active from contact_groups`,
		func(rows *sql.Rows) error {
			var g Group
			if err := rows.Scan(&g.ID, &g.Name, &g.Active); err != nil {
				return err
			}
			out = append(out, g)
			return nil
		})
	return out, err
}

// AddContactToGroup links a contact into a group.
func (s *Store) AddContactToGroup(ctx context.Context, groupID, contactID int64) error {
	if ok, err := s.groupExists(ctx, groupID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact group %d does not exist", groupID)
	}
	if ok, err := s.contactExists(ctx, contactID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact %d does not exist", contactID)
	}
	_, err := s.db.Execute(ctx,
		`insert into contact_group_contacts (contact_group_id, contact_id)
		values ($1, $2) on conflict do nothing`,
		groupID, contactID)
	return err
}

// RemoveContactFromGroup unlinks a contact from a group.
func (s *Store) RemoveContactFromGroup(ctx context.Context, groupID, contactID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from contact_group_contacts where contact_group_id = $1 and contact_id = $2`,
		groupID, contactID)
	return err
}

// AddContactToActiveMonitor links a contact directly to a monitor.
func (s *Store) AddContactToActiveMonitor(ctx context.Context, monitorID, contactID int64) error {
	if ok, err := s.contactExists(ctx, contactID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact %d does not exist", contactID)
	}
	_, err := s.db.Execute(ctx,
		`insert into active_monitor_contacts (active_monitor_id, contact_id)
		values ($1, $2) on conflict do nothing`,
		monitorID, contactID)
	return err
}

// RemoveContactFromActiveMonitor unlinks a contact from a monitor.
func (s *Store) RemoveContactFromActiveMonitor(ctx context.Context, monitorID, contactID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from active_monitor_contacts where active_monitor_id = $1 and contact_id = $2`,
		monitorID, contactID)
	return err
}

// AddGroupToActiveMonitor links a contact group to a monitor.
func (s *Store) AddGroupToActiveMonitor(ctx context.Context, monitorID, groupID int64) error {
	if ok, err := s.groupExists(ctx, groupID); err != nil {
		return err
	} else if !ok {
		return errdef.InvalidArgumentsf("contact group %d does not exist", groupID)
	}
	_, err := s.db.Execute(ctx,
		`insert into active_monitor_contact_groups (active_monitor_id, contact_group_id)
		values ($1, $2) on conflict do nothing`,
		monitorID, groupID)
	return err
}

// RemoveGroupFromActiveMonitor unlinks a contact group from a monitor.
func (s *Store) RemoveGroupFromActiveMonitor(ctx context.Context, monitorID, groupID int64) error {
	_, err := s.db.Execute(ctx,
		`delete from active_monitor_contact_groups where active_monitor_id = $1 and contact_group_id = $2`,
		monitorID, groupID)
	return err
}

// The four paths a contact can reach a monitor through. Inactive contacts
// and inactive contact groups are filtered everywhere.
var activeMonitorContactQueries = []string{
	`select contacts.id, contacts.email, contacts.phone
	from active_monitor_contacts, contacts
	where active_monitor_contacts.active_monitor_id = $1
	and active_monitor_contacts.contact_id = contacts.id
	and contacts.active = true`,

	`select contacts.id, contacts.email, contacts.phone
	from active_monitor_contact_groups, contact_groups, contact_group_contacts, contacts
	where active_monitor_contact_groups.active_monitor_id = $1
	and active_monitor_contact_groups.contact_group_id = contact_groups.id
	and contact_groups.active = true
	and contact_groups.id = contact_group_contacts.contact_group_id
	and contact_group_contacts.contact_id = contacts.id
	and contacts.active = true`,

	`select contacts.id, contacts.email, contacts.phone
	from monitor_group_active_monitors
	left join monitor_groups on monitor_group_active_monitors.monitor_group_id = monitor_groups.id
	left join monitor_group_contacts on monitor_group_contacts.monitor_group_id = monitor_groups.id
	left join contacts on contacts.id = monitor_group_contacts.contact_id
	where monitor_group_active_monitors.active_monitor_id = $1
	and contacts.active = true`,

	`select contacts.id, contacts.email, contacts.phone
	from monitor_group_active_monitors
	left join monitor_groups on monitor_group_active_monitors.monitor_group_id = monitor_groups.id
	left join monitor_group_contact_groups on monitor_group_contact_groups.monitor_group_id = monitor_groups.id
	left join contact_groups on contact_groups.id = monitor_group_contact_groups.contact_group_id
	left join contact_group_contacts on contact_group_contacts.contact_group_id = contact_groups.id
	left join contacts on contacts.id = contact_group_contacts.contact_id
	where monitor_group_active_monitors.active_monitor_id = $1
	and contact_groups.active = true
	and contacts.active = true`,
}

// RecipientsForActiveMonitor returns the deduplicated email and phone sets
// for a monitor: direct contacts, contact-group members, monitor-group
// contacts and monitor-group contact-group members.
func (s *Store) RecipientsForActiveMonitor(ctx context.Context, monitorID int64) (*Recipients, error) {
	seen := make(map[int64]bool)
	emails := make(map[string]bool)
	phones := make(map[string]bool)

	for _, q := range activeMonitorContactQueries {
		err := s.db.FetchAll(ctx, q, func(rows *sql.Rows) error {
			var id int64
			var email, phone sql.NullString
			if err := rows.Scan(&id, &email, &phone); err != nil {
				return err
			}
			if seen[id] {
				return nil
			}
			seen[id] = true
			if email.String != "" {
				emails[email.String] = true
			}
			if phone.String != "" {
				phones[phone.String] = true
			}
			return nil
		}, monitorID)
		if err != nil {
			return nil, err
		}
	}

	r := &Recipients{}
	for e := range emails {
		r.Emails = append(r.Emails, e)
	}
	for p := range phones {
		r.Phones = append(r.Phones, p)
	}
	return r, nil
}
