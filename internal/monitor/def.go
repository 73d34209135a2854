package monitor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/errdef"
	"github.com/upwatch/upwatch/internal/tmpl"
)

// ParamSpec describes one parameter a monitor definition accepts.
type ParamSpec struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"default_value"`
}

// Def is a monitor definition: an executable plus templates for its argv and
// a human-readable description, and the parameter schema monitors supply
// values for. Defs are kept in memory and mirrored to the database on every
// mutation.
type Def struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Active          bool        `json:"active"`
	CmdlineFilename string      `json:"cmdline_filename"`
	CmdlineArgsTmpl string      `json:"cmdline_args_tmpl"`
	DescriptionTmpl string      `json:"description_tmpl"`
	ArgSpec         []ParamSpec `json:"arg_spec"`
}

func (d *Def) String() string {
	return fmt.Sprintf("<ActiveMonitorDef(%d/%s)>", d.ID, d.CmdlineFilename)
}

func (d *Def) paramWithName(name string) *ParamSpec {
	for i := range d.ArgSpec {
		if d.ArgSpec[i].Name == name {
			return &d.ArgSpec[i]
		}
	}
	return nil
}

// effectiveArgs merges definition defaults with the monitor's arguments.
func (d *Def) effectiveArgs(monitorArgs map[string]string) map[string]string {
	args := make(map[string]string, len(d.ArgSpec)+len(monitorArgs))
	for _, spec := range d.ArgSpec {
		args[spec.Name] = spec.DefaultValue
	}
	for name, value := range monitorArgs {
		args[name] = value
	}
	return args
}

// ExpandArgs renders the argv template with a monitor's arguments and
// shell-splits the result.
func (d *Def) ExpandArgs(monitorArgs map[string]string) ([]string, error) {
	expanded, err := tmpl.Render(d.CmdlineArgsTmpl, d.effectiveArgs(monitorArgs))
	if err != nil {
		return nil, fmt.Errorf("failed to expand argv template for def %d: %w", d.ID, err)
	}
	return tmpl.SplitArgs(expanded), nil
}

// ExpandDescription renders the description template with a monitor's
// arguments. Used when sending notifications and in event payloads.
func (d *Def) ExpandDescription(monitorArgs map[string]string) (string, error) {
	desc, err := tmpl.Render(d.DescriptionTmpl, d.effectiveArgs(monitorArgs))
	if err != nil {
		return "", fmt.Errorf("failed to expand description template for def %d: %w", d.ID, err)
	}
	return desc, nil
}

// ValidateArgs checks a monitor argument map against the parameter schema.
// Unknown names always fail; missing required parameters fail unless
// permitMissing is set (partial updates).
func (d *Def) ValidateArgs(monitorArgs map[string]string, permitMissing bool) error {
	if !permitMissing {
		for _, spec := range d.ArgSpec {
			if spec.Required {
				if _, ok := monitorArgs[spec.Name]; !ok {
					return errdef.InvalidArgumentsf("missing argument %s", spec.Name)
				}
			}
		}
	}
	for name := range monitorArgs {
		if d.paramWithName(name) == nil {
			return errdef.InvalidArgumentsf("invalid argument %s", name)
		}
	}
	return nil
}

// CreateDef adds a monitor definition with an empty parameter schema.
func (mgr *Manager) CreateDef(ctx context.Context, name, description string, active bool,
	cmdlineFilename, cmdlineArgsTmpl, descriptionTmpl string) (*Def, error) {

	id, err := mgr.db.InsertID(ctx,
		`insert into active_monitor_defs
		(name, description, active, cmdline_filename, cmdline_args_tmpl, description_tmpl)
		values ($1, $2, $3, $4, $5, $6) returning id`,
		name, description, active, cmdlineFilename, cmdlineArgsTmpl, descriptionTmpl)
	if err != nil {
		return nil, err
	}
	def := &Def{
		ID:              id,
		Name:            name,
		Description:     description,
		Active:          active,
		CmdlineFilename: cmdlineFilename,
		CmdlineArgsTmpl: cmdlineArgsTmpl,
		DescriptionTmpl: descriptionTmpl,
	}
	mgr.mu.Lock()
	mgr.defs[id] = def
	mgr.mu.Unlock()
	mgr.logger.Info("created active monitor def", "def", def.String())
	return def, nil
}

// GetDef returns a definition by id.
func (mgr *Manager) GetDef(id int64) (*Def, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	def, ok := mgr.defs[id]
	if !ok {
		return nil, errdef.InvalidArgumentsf("monitor def %d does not exist", id)
	}
	return def, nil
}

// FindDefByName returns a definition by name, or nil.
func (mgr *Manager) FindDefByName(name string) *Def {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, def := range mgr.defs {
		if def.Name == name {
			return def
		}
	}
	return nil
}

// ListDefs returns all definitions.
func (mgr *Manager) ListDefs() []*Def {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]*Def, 0, len(mgr.defs))
	for _, def := range mgr.defs {
		out = append(out, def)
	}
	return out
}

// defUpdateFields is the whitelist of definition fields UpdateDef accepts.
var defUpdateFields = map[string]bool{
	"name":              true,
	"description":       true,
	"active":            true,
	"cmdline_filename":  true,
	"cmdline_args_tmpl": true,
	"description_tmpl":  true,
}

// UpdateDef modifies whitelisted definition fields. Changing either template
// flushes the cached expansions of every referring monitor.
func (mgr *Manager) UpdateDef(ctx context.Context, id int64, params map[string]any) error {
	def, err := mgr.GetDef(id)
	if err != nil {
		return err
	}
	for key := range params {
		if !defUpdateFields[key] {
			return errdef.InvalidArgumentsf("unknown monitor def field %q", key)
		}
	}
	mgr.logger.Info("updating monitor def", "def", def.String())
	for key, value := range params {
		q := fmt.Sprintf(`update active_monitor_defs set %s = $1 where id = $2`, key)
		if _, err := mgr.db.Execute(ctx, q, value, id); err != nil {
			return err
		}
	}

	mgr.mu.Lock()
	if v, ok := params["name"].(string); ok {
		def.Name = v
	}
	if v, ok := params["description"].(string); ok {
		def.Description = v
	}
	if v, ok := params["active"].(bool); ok {
		def.Active = v
	}
	if v, ok := params["cmdline_filename"].(string); ok {
		def.CmdlineFilename = v
	}
	if v, ok := params["cmdline_args_tmpl"].(string); ok {
		def.CmdlineArgsTmpl = v
	}
	if v, ok := params["description_tmpl"].(string); ok {
		def.DescriptionTmpl = v
	}
	mgr.mu.Unlock()

	mgr.cache.FlushAll()
	return nil
}

// DeleteDef removes a definition. Refused while any monitor references it.
func (mgr *Manager) DeleteDef(ctx context.Context, id int64) error {
	def, err := mgr.GetDef(id)
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	for _, m := range mgr.monitors {
		if m.def.ID == id {
			mgr.mu.Unlock()
			return fmt.Errorf("%w: monitor def %d is referenced by monitor %d", errdef.ErrInUse, id, m.ID)
		}
	}
	delete(mgr.defs, id)
	mgr.mu.Unlock()

	mgr.cache.FlushAll()
	mgr.logger.Info("deleted active monitor def", "def", def.String())
	return mgr.db.ExecuteBatch(ctx, []database.Stmt{
		{Query: `delete from active_monitor_defs where id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_def_args where active_monitor_def_id = $1`, Args: []any{id}},
	})
}

// SetDefParam adds or updates one parameter of a definition.
func (mgr *Manager) SetDefParam(ctx context.Context, defID int64, name, displayName, description string,
	required bool, defaultValue string) error {

	def, err := mgr.GetDef(defID)
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	existing := def.paramWithName(name)
	mgr.mu.Unlock()

	if existing != nil {
		_, err = mgr.db.Execute(ctx,
			`update active_monitor_def_args
			set name = $1, display_name = $2, description = $3, required = $4, default_value = $5
			where id = $6`,
			name, displayName, description, required, defaultValue, existing.ID)
		if err != nil {
			return err
		}
		mgr.mu.Lock()
		existing.DisplayName = displayName
		existing.Description = description
		existing.Required = required
		existing.DefaultValue = defaultValue
		mgr.mu.Unlock()
	} else {
		argID, err := mgr.db.InsertID(ctx,
			`insert into active_monitor_def_args
			(active_monitor_def_id, name, display_name, description, required, default_value)
			values ($1, $2, $3, $4, $5, $6) returning id`,
			defID, name, displayName, description, required, defaultValue)
		if err != nil {
			return err
		}
		mgr.mu.Lock()
		def.ArgSpec = append(def.ArgSpec, ParamSpec{
			ID:           argID,
			Name:         name,
			DisplayName:  displayName,
			Description:  description,
			Required:     required,
			DefaultValue: defaultValue,
		})
		mgr.mu.Unlock()
	}

	mgr.logger.Info("set monitor def arg", "def", def.String(), "name", name, "default_value", defaultValue)
	mgr.cache.FlushAll()
	return nil
}

// DeleteDefParam removes one parameter of a definition. Missing parameters
// are ignored.
func (mgr *Manager) DeleteDefParam(ctx context.Context, defID int64, name string) error {
	def, err := mgr.GetDef(defID)
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	var argID int64
	found := false
	for i, spec := range def.ArgSpec {
		if spec.Name == name {
			argID = spec.ID
			def.ArgSpec = append(def.ArgSpec[:i], def.ArgSpec[i+1:]...)
			found = true
			break
		}
	}
	mgr.mu.Unlock()

	if !found {
		return nil
	}
	if _, err := mgr.db.Execute(ctx,
		`delete from active_monitor_def_args where id = $1`, argID); err != nil {
		return err
	}
	mgr.cache.FlushAll()
	return nil
}

// loadDefs reads all definitions and their parameter schemas into memory.
func (mgr *Manager) loadDefs(ctx context.Context) error {
	defs := make(map[int64]*Def)
	err := mgr.db.FetchAll(ctx,
		`select id, name, description, active, cmdline_filename, cmdline_args_tmpl, description_tmpl
		from active_monitor_defs`,
		func(rows *sql.Rows) error {
			var d Def
			if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Active,
				&d.CmdlineFilename, &d.CmdlineArgsTmpl, &d.DescriptionTmpl); err != nil {
				return err
			}
			defs[d.ID] = &d
			return nil
		})
	if err != nil {
		return err
	}

	err = mgr.db.FetchAll(ctx,
		`select id, active_monitor_def_id, name, display_name, description, required, default_value
		from active_monitor_def_args`,
		func(rows *sql.Rows) error {
			var defID int64
			var spec ParamSpec
			if err := rows.Scan(&spec.ID, &defID, &spec.Name, &spec.DisplayName,
				&spec.Description, &spec.Required, &spec.DefaultValue); err != nil {
				return err
			}
			if def, ok := defs[defID]; ok {
				def.ArgSpec = append(def.ArgSpec, spec)
			}
			return nil
		})
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	mgr.defs = defs
	mgr.mu.Unlock()
	mgr.logger.Info("loaded active monitor definitions", "count", len(defs))
	return nil
}
