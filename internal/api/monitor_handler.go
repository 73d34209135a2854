package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		sendError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	resp, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

type createMonitorRequest struct {
	DefID int64             `json:"def_id" validate:"required"`
	Args  map[string]string `json:"args"`
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors := s.mgr.ListMonitors()
	out := make([]interface{}, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Snapshot())
	}
	sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	var req createMonitorRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if req.Args == nil {
		req.Args = map[string]string{}
	}
	m, err := s.mgr.CreateMonitor(r.Context(), req.DefID, req.Args)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, m.Snapshot())
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	sendJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	if err := m.Delete(r.Context()); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type updateArgsRequest struct {
	Args map[string]string `json:"args" validate:"required"`
}

func (s *Server) handleUpdateMonitorArgs(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	var req updateArgsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := m.UpdateArgs(r.Context(), req.Args); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, m.Snapshot())
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) handleSetChecksEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	var req enabledRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := m.SetChecksEnabled(r.Context(), *req.Enabled); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleSetAlertsEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	var req enabledRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := m.SetAlertsEnabled(r.Context(), *req.Enabled); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, m.Snapshot())
}

func (s *Server) handleScheduleMonitor(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	m := s.mgr.GetMonitor(id)
	if m == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	m.ScheduleImmediately()
	sendJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (s *Server) handleGetMonitorAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	alerts, err := s.mgr.GetAlerts(r.Context(), id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, alerts)
}

type monitorContactRequest struct {
	ContactID int64 `json:"contact_id" validate:"required"`
}

func (s *Server) handleAddMonitorContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	if s.mgr.GetMonitor(id) == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	var req monitorContactRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.contacts.AddContactToActiveMonitor(r.Context(), id, req.ContactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveMonitorContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	contactID, ok2 := urlID(r, "contactID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.contacts.RemoveContactFromActiveMonitor(r.Context(), id, contactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type monitorContactGroupRequest struct {
	ContactGroupID int64 `json:"contact_group_id" validate:"required"`
}

func (s *Server) handleAddMonitorContactGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor id", nil)
		return
	}
	if s.mgr.GetMonitor(id) == nil {
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", "Monitor not found", nil)
		return
	}
	var req monitorContactGroupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.contacts.AddGroupToActiveMonitor(r.Context(), id, req.ContactGroupID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveMonitorContactGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	groupID, ok2 := urlID(r, "groupID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.contacts.RemoveGroupFromActiveMonitor(r.Context(), id, groupID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type createDefRequest struct {
	Name            string `json:"name" validate:"required"`
	Description     string `json:"description"`
	Active          bool   `json:"active"`
	CmdlineFilename string `json:"cmdline_filename" validate:"required"`
	CmdlineArgsTmpl string `json:"cmdline_args_tmpl" validate:"required"`
	DescriptionTmpl string `json:"description_tmpl"`
}

func (s *Server) handleListDefs(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.mgr.ListDefs())
}

func (s *Server) handleCreateDef(w http.ResponseWriter, r *http.Request) {
	var req createDefRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	def, err := s.mgr.CreateDef(r.Context(), req.Name, req.Description, req.Active,
		req.CmdlineFilename, req.CmdlineArgsTmpl, req.DescriptionTmpl)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, def)
}

func (s *Server) handleGetDef(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid def id", nil)
		return
	}
	def, err := s.mgr.GetDef(id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateDef(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid def id", nil)
		return
	}
	var params map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if err := s.mgr.UpdateDef(r.Context(), id, params); err != nil {
		sendDomainError(w, r, err)
		return
	}
	def, err := s.mgr.GetDef(id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteDef(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid def id", nil)
		return
	}
	if err := s.mgr.DeleteDef(r.Context(), id); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type setDefParamRequest struct {
	Name         string `json:"name" validate:"required"`
	DisplayName  string `json:"display_name"`
	Description  string `json:"description"`
	Required     bool   `json:"required"`
	DefaultValue string `json:"default_value"`
}

func (s *Server) handleSetDefParam(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid def id", nil)
		return
	}
	var req setDefParamRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	err := s.mgr.SetDefParam(r.Context(), id, req.Name, req.DisplayName, req.Description,
		req.Required, req.DefaultValue)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	def, err := s.mgr.GetDef(id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteDefParam(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid def id", nil)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.mgr.DeleteDefParam(r.Context(), id, name); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
