package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createContactRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Active bool   `json:"active"`
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.List(r.Context())
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := s.contacts.Create(r.Context(), req.Name, req.Email, req.Phone, req.Active)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact id", nil)
		return
	}
	c, err := s.contacts.Get(r.Context(), id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact id", nil)
		return
	}
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if err := s.contacts.Update(r.Context(), id, data); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact id", nil)
		return
	}
	if err := s.contacts.Delete(r.Context(), id); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createContactGroupRequest struct {
	Name   string `json:"name" validate:"required"`
	Active bool   `json:"active"`
}

func (s *Server) handleListContactGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.contacts.ListGroups(r.Context())
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateContactGroup(w http.ResponseWriter, r *http.Request) {
	var req createContactGroupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := s.contacts.CreateGroup(r.Context(), req.Name, req.Active)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateContactGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact group id", nil)
		return
	}
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if err := s.contacts.UpdateGroup(r.Context(), id, data); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteContactGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact group id", nil)
		return
	}
	if err := s.contacts.DeleteGroup(r.Context(), id); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAddContactToGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid contact group id", nil)
		return
	}
	var req monitorContactRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.contacts.AddContactToGroup(r.Context(), id, req.ContactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveContactFromGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	contactID, ok2 := urlID(r, "contactID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.contacts.RemoveContactFromGroup(r.Context(), id, contactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type createMonitorGroupRequest struct {
	ParentID int64  `json:"parent_id"`
	Name     string `json:"name" validate:"required"`
}

func (s *Server) handleListMonitorGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.List(r.Context())
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateMonitorGroup(w http.ResponseWriter, r *http.Request) {
	var req createMonitorGroupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	id, err := s.groups.Create(r.Context(), req.ParentID, req.Name)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	g, err := s.groups.Get(r.Context(), id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, g)
}

func (s *Server) handleUpdateMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	// JSON numbers decode as float64; the store compares ids as int64.
	if v, ok := data["parent_id"].(float64); ok {
		data["parent_id"] = int64(v)
	}
	if err := s.groups.Update(r.Context(), id, data); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	if err := s.groups.Delete(r.Context(), id); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type groupMonitorRequest struct {
	MonitorID int64 `json:"monitor_id" validate:"required"`
}

func (s *Server) handleAddMonitorToGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	var req groupMonitorRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.groups.AddActiveMonitor(r.Context(), id, req.MonitorID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveMonitorFromGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	monitorID, ok2 := urlID(r, "monitorID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.groups.RemoveActiveMonitor(r.Context(), id, monitorID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleAddContactToMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	var req monitorContactRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.groups.AddContact(r.Context(), id, req.ContactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveContactFromMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	contactID, ok2 := urlID(r, "contactID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.groups.RemoveContact(r.Context(), id, contactID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleAddContactGroupToMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid monitor group id", nil)
		return
	}
	var req monitorContactGroupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.groups.AddContactGroup(r.Context(), id, req.ContactGroupID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveContactGroupFromMonitorGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	groupID, ok2 := urlID(r, "groupID")
	if !ok || !ok2 {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid id", nil)
		return
	}
	if err := s.groups.RemoveContactGroup(r.Context(), id, groupID); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	values, err := s.meta.Get(r.Context(), objectType, id)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, values)
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		return
	}
	if err := s.meta.Update(r.Context(), objectType, id, values); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteMetadata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	var keys []string
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
			sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
			return
		}
	}
	if err := s.meta.Delete(r.Context(), objectType, id, keys); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetBindata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	key := chi.URLParam(r, "key")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	value, err := s.bin.Get(r.Context(), objectType, id, key)
	if err != nil {
		sendDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

func (s *Server) handleSetBindata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	key := chi.URLParam(r, "key")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	value, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Failed to read body", nil)
		return
	}
	if err := s.bin.Set(r.Context(), objectType, id, key, value); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteBindata(w http.ResponseWriter, r *http.Request) {
	objectType := chi.URLParam(r, "type")
	key := chi.URLParam(r, "key")
	id, ok := urlID(r, "id")
	if !ok {
		sendError(w, r, http.StatusBadRequest, "INVALID_ID", "Invalid object id", nil)
		return
	}
	if err := s.bin.Delete(r.Context(), objectType, id, []string{key}); err != nil {
		sendDomainError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
