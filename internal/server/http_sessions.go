package server

import (
	"net/http"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// handleCreateSession handles POST /v1/sessions. A host that already has an
// open session gets 409.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var ps model.PartySession
	if !decodeBody(w, r, &ps) {
		return
	}
	if ps.ID == "" {
		id, err := idgen.Session()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate ID")
			return
		}
		ps.ID = id
	} else if !model.ValidID(ps.ID) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := model.ValidateSession(&ps); err != nil {
		writeStoreError(w, "create session", err)
		return
	}
	if err := s.store.CreateSession(r.Context(), &ps); err != nil {
		writeStoreError(w, "create session", err)
		return
	}
	s.sessionChanged(r.Context(), events.OpCreated, &ps)
	writeJSON(w, http.StatusCreated, &ps)
}

// handleListSessions handles GET /v1/sessions.
//
// Query parameters:
//   - host_user_id, restaurant_id
//   - status: comma-separated statuses
//   - limit
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SessionFilter{
		HostUserID:   q.Get("host_user_id"),
		RestaurantID: q.Get("restaurant_id"),
		Limit:        queryInt(r, "limit"),
	}
	for _, st := range queryList(r, "status") {
		status := model.SessionStatus(st)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid status "+st)
			return
		}
		filter.Status = append(filter.Status, status)
	}
	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []*model.PartySession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleGetSession handles GET /v1/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// handleCancelSession handles POST /v1/sessions/{id}/cancel. The session's
// items are purged in the same transaction.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.CancelSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "cancel session", err)
		return
	}
	s.sessionChanged(r.Context(), events.OpUpdated, ps)
	writeJSON(w, http.StatusOK, ps)
}

// handleCompleteSession handles POST /v1/sessions/{id}/complete.
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	ps, err := s.store.SetSessionStatus(r.Context(), r.PathValue("id"), model.SessionOpen, model.SessionCompleted)
	if err != nil {
		writeStoreError(w, "complete session", err)
		return
	}
	s.sessionChanged(r.Context(), events.OpUpdated, ps)
	writeJSON(w, http.StatusOK, ps)
}

// handleAddItem handles POST /v1/sessions/{id}/items.
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var it model.SessionItem
	if !decodeBody(w, r, &it) {
		return
	}
	it.SessionID = r.PathValue("id")
	if it.ID == "" {
		id, err := idgen.Item()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate ID")
			return
		}
		it.ID = id
	} else if !model.ValidID(it.ID) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := model.ValidateItem(&it); err != nil {
		writeStoreError(w, "add item", err)
		return
	}
	if err := s.store.AddItem(r.Context(), &it); err != nil {
		writeStoreError(w, "add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, &it)
}

// handleListItems handles GET /v1/sessions/{id}/items.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "list items", err)
		return
	}
	if items == nil {
		items = []*model.SessionItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
