package server

import (
	"context"
	"net/http"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/idgen"
	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/presence"
	"github.com/alfredjeanlab/tablequeue/internal/queue"
)

// handleCreateEntry handles POST /v1/entries.
// Status, seq and timestamps are assigned by the store.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var e model.WaitlistEntry
	if !decodeBody(w, r, &e) {
		return
	}
	if e.ID == "" {
		id, err := idgen.Entry()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate ID")
			return
		}
		e.ID = id
	} else if !model.ValidID(e.ID) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	e.Status = model.EntryWaiting
	if err := model.ValidateEntry(&e); err != nil {
		writeStoreError(w, "create entry", err)
		return
	}
	if err := s.store.CreateEntry(r.Context(), &e); err != nil {
		writeStoreError(w, "create entry", err)
		return
	}
	s.entryChanged(r.Context(), events.OpCreated, &e)
	writeJSON(w, http.StatusCreated, &e)
}

// handleListEntries handles GET /v1/entries.
//
// Query parameters:
//   - restaurant_id, user_id
//   - status: comma-separated statuses
//   - limit
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.EntryFilter{
		RestaurantID: q.Get("restaurant_id"),
		UserID:       q.Get("user_id"),
		Limit:        queryInt(r, "limit"),
	}
	for _, st := range queryList(r, "status") {
		status := model.EntryStatus(st)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid status "+st)
			return
		}
		filter.Status = append(filter.Status, status)
	}
	entries, err := s.store.ListEntries(r.Context(), filter)
	if err != nil {
		writeStoreError(w, "list entries", err)
		return
	}
	if entries == nil {
		entries = []*model.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleGetEntry handles GET /v1/entries/{id}.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "get entry", err)
		return
	}
	s.heartbeat(r, e)
	writeJSON(w, http.StatusOK, e)
}

// handleGetPosition handles GET /v1/entries/{id}/position and returns the
// entry's derived view: rank, queue length and the published wait time.
func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	e, pos, err := queue.NewCalculator(s.store).Position(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "get position", err)
		return
	}
	rest, err := s.store.GetRestaurant(r.Context(), e.RestaurantID)
	if err != nil {
		writeStoreError(w, "get position", err)
		return
	}
	s.heartbeat(r, e)
	writeJSON(w, http.StatusOK, queue.View(e, pos, rest))
}

// heartbeat records that the calling device is still watching e.
func (s *Server) heartbeat(r *http.Request, e *model.WaitlistEntry) {
	if e.Status.IsTerminal() {
		return
	}
	s.Presence.Record(presence.Heartbeat{
		DeviceID:     r.Header.Get(DeviceHeader),
		UserID:       e.UserID,
		EntryID:      e.ID,
		RestaurantID: e.RestaurantID,
	})
	s.refreshWatchers(e.RestaurantID)
}

// handleCancelEntry handles POST /v1/entries/{id}/cancel. Only a waiting
// entry can be cancelled.
func (s *Server) handleCancelEntry(w http.ResponseWriter, r *http.Request) {
	s.transitionEntry(w, r, "cancel entry", s.store.CancelEntry)
}

// handleNotifyEntry handles POST /v1/entries/{id}/notify (staff).
func (s *Server) handleNotifyEntry(w http.ResponseWriter, r *http.Request) {
	s.transitionEntry(w, r, "notify entry", s.store.NotifyEntry)
}

// handleSeatEntry handles POST /v1/entries/{id}/seat (staff).
func (s *Server) handleSeatEntry(w http.ResponseWriter, r *http.Request) {
	s.transitionEntry(w, r, "seat entry", s.store.SeatEntry)
}

func (s *Server) transitionEntry(w http.ResponseWriter, r *http.Request, operation string,
	fn func(ctx context.Context, id string) (*model.WaitlistEntry, error)) {
	e, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, operation, err)
		return
	}
	s.entryChanged(r.Context(), events.OpUpdated, e)
	writeJSON(w, http.StatusOK, e)
}
