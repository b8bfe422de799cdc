package server

import (
	"net/http"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// handleListRestaurants handles GET /v1/restaurants.
func (s *Server) handleListRestaurants(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.ListRestaurants(r.Context())
	if err != nil {
		writeStoreError(w, "list restaurants", err)
		return
	}
	if rs == nil {
		rs = []*model.Restaurant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"restaurants": rs})
}

// handleGetRestaurant handles GET /v1/restaurants/{id}.
func (s *Server) handleGetRestaurant(w http.ResponseWriter, r *http.Request) {
	rest, err := s.store.GetRestaurant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "get restaurant", err)
		return
	}
	writeJSON(w, http.StatusOK, rest)
}

// handleUpsertRestaurant handles PUT /v1/restaurants/{id}.
func (s *Server) handleUpsertRestaurant(w http.ResponseWriter, r *http.Request) {
	var rest model.Restaurant
	if !decodeBody(w, r, &rest) {
		return
	}
	rest.ID = r.PathValue("id")
	if err := model.ValidateRestaurant(&rest); err != nil {
		writeStoreError(w, "upsert restaurant", err)
		return
	}
	if err := s.store.UpsertRestaurant(r.Context(), &rest); err != nil {
		writeStoreError(w, "upsert restaurant", err)
		return
	}
	s.restaurantChanged(r.Context(), events.OpUpdated, &rest)
	writeJSON(w, http.StatusOK, &rest)
}

type setWaitTimeRequest struct {
	Minutes *int `json:"minutes"`
}

// handleSetWaitTime handles PUT /v1/restaurants/{id}/wait-time.
func (s *Server) handleSetWaitTime(w http.ResponseWriter, r *http.Request) {
	var req setWaitTimeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Minutes == nil || *req.Minutes < 0 {
		writeError(w, http.StatusBadRequest, "minutes must be a non-negative integer")
		return
	}
	rest, err := s.store.SetWaitTime(r.Context(), r.PathValue("id"), *req.Minutes)
	if err != nil {
		writeStoreError(w, "set wait time", err)
		return
	}
	s.restaurantChanged(r.Context(), events.OpUpdated, rest)
	writeJSON(w, http.StatusOK, rest)
}

// handleListWatchers handles GET /v1/restaurants/{id}/watchers.
//
// Query parameters:
//   - stale: duration (e.g. "10m"); watchers silent longer than this are omitted
func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stale duration")
			return
		}
		stale = d
	}
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{
		"watchers": s.Presence.Watchers(id, stale),
		"active":   s.Presence.Active(id),
	})
}
