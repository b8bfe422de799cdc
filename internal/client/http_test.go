package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	method   string
	path     string
	query    string
	body     string
	auth     string
	deviceID string

	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.auth = r.Header.Get("Authorization")
	h.deviceID = r.Header.Get(DeviceHeader)
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, opts...)
}

func TestHeaders(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c := newTestClient(t, h, WithToken("secret"), WithDeviceID("dev-1"))

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status != "ok" {
		t.Errorf("status = %q", status)
	}
	if h.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", h.auth)
	}
	if h.deviceID != "dev-1" {
		t.Errorf("device = %q", h.deviceID)
	}
}

func TestListEntries_Query(t *testing.T) {
	h := &testHandler{responseBody: `{"entries":[{"id":"wl-1","status":"waiting"}]}`}
	c := newTestClient(t, h)

	got, err := c.ListEntries(context.Background(), model.EntryFilter{
		RestaurantID: "r-1",
		Status:       []model.EntryStatus{model.EntryWaiting, model.EntryNotified},
		Limit:        5,
	})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "wl-1" {
		t.Fatalf("entries = %+v", got)
	}
	if h.method != http.MethodGet || h.path != "/v1/entries" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.query != "limit=5&restaurant_id=r-1&status=waiting%2Cnotified" {
		t.Errorf("query = %q", h.query)
	}
}

func TestCreateEntry_FillsServerFields(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"id":"wl-1","restaurant_id":"r-1","user_id":"u-1","party_size":2,"party_leader_name":"Ana","status":"waiting","seq":7,"version":1}`,
	}
	c := newTestClient(t, h)

	e := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1", UserID: "u-1", PartySize: 2, PartyLeaderName: "Ana"}
	if err := c.CreateEntry(context.Background(), e); err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if e.Seq != 7 || e.Status != model.EntryWaiting || e.Version != 1 {
		t.Errorf("entry = %+v", e)
	}
	if h.method != http.MethodPost || h.path != "/v1/entries" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
}

func TestEntryActions_Paths(t *testing.T) {
	for _, tc := range []struct {
		name string
		call func(c *HTTPClient) error
		path string
	}{
		{"Cancel", func(c *HTTPClient) error { _, err := c.CancelEntry(context.Background(), "wl-1"); return err }, "/v1/entries/wl-1/cancel"},
		{"Notify", func(c *HTTPClient) error { _, err := c.NotifyEntry(context.Background(), "wl-1"); return err }, "/v1/entries/wl-1/notify"},
		{"Seat", func(c *HTTPClient) error { _, err := c.SeatEntry(context.Background(), "wl-1"); return err }, "/v1/entries/wl-1/seat"},
		{"CancelSession", func(c *HTTPClient) error { _, err := c.CancelSession(context.Background(), "ps-1"); return err }, "/v1/sessions/ps-1/cancel"},
		{"CompleteSession", func(c *HTTPClient) error { _, err := c.CompleteSession(context.Background(), "ps-1"); return err }, "/v1/sessions/ps-1/complete"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{responseBody: `{}`}
			c := newTestClient(t, h)
			if err := tc.call(c); err != nil {
				t.Fatalf("call: %v", err)
			}
			if h.method != http.MethodPost || h.path != tc.path {
				t.Errorf("request = %s %s, want POST %s", h.method, h.path, tc.path)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, model.ErrNotFound},
		{http.StatusConflict, model.ErrConflict},
		{http.StatusBadRequest, model.ErrInvalidInput},
		{http.StatusServiceUnavailable, model.ErrTransient},
		{http.StatusInternalServerError, model.ErrTransient},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			h := &testHandler{statusCode: tc.status, responseBody: `{"error":"nope"}`}
			c := newTestClient(t, h)

			_, err := c.GetEntry(context.Background(), "wl-1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Message != "nope" || apiErr.StatusCode != tc.status {
				t.Errorf("api error = %+v", apiErr)
			}
		})
	}
}

func TestErrorMapping_NonJSONBody(t *testing.T) {
	h := &testHandler{statusCode: http.StatusBadGateway, responseBody: "upstream down"}
	c := newTestClient(t, h)

	_, err := c.ListRestaurants(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("err = %v", err)
	}
	if !IsTransient(err) {
		t.Error("502 should be transient")
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url)
	_, err := c.GetSession(context.Background(), "ps-1")
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
