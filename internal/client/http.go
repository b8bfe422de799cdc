package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/presence"
)

// DeviceHeader carries the device ID on every request so the server can
// track who is still watching an entry.
const DeviceHeader = "X-Device-ID"

// HTTPClient implements store.RowStore using the tablequeue HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithDeviceID sets the device ID reported on every request.
func WithDeviceID(id string) Option {
	return func(c *HTTPClient) { c.deviceID = id }
}

// WithTimeout bounds each request. Streaming requests are not affected.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Restaurants ---

func (c *HTTPClient) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	var r model.Restaurant
	if err := c.doJSON(ctx, http.MethodGet, "/v1/restaurants/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) ListRestaurants(ctx context.Context) ([]*model.Restaurant, error) {
	var resp struct {
		Restaurants []*model.Restaurant `json:"restaurants"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/restaurants", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Restaurants, nil
}

// UpsertRestaurant creates or replaces a restaurant row (staff).
func (c *HTTPClient) UpsertRestaurant(ctx context.Context, r *model.Restaurant) (*model.Restaurant, error) {
	var out model.Restaurant
	if err := c.doJSON(ctx, http.MethodPut, "/v1/restaurants/"+url.PathEscape(r.ID), r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetWaitTime publishes a new wait time (staff).
func (c *HTTPClient) SetWaitTime(ctx context.Context, id string, minutes int) (*model.Restaurant, error) {
	var out model.Restaurant
	body := map[string]int{"minutes": minutes}
	if err := c.doJSON(ctx, http.MethodPut, "/v1/restaurants/"+url.PathEscape(id)+"/wait-time", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchers lists the devices still watching entries at a restaurant (staff).
func (c *HTTPClient) Watchers(ctx context.Context, restaurantID string, stale time.Duration) ([]presence.Watcher, int, error) {
	path := "/v1/restaurants/" + url.PathEscape(restaurantID) + "/watchers"
	if stale > 0 {
		path += "?stale=" + url.QueryEscape(stale.String())
	}
	var resp struct {
		Watchers []presence.Watcher `json:"watchers"`
		Active   int                `json:"active"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Watchers, resp.Active, nil
}

// --- Entries ---

// CreateEntry inserts e. On success e carries the server-assigned status,
// sequence and timestamps.
func (c *HTTPClient) CreateEntry(ctx context.Context, e *model.WaitlistEntry) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/entries", e, e)
}

func (c *HTTPClient) GetEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	if err := c.doJSON(ctx, http.MethodGet, "/v1/entries/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *HTTPClient) ListEntries(ctx context.Context, f model.EntryFilter) ([]*model.WaitlistEntry, error) {
	q := url.Values{}
	if f.RestaurantID != "" {
		q.Set("restaurant_id", f.RestaurantID)
	}
	if f.UserID != "" {
		q.Set("user_id", f.UserID)
	}
	if len(f.Status) > 0 {
		ss := make([]string, len(f.Status))
		for i, s := range f.Status {
			ss[i] = string(s)
		}
		q.Set("status", strings.Join(ss, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var resp struct {
		Entries []*model.WaitlistEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/entries", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Position asks the server for the entry's current view.
func (c *HTTPClient) Position(ctx context.Context, id string) (model.ActiveEntryView, error) {
	var v model.ActiveEntryView
	err := c.doJSON(ctx, http.MethodGet, "/v1/entries/"+url.PathEscape(id)+"/position", nil, &v)
	return v, err
}

func (c *HTTPClient) CancelEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return c.entryAction(ctx, id, "cancel")
}

// NotifyEntry tells the party their table is ready (staff).
func (c *HTTPClient) NotifyEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return c.entryAction(ctx, id, "notify")
}

// SeatEntry marks a notified party seated (staff).
func (c *HTTPClient) SeatEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return c.entryAction(ctx, id, "seat")
}

func (c *HTTPClient) entryAction(ctx context.Context, id, action string) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	if err := c.doJSON(ctx, http.MethodPost, "/v1/entries/"+url.PathEscape(id)+"/"+action, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Sessions ---

func (c *HTTPClient) CreateSession(ctx context.Context, ps *model.PartySession) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/sessions", ps, ps)
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*model.PartySession, error) {
	var ps model.PartySession
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context, f model.SessionFilter) ([]*model.PartySession, error) {
	q := url.Values{}
	if f.HostUserID != "" {
		q.Set("host_user_id", f.HostUserID)
	}
	if f.RestaurantID != "" {
		q.Set("restaurant_id", f.RestaurantID)
	}
	if len(f.Status) > 0 {
		ss := make([]string, len(f.Status))
		for i, s := range f.Status {
			ss[i] = string(s)
		}
		q.Set("status", strings.Join(ss, ","))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}

	var resp struct {
		Sessions []*model.PartySession `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/sessions", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) CancelSession(ctx context.Context, id string) (*model.PartySession, error) {
	var ps model.PartySession
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/cancel", nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// CompleteSession closes an open session once the order is placed.
func (c *HTTPClient) CompleteSession(ctx context.Context, id string) (*model.PartySession, error) {
	var ps model.PartySession
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/complete", nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (c *HTTPClient) AddItem(ctx context.Context, it *model.SessionItem) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(it.SessionID)+"/items", it, it)
}

func (c *HTTPClient) ListItems(ctx context.Context, sessionID string) ([]*model.SessionItem, error) {
	var resp struct {
		Items []*model.SessionItem `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/items", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceHeader, c.deviceID)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON
// response into result. A transport failure wraps model.ErrTransient; an
// error status returns an *APIError.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w: %w", model.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w: %w", model.ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
