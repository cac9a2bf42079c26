// Package sdk is the client library for the shiftgate kiosk API. Terminals,
// wall displays, and back-office tools use it instead of speaking HTTP by
// hand.
//
// Quick start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL: "http://kiosk.local:8080",
//	    APIKey:  os.Getenv("KIOSK_API_KEY"),
//	})
//
//	out, err := client.Scan(ctx, sdk.ScanRequest{Code: "B-1042", Method: "code"})
//	if out.Kind == sdk.OutcomeLocationRequired {
//	    // open the location picker, then:
//	    out, err = client.ResolveLocation(ctx, out.RequestID, sdk.LocationResolution{
//	        Location: &sdk.Location{Name: "Depot 4", Category: "work"},
//	    })
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the kiosk SDK configuration.
type Config struct {
	// BaseURL is the kiosk API endpoint (required),
	// e.g. "http://kiosk.local:8080".
	BaseURL string

	// APIKey authenticates operator calls (settings, webhooks). Read and
	// submit endpoints work without one.
	APIKey string

	// Timeout per request (default 30s).
	Timeout time.Duration
}

// APIError is a non-2xx answer from the kiosk.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kiosk-sdk: %d: %s", e.Status, e.Message)
}

// Client talks to one kiosk station.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// do runs one JSON round trip. out may be nil for endpoints without a body.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("kiosk-sdk: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("kiosk-sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kiosk-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kiosk-sdk: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fail struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &fail) == nil && fail.Error != "" {
			msg = fail.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("kiosk-sdk: parse response: %w", err)
	}
	return nil
}

// ===== SUBMISSIONS =====

// Scan submits an identity event — a badge scan, a recognizer verdict
// relayed by a terminal, or a manual tap.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/events/scan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Manual submits a manual tap for subjectID. The kiosk pins the method to
// "manual" regardless of the payload.
func (c *Client) Manual(ctx context.Context, subjectID string, req ScanRequest) (*Outcome, error) {
	req.SubjectID = subjectID
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/events/manual", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveLocation answers a parked location request.
func (c *Client) ResolveLocation(ctx context.Context, requestID string, res LocationResolution) (*Outcome, error) {
	var out Outcome
	path := "/api/v1/locations/" + url.PathEscape(requestID)
	if err := c.do(ctx, http.MethodPost, path, res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Locations lists the preset checkout destinations for the picker. An empty
// list means the station has none; free-text entry still works.
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	var out []Location
	if err := c.do(ctx, http.MethodGet, "/api/v1/locations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ===== GROUP CHECKOUT =====

// SetGroupMode toggles group checkout mode.
func (c *Client) SetGroupMode(ctx context.Context, enabled bool) (*Outcome, error) {
	var out Outcome
	body := map[string]bool{"enabled": enabled}
	if err := c.do(ctx, http.MethodPost, "/api/v1/group/mode", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitGroup checks out everyone in the buffer. A nil location parks the
// commit until the picker resolves.
func (c *Client) CommitGroup(ctx context.Context, loc *Location) (*Outcome, error) {
	var out Outcome
	body := map[string]interface{}{}
	if loc != nil {
		body["location"] = loc
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/group/commit", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearGroup discards the buffered admissions.
func (c *Client) ClearGroup(ctx context.Context) (*Outcome, error) {
	var out Outcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/group/clear", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupStatus reports the live group buffer.
func (c *Client) GroupStatus(ctx context.Context) (*GroupStatus, error) {
	var out GroupStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/group", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ===== RECORDS =====

// SubjectRecords lists a subject's records on day ("YYYY-MM-DD"; empty
// means today on the kiosk clock).
func (c *Client) SubjectRecords(ctx context.Context, subjectID, day string) ([]Record, error) {
	path := "/api/v1/subjects/" + url.PathEscape(subjectID) + "/records"
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// DayRecords lists every record the station wrote on day.
func (c *Client) DayRecords(ctx context.Context, day string) ([]Record, error) {
	path := "/api/v1/records"
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// ===== SETTINGS =====

// Settings fetches the live settings snapshot.
func (c *Client) Settings(ctx context.Context) (*ShiftSettings, error) {
	var out ShiftSettings
	if err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSettings overlays the given fields onto the live snapshot. Needs an
// operator key.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]interface{}) (*ShiftSettings, error) {
	var out struct {
		Settings ShiftSettings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/settings", patch, &out); err != nil {
		return nil, err
	}
	return &out.Settings, nil
}

// ===== WEBHOOKS =====

// RegisterWebhook subscribes url to the given event types. Needs an
// operator key.
func (c *Client) RegisterWebhook(ctx context.Context, hookURL string, eventTypes []string, secret, description string) (*Webhook, error) {
	body := map[string]interface{}{
		"url":         hookURL,
		"events":      eventTypes,
		"secret":      secret,
		"description": description,
	}
	var out Webhook
	if err := c.do(ctx, http.MethodPost, "/api/v1/webhooks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWebhooks returns every registered subscription.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/webhooks", nil, &out); err != nil {
		return nil, err
	}
	return out.Webhooks, nil
}

// DeleteWebhook removes a subscription. Needs an operator key.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/webhooks/"+url.PathEscape(id), nil, nil)
}

// ===== HEALTH =====

// Health fetches the station health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
