// Package client implements the reminder-side half of TaskBell: the HTTP
// API client, the 30s poller, and the queue that serializes concurrent
// fired reminders into one ring at a time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

// API talks to the TaskBell gateway.
type API struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAPI(cfg config.ClientConfig) *API {
	return &API{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FiredReminders fetches the reminders awaiting acknowledgment, newest first.
func (a *API) FiredReminders(ctx context.Context) ([]persistence.Task, error) {
	var out struct {
		Reminders []persistence.Task `json:"reminders"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/reminders/fired", nil, &out); err != nil {
		return nil, err
	}
	return out.Reminders, nil
}

// ProgressResponse carries the updated task plus the server's outcome message.
type ProgressResponse struct {
	Task    persistence.Task `json:"task"`
	Message string           `json:"message"`
}

// Progress acknowledges a ring, consuming one escalation occurrence.
func (a *API) Progress(ctx context.Context, taskID string, stopped bool) (*ProgressResponse, error) {
	var out ProgressResponse
	body := map[string]any{"stopped": stopped}
	err := a.do(ctx, http.MethodPost, "/api/tasks/"+taskID+"/reminder-progress", body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Snooze defers a ring without consuming an occurrence.
func (a *API) Snooze(ctx context.Context, taskID string, minutes int) (*ProgressResponse, error) {
	var out ProgressResponse
	body := map[string]any{"snoozeMinutes": minutes}
	err := a.do(ctx, http.MethodPost, "/api/tasks/"+taskID+"/reminder-progress", body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches /api/status for the status subcommand.
func (a *API) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Healthz probes the unauthenticated health endpoint.
func (a *API) Healthz(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
