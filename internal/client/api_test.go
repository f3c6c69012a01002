package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

func TestAPIFiredReminders(t *testing.T) {
	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/reminders/fired" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reminders": []persistence.Task{{ID: "t-1", Name: "call mom", ReminderAt: &at}},
		})
	}))
	defer srv.Close()

	api := NewAPI(config.ClientConfig{ServerURL: srv.URL, APIKey: "secret"})
	fired, err := api.FiredReminders(context.Background())
	if err != nil {
		t.Fatalf("fired: %v", err)
	}
	if len(fired) != 1 || fired[0].ID != "t-1" {
		t.Fatalf("fired = %+v", fired)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestAPIProgressAndSnoozeBodies(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(ProgressResponse{Message: "ok"})
	}))
	defer srv.Close()

	api := NewAPI(config.ClientConfig{ServerURL: srv.URL})

	if _, err := api.Progress(context.Background(), "t-1", true); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if gotPath != "/api/tasks/t-1/reminder-progress" || gotBody["stopped"] != true {
		t.Fatalf("path=%q body=%v", gotPath, gotBody)
	}

	if _, err := api.Snooze(context.Background(), "t-1", 10); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if gotBody["snoozeMinutes"] != float64(10) {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	api := NewAPI(config.ClientConfig{ServerURL: srv.URL})
	if _, err := api.Progress(context.Background(), "nope", false); err == nil {
		t.Fatal("expected error on 404")
	}
}

type staticSource struct {
	tasks []persistence.Task
	err   error
}

func (s staticSource) FiredReminders(context.Context) ([]persistence.Task, error) {
	return s.tasks, s.err
}

func TestPollerIngestsAndNotifies(t *testing.T) {
	at := time.Now().UTC()
	q := NewQueue()
	var updates []int
	p := NewPoller(PollerConfig{
		Source:   staticSource{tasks: []persistence.Task{taskAt("a", at)}},
		Queue:    q,
		OnUpdate: func(added int) { updates = append(updates, added) },
	})

	p.Poll(context.Background())
	p.Poll(context.Background())

	if q.Len() != 1 {
		t.Fatalf("len = %d", q.Len())
	}
	// One callback: the second poll saw nothing new.
	if len(updates) != 1 || updates[0] != 1 {
		t.Fatalf("updates = %v", updates)
	}
}

func TestPollerSurvivesSourceErrors(t *testing.T) {
	q := NewQueue()
	p := NewPoller(PollerConfig{
		Source: staticSource{err: context.DeadlineExceeded},
		Queue:  q,
	})
	p.Poll(context.Background())
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}
}
