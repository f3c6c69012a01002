package channels

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

func TestWebhookSendReminder(t *testing.T) {
	var gotTitle, gotTags, gotPriority, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotTags = r.Header.Get("Tags")
		gotPriority = r.Header.Get("Priority")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL}, nil)
	if err := ch.SendReminder(context.Background(), testTask()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(gotTitle, "file quarterly taxes") {
		t.Fatalf("title = %q", gotTitle)
	}
	if !strings.Contains(gotTags, "high") {
		t.Fatalf("tags = %q", gotTags)
	}
	if gotPriority != "high" {
		t.Fatalf("priority = %q", gotPriority)
	}
	if !strings.Contains(gotBody, "blue folder") {
		t.Fatalf("body = %q", gotBody)
	}
}

func TestWebhookLowPriorityOmitsHeader(t *testing.T) {
	var gotPriority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPriority = r.Header.Get("Priority")
	}))
	defer srv.Close()

	task := testTask()
	task.Priority = persistence.PriorityLow
	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL}, nil)
	if err := ch.SendReminder(context.Background(), task); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPriority != "" {
		t.Fatalf("priority = %q, want unset", gotPriority)
	}
}

func TestWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic gone", http.StatusGone)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL}, nil)
	err := ch.SendReminder(context.Background(), testTask())
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhookEmptyURLIsNoop(t *testing.T) {
	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true}, nil)
	if err := ch.SendReminder(context.Background(), testTask()); err != nil {
		t.Fatalf("empty endpoint should no-op, got %v", err)
	}
}

func TestWebhookSendDigest(t *testing.T) {
	var gotTitle, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(config.WebhookConfig{Enabled: true, URL: srv.URL}, nil)
	if err := ch.SendDigest(context.Background(), []persistence.Task{testTask()}); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if !strings.Contains(gotTitle, "Digest") {
		t.Fatalf("title = %q", gotTitle)
	}
	if !strings.Contains(gotBody, "1 open reminder") {
		t.Fatalf("body = %q", gotBody)
	}
}
