package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/taskbell/internal/persistence"
)

func writeImportFile(t *testing.T, home, content string) string {
	t.Helper()
	path := filepath.Join(home, "tasks.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write import file: %v", err)
	}
	return path
}

func TestRunImportCommand_ValidFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)
	path := writeImportFile(t, home, `[
		{"name": "Renew passport", "priority": "high", "reminder_at": "2026-09-10T09:00:00Z"},
		{"name": "Water plants", "description": "balcony first"}
	]`)

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	store, err := persistence.Open(filepath.Join(home, "taskbell.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	tasks, err := store.ListTasks(context.Background(), "local@taskbell", true)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	byName := map[string]persistence.Task{}
	for _, task := range tasks {
		byName[task.Name] = task
	}
	passport, ok := byName["Renew passport"]
	if !ok {
		t.Fatal("imported task 'Renew passport' not found")
	}
	if passport.Priority != persistence.PriorityHigh {
		t.Errorf("got priority %q, want high", passport.Priority)
	}
	if passport.ReminderAt == nil {
		t.Error("reminder_at not imported")
	}
	plants := byName["Water plants"]
	if plants.Priority != persistence.PriorityLow {
		t.Errorf("got priority %q, want default low", plants.Priority)
	}
}

func TestRunImportCommand_OwnerFlag(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)
	path := writeImportFile(t, home, `[{"name": "Pay rent"}]`)

	code := runImportCommand(context.Background(), []string{"--path", path, "--owner", "alice@example.com"})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}

	store, err := persistence.Open(filepath.Join(home, "taskbell.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	tasks, err := store.ListTasks(context.Background(), "alice@example.com", true)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks for owner, want 1", len(tasks))
	}
}

func TestRunImportCommand_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not an array", content: `{"name": "solo"}`},
		{name: "missing name", content: `[{"priority": "low"}]`},
		{name: "empty name", content: `[{"name": ""}]`},
		{name: "bad priority", content: `[{"name": "x", "priority": "urgent"}]`},
		{name: "unknown field", content: `[{"name": "x", "color": "red"}]`},
		{name: "not JSON", content: `name: not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("TASKBELL_HOME", home)
			path := writeImportFile(t, home, tt.content)

			code := runImportCommand(context.Background(), []string{"--path", path})
			if code != 1 {
				t.Fatalf("got exit code %d, want 1", code)
			}
			if _, err := os.Stat(filepath.Join(home, "taskbell.db")); !os.IsNotExist(err) {
				t.Error("store created despite invalid import file")
			}
		})
	}
}

func TestRunImportCommand_EmptyFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)
	path := writeImportFile(t, home, `[]`)

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 0 {
		t.Fatalf("got exit code %d, want 0 for empty list", code)
	}
}

func TestRunImportCommand_MissingFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)

	code := runImportCommand(context.Background(), []string{"--path", filepath.Join(home, "nope.json")})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 for missing file", code)
	}
}

func TestRunImportCommand_ExtraArgs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)

	code := runImportCommand(context.Background(), []string{"stray"})
	if code != 2 {
		t.Fatalf("got exit code %d, want 2", code)
	}
}

func TestRunImportCommand_BadTimestamp(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKBELL_HOME", home)
	path := writeImportFile(t, home, `[{"name": "x", "reminder_at": "tomorrow"}]`)

	code := runImportCommand(context.Background(), []string{"--path", path})
	if code != 1 {
		t.Fatalf("got exit code %d, want 1 for bad timestamp", code)
	}
}
