package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

// taskImportSchema validates the shape of a task import file before any row
// is written. Priority and timestamps are checked up front so a bad file
// never leaves a half-imported database.
const taskImportSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"priority": {"enum": ["low", "medium", "high"]},
			"due_at": {"type": "string"},
			"reminder_at": {"type": "string"}
		}
	}
}`

type importedTask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueAt       string `json:"due_at"`
	ReminderAt  string `json:"reminder_at"`
}

func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("taskbell import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "tasks.json", "path to task import file")
	owner := fs.String("owner", "", "owner email for imported tasks")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskbell import [--path tasks.json] [--owner email]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	ownerEmail := strings.TrimSpace(*owner)
	if ownerEmail == "" {
		if len(cfg.Auth.Keys) > 0 {
			ownerEmail = cfg.Auth.Keys[0].Email
		} else {
			ownerEmail = "local@taskbell"
		}
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read import file: %v\n", err)
		return 1
	}

	tasks, err := parseImportFile(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid import file: %v\n", err)
		return 1
	}
	if len(tasks) == 0 {
		fmt.Fprintln(os.Stdout, "no tasks imported (empty file)")
		return 0
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "taskbell.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer store.Close()

	for i, it := range tasks {
		task := &persistence.Task{
			OwnerEmail:  ownerEmail,
			Name:        strings.TrimSpace(it.Name),
			Description: it.Description,
			Priority:    persistence.Priority(it.Priority),
		}
		if task.Priority == "" {
			task.Priority = persistence.PriorityLow
		}
		if it.DueAt != "" {
			t, err := time.Parse(time.RFC3339, it.DueAt)
			if err != nil {
				fmt.Fprintf(os.Stderr, "task %d: bad due_at: %v\n", i, err)
				return 1
			}
			task.DueAt = &t
		}
		if it.ReminderAt != "" {
			t, err := time.Parse(time.RFC3339, it.ReminderAt)
			if err != nil {
				fmt.Fprintf(os.Stderr, "task %d: bad reminder_at: %v\n", i, err)
				return 1
			}
			task.ReminderAt = &t
		}
		if err := store.CreateTask(ctx, task); err != nil {
			fmt.Fprintf(os.Stderr, "task %d (%s): %v\n", i, task.Name, err)
			return 1
		}
	}

	fmt.Fprintf(os.Stdout, "imported %d task(s) for %s\n", len(tasks), ownerEmail)
	return 0
}

// parseImportFile validates raw JSON against the import schema and decodes it.
func parseImportFile(raw []byte) ([]importedTask, error) {
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(taskImportSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tasks.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("tasks.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var tasks []importedTask
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
