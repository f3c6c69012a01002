package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether p is one of the three known priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type RingAction string

const (
	RingActionAuto    RingAction = "auto"
	RingActionStopped RingAction = "stopped"
	RingActionSnoozed RingAction = "snoozed"
)

// SubReminder is one entry of the legacy dated reminder list. It is carried
// on the task as a JSON column and mutated only through the
// reminder-triggered endpoint; the escalation cycle never reads it.
type SubReminder struct {
	DaysBefore     int       `json:"days_before"`
	At             time.Time `json:"at"`
	TriggeredCount int       `json:"triggered_count"`
	MaxTriggers    int       `json:"max_triggers"`
}

type Task struct {
	ID          string   `json:"id"`
	OwnerEmail  string   `json:"owner_email"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Completed   bool     `json:"completed"`

	DueAt *time.Time `json:"due_at,omitempty"`

	ReminderAt    *time.Time `json:"reminder_at,omitempty"`
	Notified      bool       `json:"notified"`
	UIPending     bool       `json:"ui_pending"`
	ReminderCount int        `json:"reminder_count"`
	LastRingAt    *time.Time `json:"last_ring_at,omitempty"`

	SubReminders []SubReminder `json:"sub_reminders"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RingEntry is one row of the bounded per-task audit trail.
type RingEntry struct {
	At     time.Time  `json:"at"`
	Action RingAction `json:"action"`
	Note   string     `json:"note,omitempty"`
}

// ReminderUpdate is the full set of reminder fields written by one state
// machine transition. Applied atomically together with the history append.
type ReminderUpdate struct {
	ReminderAt    *time.Time
	Notified      bool
	UIPending     bool
	ReminderCount int
	LastRingAt    *time.Time
	History       *RingEntry // nil skips the history append
}

const taskColumns = `id, owner_email, name, description, priority, completed,
	due_at, reminder_at, notified, ui_pending, reminder_count, last_ring_at,
	sub_reminders, created_at, updated_at`

func scanTask(scanFn func(dest ...any) error, task *Task) error {
	var dueAt, reminderAt, lastRingAt sql.NullTime
	var subs string
	if err := scanFn(
		&task.ID,
		&task.OwnerEmail,
		&task.Name,
		&task.Description,
		&task.Priority,
		&task.Completed,
		&dueAt,
		&reminderAt,
		&task.Notified,
		&task.UIPending,
		&task.ReminderCount,
		&lastRingAt,
		&subs,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return err
	}
	if dueAt.Valid {
		t := dueAt.Time
		task.DueAt = &t
	}
	if reminderAt.Valid {
		t := reminderAt.Time
		task.ReminderAt = &t
	}
	if lastRingAt.Valid {
		t := lastRingAt.Time
		task.LastRingAt = &t
	}
	if subs == "" {
		subs = "[]"
	}
	if err := json.Unmarshal([]byte(subs), &task.SubReminders); err != nil {
		return fmt.Errorf("decode sub_reminders: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Valid: true, Time: t.UTC()}
}

// CreateTask inserts a new task. A missing ID is generated; SubReminders may
// be nil.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if !ValidPriority(task.Priority) {
		return fmt.Errorf("invalid priority %q", task.Priority)
	}
	if task.SubReminders == nil {
		task.SubReminders = []SubReminder{}
	}
	subs, err := json.Marshal(task.SubReminders)
	if err != nil {
		return fmt.Errorf("encode sub_reminders: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (
				id, owner_email, name, description, priority, completed,
				due_at, reminder_at, notified, ui_pending, reminder_count,
				last_ring_at, sub_reminders, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, task.ID, task.OwnerEmail, task.Name, task.Description, task.Priority,
			task.Completed, nullTime(task.DueAt), nullTime(task.ReminderAt),
			task.Notified, task.UIPending, task.ReminderCount,
			nullTime(task.LastRingAt), string(subs))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

// GetTask returns the task with the given id, scoped to owner when owner is
// non-empty. Missing and not-owned are both ErrNotFound.
func (s *Store) GetTask(ctx context.Context, owner, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	args := []any{id}
	if owner != "" {
		query += ` AND owner_email = ?`
		args = append(args, owner)
	}
	var task Task
	row := s.db.QueryRowContext(ctx, query+`;`, args...)
	if err := scanTask(row.Scan, &task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select task: %w", err)
	}
	return &task, nil
}

// ListTasks returns the owner's tasks, optionally including completed ones.
func (s *Store) ListTasks(ctx context.Context, owner string, includeCompleted bool) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_email = ?`
	if !includeCompleted {
		query += ` AND completed = 0`
	}
	query += ` ORDER BY created_at ASC;`
	return s.queryTasks(ctx, query, owner)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var task Task
		if err := scanTask(rows.Scan, &task); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// TaskFields is a partial update for mutable task attributes. Nil fields are
// left untouched.
type TaskFields struct {
	Name        *string
	Description *string
	Priority    *Priority
	DueAt       *time.Time
	ClearDueAt  bool
	ReminderAt  *time.Time
	ClearRemind bool
}

// UpdateTask applies a partial update to the owner's task.
func (s *Store) UpdateTask(ctx context.Context, owner, id string, fields TaskFields) error {
	if fields.Priority != nil && !ValidPriority(*fields.Priority) {
		return fmt.Errorf("invalid priority %q", *fields.Priority)
	}
	set := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}
	if fields.Name != nil {
		set = append(set, "name = ?")
		args = append(args, *fields.Name)
	}
	if fields.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *fields.Description)
	}
	if fields.Priority != nil {
		set = append(set, "priority = ?")
		args = append(args, *fields.Priority)
	}
	if fields.ClearDueAt {
		set = append(set, "due_at = NULL")
	} else if fields.DueAt != nil {
		set = append(set, "due_at = ?")
		args = append(args, fields.DueAt.UTC())
	}
	if fields.ClearRemind {
		// Clearing the schedule also resets the cycle.
		set = append(set, "reminder_at = NULL", "notified = 0", "ui_pending = 0", "reminder_count = 0")
	} else if fields.ReminderAt != nil {
		set = append(set, "reminder_at = ?", "notified = 0", "ui_pending = 0")
		args = append(args, fields.ReminderAt.UTC())
	}
	args = append(args, id, owner)

	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET `+joinSet(set)+` WHERE id = ? AND owner_email = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func joinSet(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// DeleteTask removes the owner's task. Ring history cascades.
func (s *Store) DeleteTask(ctx context.Context, owner, id string) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner_email = ?;`, id, owner)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete task rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetCompleted flips the completion flag and returns the task as it was
// before the flip, so the caller can run the completion-reschedule rule.
func (s *Store) SetCompleted(ctx context.Context, owner, id string, completed bool) (*Task, error) {
	prior, err := s.GetTask(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	err = retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET completed = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND owner_email = ?;
		`, completed, id, owner)
		if err != nil {
			return fmt.Errorf("set completed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

// DueReminders returns tasks whose reminder is due and unclaimed, across all
// owners. The scanner runs server-side and is not owner-scoped.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE reminder_at IS NOT NULL AND reminder_at <= ?
		  AND notified = 0 AND completed = 0
		ORDER BY reminder_at ASC;
	`, now.UTC())
}

// ClaimDueReminder marks one due reminder as notified and ui-pending. The
// conditional WHERE makes the claim atomic: under concurrent scanners only
// one caller observes claimed=true, so the notification is attempted at most
// once per occurrence.
func (s *Store) ClaimDueReminder(ctx context.Context, id string) (bool, error) {
	var claimed bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET notified = 1, ui_pending = 1, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND notified = 0 AND completed = 0;
		`, id)
		if err != nil {
			return fmt.Errorf("claim due reminder: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		claimed = affected == 1
		return nil
	})
	return claimed, err
}

// PendingReminders returns the owner's due-but-unclaimed reminders.
func (s *Store) PendingReminders(ctx context.Context, owner string, now time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_email = ? AND reminder_at IS NOT NULL AND reminder_at <= ?
		  AND notified = 0 AND completed = 0
		ORDER BY reminder_at ASC;
	`, owner, now.UTC())
}

// FiredReminders returns the owner's reminders awaiting client
// acknowledgment, newest occurrence first.
func (s *Store) FiredReminders(ctx context.Context, owner string) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_email = ? AND ui_pending = 1 AND completed = 0
		ORDER BY reminder_at DESC;
	`, owner)
}

// ActiveReminders returns every task with a scheduled reminder, for the
// daily digest.
func (s *Store) ActiveReminders(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE reminder_at IS NOT NULL AND completed = 0
		ORDER BY reminder_at ASC;
	`)
}

// ApplyReminderUpdate writes one state machine transition: the reminder
// columns and the optional ring history entry land in a single transaction,
// and the history is trimmed to its cap.
func (s *Store) ApplyReminderUpdate(ctx context.Context, id string, upd ReminderUpdate) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin reminder update tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET reminder_at = ?, notified = ?, ui_pending = ?,
				reminder_count = ?, last_ring_at = COALESCE(?, last_ring_at),
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, nullTime(upd.ReminderAt), upd.Notified, upd.UIPending,
			upd.ReminderCount, nullTime(upd.LastRingAt), id)
		if err != nil {
			return fmt.Errorf("update reminder state: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reminder update rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}

		if upd.History != nil {
			if err := appendRingHistoryTx(ctx, tx, id, *upd.History); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func appendRingHistoryTx(ctx context.Context, tx *sql.Tx, taskID string, entry RingEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ring_history (task_id, at, action, note)
		VALUES (?, ?, ?, ?);
	`, taskID, entry.At.UTC(), entry.Action, entry.Note); err != nil {
		return fmt.Errorf("insert ring history: %w", err)
	}
	// FIFO eviction past the cap.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM ring_history
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM ring_history WHERE task_id = ? ORDER BY id DESC LIMIT ?
		);
	`, taskID, taskID, ringHistoryCap); err != nil {
		return fmt.Errorf("trim ring history: %w", err)
	}
	return nil
}

// RingHistory returns the task's audit trail, oldest first.
func (s *Store) RingHistory(ctx context.Context, taskID string) ([]RingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, action, note FROM ring_history
		WHERE task_id = ? ORDER BY id ASC;
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query ring history: %w", err)
	}
	defer rows.Close()

	var out []RingEntry
	for rows.Next() {
		var entry RingEntry
		if err := rows.Scan(&entry.At, &entry.Action, &entry.Note); err != nil {
			return nil, fmt.Errorf("scan ring history: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ring history rows: %w", err)
	}
	return out, nil
}

// UpdateSubReminders replaces the legacy dated reminder list.
func (s *Store) UpdateSubReminders(ctx context.Context, id string, subs []SubReminder) error {
	if subs == nil {
		subs = []SubReminder{}
	}
	encoded, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("encode sub_reminders: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET sub_reminders = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, string(encoded), id)
		if err != nil {
			return fmt.Errorf("update sub_reminders: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sub_reminders rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Counts summarizes store contents for /api/status.
type Counts struct {
	OpenTasks       int64 `json:"open_tasks"`
	ActiveReminders int64 `json:"active_reminders"`
	FiredReminders  int64 `json:"fired_reminders"`
}

func (s *Store) CountTasks(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE completed = 0),
			COUNT(*) FILTER (WHERE completed = 0 AND reminder_at IS NOT NULL),
			COUNT(*) FILTER (WHERE completed = 0 AND ui_pending = 1)
		FROM tasks;
	`)
	if err := row.Scan(&c.OpenTasks, &c.ActiveReminders, &c.FiredReminders); err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	return c, nil
}
