package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/taskbell/internal/bus"
	"github.com/basket/taskbell/internal/persistence"
)

// MachineConfig holds the dependencies for the reminder state machine.
type MachineConfig struct {
	Store  *persistence.Store
	Bus    *bus.Bus // may be nil in tests
	Logger *slog.Logger
	Clock  Clock
}

// Machine applies reminder state transitions on behalf of the gateway. Every
// operation loads the task, computes the transition with the pure rules in
// policy.go, and persists state plus history in one transaction.
type Machine struct {
	store  *persistence.Store
	bus    *bus.Bus
	logger *slog.Logger
	clock  Clock
}

func NewMachine(cfg MachineConfig) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &Machine{
		store:  cfg.Store,
		bus:    cfg.Bus,
		logger: logger,
		clock:  clock,
	}
}

// Progress consumes one ring occurrence for the owner's task. Below the
// priority cap the reminder re-enters Scheduled an hour out; at the cap the
// cycle exhausts. Completed tasks are a no-op and return unchanged. The
// returned message is echoed to the client.
func (m *Machine) Progress(ctx context.Context, owner, taskID string, stopped bool) (*persistence.Task, string, error) {
	task, err := m.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, "", err
	}
	if task.Completed {
		return task, "Task already completed; reminder unchanged", nil
	}
	if task.ReminderAt == nil {
		return task, "No reminder scheduled for this task", nil
	}

	now := m.clock.Now()
	tr := ProgressTransition(task.Priority, task.ReminderCount, stopped, now)
	upd := persistence.ReminderUpdate{
		ReminderAt:    tr.ReminderAt,
		ReminderCount: tr.ReminderCount,
		LastRingAt:    &now,
		History:       &persistence.RingEntry{At: now, Action: tr.Action, Note: tr.Note},
	}
	if err := m.store.ApplyReminderUpdate(ctx, taskID, upd); err != nil {
		return nil, "", fmt.Errorf("apply progress: %w", err)
	}

	updated, err := m.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, "", err
	}

	var message string
	if tr.Exhausted {
		message = "Reminder limit reached; no further reminders for this task"
		m.publish(bus.TopicReminderExhausted, updated, "exhausted")
		m.logger.Info("reminder exhausted",
			"task_id", taskID,
			"priority", task.Priority,
		)
	} else {
		message = fmt.Sprintf("Reminder rescheduled (%d of %d)", tr.ReminderCount, MaxReminders(task.Priority))
		m.publish(bus.TopicReminderProgress, updated, string(tr.Action))
		m.logger.Info("reminder progressed",
			"task_id", taskID,
			"reminder_count", tr.ReminderCount,
			"next_at", tr.ReminderAt,
			"stopped", stopped,
		)
	}
	return updated, message, nil
}

// Snooze defers the owner's reminder by minutes without consuming an
// occurrence. Completed tasks are a no-op.
func (m *Machine) Snooze(ctx context.Context, owner, taskID string, minutes int) (*persistence.Task, string, error) {
	if minutes <= 0 {
		return nil, "", fmt.Errorf("snooze minutes must be positive, got %d", minutes)
	}
	task, err := m.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, "", err
	}
	if task.Completed {
		return task, "Task already completed; reminder unchanged", nil
	}

	now := m.clock.Now()
	tr := SnoozeTransition(task.ReminderCount, minutes, now)
	upd := persistence.ReminderUpdate{
		ReminderAt:    tr.ReminderAt,
		ReminderCount: tr.ReminderCount,
		LastRingAt:    &now,
		History:       &persistence.RingEntry{At: now, Action: tr.Action, Note: tr.Note},
	}
	if err := m.store.ApplyReminderUpdate(ctx, taskID, upd); err != nil {
		return nil, "", fmt.Errorf("apply snooze: %w", err)
	}

	updated, err := m.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, "", err
	}
	m.publish(bus.TopicReminderSnoozed, updated, string(persistence.RingActionSnoozed))
	m.logger.Info("reminder snoozed",
		"task_id", taskID,
		"minutes", minutes,
		"next_at", tr.ReminderAt,
	)
	return updated, tr.Note, nil
}

// OnCompletionToggle runs when a task transitions to completed while a
// reminder is scheduled: the reminder shifts forward from its previous value
// by the priority offset and the notified flag resets, so the rescheduled
// occurrence can still fire later. prior is the task state before the flip.
// Already-completed tasks and tasks without a reminder are a no-op.
func (m *Machine) OnCompletionToggle(ctx context.Context, prior *persistence.Task) error {
	if prior.Completed || prior.ReminderAt == nil {
		return nil
	}
	shifted := prior.ReminderAt.Add(CompletionOffset(prior.Priority))
	upd := persistence.ReminderUpdate{
		ReminderAt:    &shifted,
		ReminderCount: prior.ReminderCount,
	}
	if err := m.store.ApplyReminderUpdate(ctx, prior.ID, upd); err != nil {
		return fmt.Errorf("apply completion reschedule: %w", err)
	}
	m.logger.Info("reminder rescheduled on completion",
		"task_id", prior.ID,
		"priority", prior.Priority,
		"next_at", shifted,
	)
	return nil
}

// TriggerSubReminder increments the triggered count of the dated sub-reminder
// at index, up to its own cap. Out-of-range indexes are an error with no
// state change. This is the legacy mechanism; it never touches the
// escalation cycle.
func (m *Machine) TriggerSubReminder(ctx context.Context, owner, taskID string, index int) (*persistence.Task, error) {
	task, err := m.store.GetTask(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(task.SubReminders) {
		return nil, fmt.Errorf("reminder index %d out of range (have %d)", index, len(task.SubReminders))
	}

	sub := task.SubReminders[index]
	limit := sub.MaxTriggers
	if limit <= 0 {
		limit = 1
	}
	if sub.TriggeredCount < limit {
		task.SubReminders[index].TriggeredCount = sub.TriggeredCount + 1
		if err := m.store.UpdateSubReminders(ctx, taskID, task.SubReminders); err != nil {
			return nil, fmt.Errorf("persist sub reminder trigger: %w", err)
		}
	}
	return m.store.GetTask(ctx, owner, taskID)
}

func (m *Machine) publish(topic string, task *persistence.Task, action string) {
	if m.bus == nil {
		return
	}
	ev := bus.ReminderEvent{
		TaskID:        task.ID,
		TaskName:      task.Name,
		Priority:      string(task.Priority),
		ReminderCount: task.ReminderCount,
		Action:        action,
	}
	if task.ReminderAt != nil {
		ev.ReminderAt = task.ReminderAt.UTC().Format(time.RFC3339)
	}
	m.bus.Publish(topic, ev)
}
