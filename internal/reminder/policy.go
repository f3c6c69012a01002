// Package reminder implements the priority-driven escalation cycle: the
// server-side scanner that fires due reminders and the state machine that
// advances, snoozes, and exhausts them.
package reminder

import (
	"fmt"
	"time"

	"github.com/basket/taskbell/internal/persistence"
)

// EscalationInterval is the delay before an unacknowledged reminder fires
// again, until the priority cap is reached.
const EscalationInterval = 60 * time.Minute

// MaxReminders returns how many escalation occurrences a priority gets per
// cycle.
func MaxReminders(p persistence.Priority) int {
	switch p {
	case persistence.PriorityMedium:
		return 2
	case persistence.PriorityHigh:
		return 3
	default:
		return 1
	}
}

// CompletionOffset returns how far a reminder is pushed out when its task is
// completed while the reminder is still scheduled.
func CompletionOffset(p persistence.Priority) time.Duration {
	switch p {
	case persistence.PriorityMedium:
		return 24 * time.Hour
	case persistence.PriorityHigh:
		return 7 * 24 * time.Hour
	default:
		return 30 * time.Minute
	}
}

// Transition is the computed outcome of one state machine operation, ready
// to be applied to the store.
type Transition struct {
	ReminderAt    *time.Time
	ReminderCount int
	Action        persistence.RingAction
	Note          string
	Exhausted     bool
}

// ProgressTransition computes the state after one ring cycle ends, either
// naturally (stopped=false) or by explicit user stop. The occurrence is
// consumed: below the cap the reminder re-enters Scheduled an hour out,
// at the cap the cycle exhausts and clears.
func ProgressTransition(priority persistence.Priority, reminderCount int, stopped bool, now time.Time) Transition {
	action := persistence.RingActionAuto
	if stopped {
		action = persistence.RingActionStopped
	}

	newCount := reminderCount + 1
	if newCount < MaxReminders(priority) {
		next := now.Add(EscalationInterval)
		return Transition{
			ReminderAt:    &next,
			ReminderCount: newCount,
			Action:        action,
		}
	}
	return Transition{
		ReminderAt:    nil,
		ReminderCount: 0,
		Action:        action,
		Note:          "Max reminders reached",
		Exhausted:     true,
	}
}

// SnoozeTransition defers the reminder by the given number of minutes. The
// escalation count is deliberately untouched: snoozing never consumes an
// occurrence.
func SnoozeTransition(reminderCount, minutes int, now time.Time) Transition {
	next := now.Add(time.Duration(minutes) * time.Minute)
	return Transition{
		ReminderAt:    &next,
		ReminderCount: reminderCount,
		Action:        persistence.RingActionSnoozed,
		Note:          fmt.Sprintf("Snoozed %dm", minutes),
	}
}
