package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/taskbell/internal/bus"
	"github.com/basket/taskbell/internal/persistence"
)

const testOwner = "me@example.com"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeTask(t *testing.T, store *persistence.Store, priority persistence.Priority, reminderAt *time.Time) *persistence.Task {
	t.Helper()
	task := &persistence.Task{
		OwnerEmail: testOwner,
		Name:       "renew passport",
		Priority:   priority,
		ReminderAt: reminderAt,
	}
	if err := store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func newTestMachine(t *testing.T, store *persistence.Store, clock Clock) *Machine {
	t.Helper()
	return NewMachine(MachineConfig{Store: store, Clock: clock})
}

func TestProgressLowPriorityExhaustsOnFirstRing(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)}
	m := newTestMachine(t, store, clock)

	at := clock.Now().Add(-time.Minute)
	task := makeTask(t, store, persistence.PriorityLow, &at)

	updated, msg, err := m.Progress(context.Background(), testOwner, task.ID, true)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if updated.ReminderAt != nil {
		t.Fatalf("low priority should exhaust after one ring, got next %v", updated.ReminderAt)
	}
	if updated.ReminderCount != 0 {
		t.Fatalf("count = %d, want 0 after exhaustion", updated.ReminderCount)
	}
	if !strings.Contains(msg, "limit reached") {
		t.Fatalf("message = %q", msg)
	}

	history, err := store.RingHistory(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ring history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history len = %d, want 1", len(history))
	}
	if history[0].Action != persistence.RingActionStopped {
		t.Fatalf("history action = %s, want stopped", history[0].Action)
	}
	if history[0].Note != "Max reminders reached" {
		t.Fatalf("history note = %q", history[0].Note)
	}
}

func TestProgressHighPriorityEscalatesThreeTimes(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)}
	m := newTestMachine(t, store, clock)

	at := clock.Now().Add(-time.Minute)
	task := makeTask(t, store, persistence.PriorityHigh, &at)

	for ring := 1; ring <= 2; ring++ {
		updated, msg, err := m.Progress(context.Background(), testOwner, task.ID, false)
		if err != nil {
			t.Fatalf("ring %d: %v", ring, err)
		}
		if updated.ReminderCount != ring {
			t.Fatalf("ring %d: count = %d", ring, updated.ReminderCount)
		}
		want := clock.Now().Add(EscalationInterval)
		if updated.ReminderAt == nil || !updated.ReminderAt.Equal(want) {
			t.Fatalf("ring %d: next = %v, want %v", ring, updated.ReminderAt, want)
		}
		if !strings.Contains(msg, "rescheduled") {
			t.Fatalf("ring %d: message = %q", ring, msg)
		}
		clock.Advance(EscalationInterval)
	}

	// Third ring hits the cap.
	updated, _, err := m.Progress(context.Background(), testOwner, task.ID, false)
	if err != nil {
		t.Fatalf("final ring: %v", err)
	}
	if updated.ReminderAt != nil || updated.ReminderCount != 0 {
		t.Fatalf("expected exhaustion, got count %d next %v", updated.ReminderCount, updated.ReminderAt)
	}

	history, err := store.RingHistory(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ring history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
}

func TestProgressCompletedTaskIsNoop(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Now().UTC()}
	m := newTestMachine(t, store, clock)

	at := clock.Now().Add(-time.Minute)
	task := makeTask(t, store, persistence.PriorityMedium, &at)
	if _, err := store.SetCompleted(context.Background(), testOwner, task.ID, true); err != nil {
		t.Fatalf("set completed: %v", err)
	}

	updated, msg, err := m.Progress(context.Background(), testOwner, task.ID, false)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if updated.ReminderCount != 0 {
		t.Fatalf("count changed on completed task: %d", updated.ReminderCount)
	}
	if !strings.Contains(msg, "already completed") {
		t.Fatalf("message = %q", msg)
	}
	history, _ := store.RingHistory(context.Background(), task.ID)
	if len(history) != 0 {
		t.Fatalf("completed task gained history: %v", history)
	}
}

func TestProgressUnknownTask(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, &fakeClock{now: time.Now().UTC()})
	if _, _, err := m.Progress(context.Background(), testOwner, "nope", false); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSnoozeLeavesCountUntouched(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 8, 20, 23, 0, 0, 0, time.UTC)}
	m := newTestMachine(t, store, clock)

	at := clock.Now().Add(-time.Minute)
	task := makeTask(t, store, persistence.PriorityHigh, &at)

	// Consume one occurrence first so the count is non-zero.
	if _, _, err := m.Progress(context.Background(), testOwner, task.ID, false); err != nil {
		t.Fatalf("progress: %v", err)
	}

	updated, msg, err := m.Snooze(context.Background(), testOwner, task.ID, 30)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if updated.ReminderCount != 1 {
		t.Fatalf("snooze consumed an occurrence: count = %d", updated.ReminderCount)
	}
	want := clock.Now().Add(30 * time.Minute)
	if updated.ReminderAt == nil || !updated.ReminderAt.Equal(want) {
		t.Fatalf("next = %v, want %v", updated.ReminderAt, want)
	}
	if msg != "Snoozed 30m" {
		t.Fatalf("message = %q", msg)
	}

	// Oldest first: the progress entry, then the snooze.
	history, _ := store.RingHistory(context.Background(), task.ID)
	if len(history) != 2 || history[0].Action != persistence.RingActionAuto ||
		history[1].Action != persistence.RingActionSnoozed {
		t.Fatalf("history = %+v", history)
	}
	if history[1].Note != "Snoozed 30m" {
		t.Fatalf("snooze note = %q", history[1].Note)
	}
}

func TestSnoozeRejectsNonPositiveMinutes(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, &fakeClock{now: time.Now().UTC()})
	at := time.Now().UTC()
	task := makeTask(t, store, persistence.PriorityLow, &at)

	for _, minutes := range []int{0, -5} {
		if _, _, err := m.Snooze(context.Background(), testOwner, task.ID, minutes); err == nil {
			t.Fatalf("snooze %d minutes: expected error", minutes)
		}
	}
}

func TestCompletionToggleShiftsReminder(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)}
	m := newTestMachine(t, store, clock)

	cases := []struct {
		priority persistence.Priority
		offset   time.Duration
	}{
		{persistence.PriorityLow, 30 * time.Minute},
		{persistence.PriorityMedium, 24 * time.Hour},
		{persistence.PriorityHigh, 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		at := clock.Now().Add(time.Hour)
		task := makeTask(t, store, tc.priority, &at)

		prior, err := store.SetCompleted(context.Background(), testOwner, task.ID, true)
		if err != nil {
			t.Fatalf("%s: set completed: %v", tc.priority, err)
		}
		if err := m.OnCompletionToggle(context.Background(), prior); err != nil {
			t.Fatalf("%s: toggle: %v", tc.priority, err)
		}

		got, err := store.GetTask(context.Background(), testOwner, task.ID)
		if err != nil {
			t.Fatalf("%s: get: %v", tc.priority, err)
		}
		want := at.Add(tc.offset)
		if got.ReminderAt == nil || !got.ReminderAt.Equal(want) {
			t.Fatalf("%s: next = %v, want %v", tc.priority, got.ReminderAt, want)
		}
		if got.Notified || got.UIPending {
			t.Fatalf("%s: reschedule left flags set: %+v", tc.priority, got)
		}
	}
}

func TestCompletionToggleNoopWithoutReminder(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, &fakeClock{now: time.Now().UTC()})
	task := makeTask(t, store, persistence.PriorityMedium, nil)

	prior, err := store.SetCompleted(context.Background(), testOwner, task.ID, true)
	if err != nil {
		t.Fatalf("set completed: %v", err)
	}
	if err := m.OnCompletionToggle(context.Background(), prior); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	got, _ := store.GetTask(context.Background(), testOwner, task.ID)
	if got.ReminderAt != nil {
		t.Fatalf("reminder appeared from nowhere: %v", got.ReminderAt)
	}
}

func TestTriggerSubReminder(t *testing.T) {
	store := newTestStore(t)
	m := newTestMachine(t, store, &fakeClock{now: time.Now().UTC()})
	task := makeTask(t, store, persistence.PriorityHigh, nil)

	due := time.Now().UTC().Add(10 * 24 * time.Hour)
	subs := []persistence.SubReminder{
		{DaysBefore: 7, At: due.AddDate(0, 0, -7), MaxTriggers: 2},
		{DaysBefore: 1, At: due.AddDate(0, 0, -1)},
	}
	if err := store.UpdateSubReminders(context.Background(), task.ID, subs); err != nil {
		t.Fatalf("seed subs: %v", err)
	}

	got, err := m.TriggerSubReminder(context.Background(), testOwner, task.ID, 0)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got.SubReminders[0].TriggeredCount != 1 {
		t.Fatalf("triggered = %d, want 1", got.SubReminders[0].TriggeredCount)
	}

	// Second sub defaults to a single trigger; a repeat attempt is absorbed.
	for i := 0; i < 2; i++ {
		if got, err = m.TriggerSubReminder(context.Background(), testOwner, task.ID, 1); err != nil {
			t.Fatalf("trigger sub 1: %v", err)
		}
	}
	if got.SubReminders[1].TriggeredCount != 1 {
		t.Fatalf("sub 1 triggered = %d, want 1", got.SubReminders[1].TriggeredCount)
	}

	if _, err := m.TriggerSubReminder(context.Background(), testOwner, task.ID, 5); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestMachinePublishesBusEvents(t *testing.T) {
	store := newTestStore(t)
	clock := &fakeClock{now: time.Now().UTC()}
	b := bus.New()
	m := NewMachine(MachineConfig{Store: store, Bus: b, Clock: clock})

	sub := b.Subscribe("reminder.")
	defer b.Unsubscribe(sub)

	at := clock.Now().Add(-time.Minute)
	task := makeTask(t, store, persistence.PriorityMedium, &at)

	if _, _, err := m.Progress(context.Background(), testOwner, task.ID, false); err != nil {
		t.Fatalf("progress: %v", err)
	}

	select {
	case ev := <-sub.Ch():
		if ev.Topic != bus.TopicReminderProgress {
			t.Fatalf("topic = %s", ev.Topic)
		}
		payload, ok := ev.Payload.(bus.ReminderEvent)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if payload.TaskID != task.ID || payload.ReminderCount != 1 {
			t.Fatalf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus event published")
	}
}
