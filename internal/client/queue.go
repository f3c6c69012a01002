package client

import (
	"sync"
	"time"

	"github.com/basket/taskbell/internal/persistence"
)

// Item is one fired reminder occurrence waiting to ring, or ringing.
type Item struct {
	Task       persistence.Task
	ReminderAt time.Time
	EnqueuedAt time.Time
}

func (it Item) key() string {
	return it.Task.ID + "|" + it.ReminderAt.UTC().Format(time.RFC3339)
}

// Queue serializes fired reminders into a single active ring. Ingest is
// idempotent per (taskID, reminderAt) occurrence, so repeated polls never
// duplicate entries. Reorder and Remove act on the pending portion only;
// the active item can only leave through FinishActive.
type Queue struct {
	mu      sync.Mutex
	active  *Item
	pending []Item
	seen    map[string]struct{}
}

func NewQueue() *Queue {
	return &Queue{seen: make(map[string]struct{})}
}

// Ingest adds the not-yet-seen occurrences and reports how many were new.
// An occurrence stays deduplicated even after it is removed or finished:
// the server clears ui_pending asynchronously and the same occurrence may
// appear in a few more polls.
func (q *Queue) Ingest(tasks []persistence.Task) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	now := time.Now()
	for _, task := range tasks {
		if task.ReminderAt == nil {
			continue
		}
		item := Item{Task: task, ReminderAt: *task.ReminderAt, EnqueuedAt: now}
		if _, dup := q.seen[item.key()]; dup {
			continue
		}
		q.seen[item.key()] = struct{}{}
		q.pending = append(q.pending, item)
		added++
	}
	return added
}

// ActivateNext promotes the head of the pending queue to active. It reports
// false while another reminder is still ringing or nothing is pending.
func (q *Queue) ActivateNext() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil || len(q.pending) == 0 {
		return Item{}, false
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	q.active = &item
	return item, true
}

// FinishActive clears the active slot after the ring ends.
func (q *Queue) FinishActive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
}

// Active returns the currently ringing item, if any.
func (q *Queue) Active() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return Item{}, false
	}
	return *q.active, true
}

// Pending returns a copy of the waiting items in order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.pending))
	copy(out, q.pending)
	return out
}

// MoveUp swaps the pending item at i with its predecessor.
func (q *Queue) MoveUp(i int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i <= 0 || i >= len(q.pending) {
		return false
	}
	q.pending[i-1], q.pending[i] = q.pending[i], q.pending[i-1]
	return true
}

// MoveDown swaps the pending item at i with its successor.
func (q *Queue) MoveDown(i int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.pending)-1 {
		return false
	}
	q.pending[i], q.pending[i+1] = q.pending[i+1], q.pending[i]
	return true
}

// Remove drops the pending item at i. The active item is untouchable here.
func (q *Queue) Remove(i int) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.pending) {
		return Item{}, false
	}
	item := q.pending[i]
	q.pending = append(q.pending[:i], q.pending[i+1:]...)
	return item, true
}

// Len reports pending count plus the active slot.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.active != nil {
		n++
	}
	return n
}
