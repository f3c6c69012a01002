package bus

// Reminder lifecycle topics.
const (
	TopicReminderFired     = "reminder.fired"
	TopicReminderProgress  = "reminder.progressed"
	TopicReminderSnoozed   = "reminder.snoozed"
	TopicReminderExhausted = "reminder.exhausted"
)

// Task topics.
const (
	TopicTaskCompleted = "task.completed"
	TopicTaskUpdated   = "task.updated"
)

// Digest topic.
const (
	TopicDigestSent = "digest.sent"
)

// ReminderEvent is published on every reminder state change.
type ReminderEvent struct {
	TaskID        string `json:"task_id"`
	TaskName      string `json:"task_name"`
	Priority      string `json:"priority"`
	ReminderAt    string `json:"reminder_at,omitempty"` // RFC3339, empty when cleared
	ReminderCount int    `json:"reminder_count"`
	Action        string `json:"action,omitempty"` // auto | stopped | snoozed | exhausted
}

// TaskEvent is published when a task is completed or mutated.
type TaskEvent struct {
	TaskID    string `json:"task_id"`
	TaskName  string `json:"task_name"`
	Completed bool   `json:"completed"`
}

// DigestEvent is published after a daily digest send attempt.
type DigestEvent struct {
	OpenReminders int  `json:"open_reminders"`
	Sent          bool `json:"sent"`
}
