package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskbell/internal/bus"
	"github.com/basket/taskbell/internal/otel"
	"github.com/basket/taskbell/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NotifyResult reports one notification attempt.
type NotifyResult struct {
	Success bool
	Detail  string
}

// Notifier delivers reminder notifications. Implementations must be
// best-effort: failures come back in the result or are swallowed, never
// panicking or blocking the sweep indefinitely.
type Notifier interface {
	// SendReminderEmail makes exactly one email attempt for the occurrence.
	SendReminderEmail(ctx context.Context, task persistence.Task) NotifyResult
	// Push fans the fired reminder out to push-style channels, fire-and-forget.
	Push(ctx context.Context, task persistence.Task)
	// SendDigest sends the daily open-reminder summary.
	SendDigest(ctx context.Context, tasks []persistence.Task) error
}

// ScannerConfig holds the dependencies for the reminder scanner.
type ScannerConfig struct {
	Store      *persistence.Store
	Notifier   Notifier
	Logger     *slog.Logger
	Bus        *bus.Bus      // may be nil in tests
	Metrics    *otel.Metrics // may be nil in tests
	Clock      Clock         // defaults to the system clock
	Interval   time.Duration // sweep period; defaults to 1 minute if zero
	DigestCron string        // 5-field cron expr; empty disables the digest
}

// Scanner periodically sweeps the store for due reminders, claims each one
// atomically, and fans the notification out. A failing channel never stops
// the sweep: the occurrence is already claimed, so it will not be re-sent.
type Scanner struct {
	store      *persistence.Store
	notifier   Notifier
	logger     *slog.Logger
	bus        *bus.Bus
	metrics    *otel.Metrics
	clock      Clock
	interval   time.Duration
	digestCron string

	nextDigest time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner creates a new Scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	s := &Scanner{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		logger:     logger,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		clock:      clock,
		interval:   interval,
		digestCron: cfg.DigestCron,
	}
	if s.digestCron != "" {
		next, err := NextRunTime(s.digestCron, clock.Now())
		if err != nil {
			logger.Error("invalid digest cron expression; digest disabled",
				"cron_expr", s.digestCron, "error", err)
			s.digestCron = ""
		} else {
			s.nextDigest = next
		}
	}
	return s
}

// Start begins the scanner loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("reminder scanner started", "interval", s.interval)
}

// Stop cancels the scanner loop and waits for it to exit.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sweep immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep: claims and fires every due reminder, then checks the
// digest schedule. Tasks are processed sequentially; a slow channel call
// delays, but does not corrupt, subsequent tasks.
func (s *Scanner) tick(ctx context.Context) {
	started := s.clock.Now()
	due, err := s.store.DueReminders(ctx, started)
	if err != nil {
		s.logger.Error("scanner: failed to query due reminders", "error", err)
		return
	}
	for _, task := range due {
		s.fire(ctx, task)
	}
	s.maybeSendDigest(ctx, started)

	if s.metrics != nil {
		s.metrics.ScanDuration.Record(ctx, time.Since(started).Seconds())
	}
}

// fire claims the occurrence and makes the single notification attempt. The
// claim happens first: duplicate suppression takes priority over delivery,
// so a failed send is logged and never retried for this occurrence.
func (s *Scanner) fire(ctx context.Context, task persistence.Task) {
	claimed, err := s.store.ClaimDueReminder(ctx, task.ID)
	if err != nil {
		s.logger.Error("scanner: failed to claim reminder",
			"task_id", task.ID,
			"error", err,
		)
		return
	}
	if !claimed {
		// Another scanner instance won the occurrence.
		return
	}

	result := s.notifier.SendReminderEmail(ctx, task)
	if result.Success {
		s.logger.Info("scanner: reminder email sent",
			"task_id", task.ID,
			"task_name", task.Name,
			"priority", task.Priority,
		)
	} else {
		s.logger.Warn("scanner: reminder email failed; occurrence stays claimed",
			"task_id", task.ID,
			"detail", result.Detail,
		)
		if s.metrics != nil {
			s.metrics.ChannelFailures.Add(ctx, 1)
		}
	}

	s.notifier.Push(ctx, task)

	if s.metrics != nil {
		s.metrics.RemindersFired.Add(ctx, 1)
	}
	if s.bus != nil {
		ev := bus.ReminderEvent{
			TaskID:        task.ID,
			TaskName:      task.Name,
			Priority:      string(task.Priority),
			ReminderCount: task.ReminderCount,
		}
		if task.ReminderAt != nil {
			ev.ReminderAt = task.ReminderAt.UTC().Format(time.RFC3339)
		}
		s.bus.Publish(bus.TopicReminderFired, ev)
	}
}

func (s *Scanner) maybeSendDigest(ctx context.Context, now time.Time) {
	if s.digestCron == "" || now.Before(s.nextDigest) {
		return
	}
	next, err := NextRunTime(s.digestCron, now)
	if err != nil {
		s.logger.Error("scanner: failed to compute next digest time",
			"cron_expr", s.digestCron, "error", err)
		s.digestCron = ""
		return
	}
	s.nextDigest = next

	open, err := s.store.ActiveReminders(ctx)
	if err != nil {
		s.logger.Error("scanner: failed to query digest reminders", "error", err)
		return
	}
	sent := true
	if err := s.notifier.SendDigest(ctx, open); err != nil {
		sent = false
		s.logger.Warn("scanner: digest send failed", "error", err)
	} else {
		s.logger.Info("scanner: digest sent",
			"open_reminders", len(open),
			"next_digest_at", next,
		)
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicDigestSent, bus.DigestEvent{OpenReminders: len(open), Sent: sent})
	}
}

// NextRunTime parses the cron expression and returns the next run time after
// the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
