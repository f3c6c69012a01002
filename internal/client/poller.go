package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/taskbell/internal/persistence"
)

// ReminderSource fetches fired reminders, normally the API client.
type ReminderSource interface {
	FiredReminders(ctx context.Context) ([]persistence.Task, error)
}

// PollerConfig holds poller dependencies.
type PollerConfig struct {
	Source   ReminderSource
	Queue    *Queue
	Logger   *slog.Logger
	Interval time.Duration // defaults to 30s
	// OnUpdate runs after a poll that added new occurrences.
	OnUpdate func(added int)
}

// Poller feeds the queue from the gateway on a fixed interval. A failed
// poll is logged and retried on the next tick; the queue keeps whatever
// state it already has.
type Poller struct {
	source   ReminderSource
	queue    *Queue
	logger   *slog.Logger
	interval time.Duration
	onUpdate func(int)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   cfg.Source,
		queue:    cfg.Queue,
		logger:   logger,
		interval: interval,
		onUpdate: cfg.OnUpdate,
	}
}

func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one fetch-and-ingest round.
func (p *Poller) Poll(ctx context.Context) {
	fired, err := p.source.FiredReminders(ctx)
	if err != nil {
		p.logger.Warn("poll failed", "error", err)
		return
	}
	added := p.queue.Ingest(fired)
	if added > 0 {
		p.logger.Info("reminders queued", "new", added, "queued", p.queue.Len())
		if p.onUpdate != nil {
			p.onUpdate(added)
		}
	}
}
