package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all TaskBell metric instruments.
type Metrics struct {
	ScanDuration    metric.Float64Histogram
	RequestDuration metric.Float64Histogram
	RemindersFired  metric.Int64Counter
	Escalations     metric.Int64Counter
	Exhaustions     metric.Int64Counter
	Snoozes         metric.Int64Counter
	ChannelFailures metric.Int64Counter
	RingFailures    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ScanDuration, err = meter.Float64Histogram("taskbell.scan.duration",
		metric.WithDescription("Reminder sweep duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("taskbell.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersFired, err = meter.Int64Counter("taskbell.reminders.fired",
		metric.WithDescription("Reminder occurrences fired"),
	)
	if err != nil {
		return nil, err
	}

	m.Escalations, err = meter.Int64Counter("taskbell.reminders.escalations",
		metric.WithDescription("Reminders rescheduled after a ring"),
	)
	if err != nil {
		return nil, err
	}

	m.Exhaustions, err = meter.Int64Counter("taskbell.reminders.exhaustions",
		metric.WithDescription("Reminders that hit their priority cap"),
	)
	if err != nil {
		return nil, err
	}

	m.Snoozes, err = meter.Int64Counter("taskbell.reminders.snoozes",
		metric.WithDescription("Reminders snoozed by the user"),
	)
	if err != nil {
		return nil, err
	}

	m.ChannelFailures, err = meter.Int64Counter("taskbell.channel.failures",
		metric.WithDescription("Notification channel delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.RingFailures, err = meter.Int64Counter("taskbell.ring.failures",
		metric.WithDescription("Ringtone playback failures on the client"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
