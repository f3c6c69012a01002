package channels

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

func testTask() persistence.Task {
	at := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	return persistence.Task{
		ID:          "t-1",
		OwnerEmail:  "me@example.com",
		Name:        "file quarterly taxes",
		Description: "forms are in the blue folder",
		Priority:    persistence.PriorityHigh,
		ReminderAt:  &at,
	}
}

type recordingMailer struct {
	to      []string
	subject string
	body    string
	err     error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.to = append(m.to, to)
	m.subject = subject
	m.body = body
	return m.err
}

type recordingPush struct {
	name      string
	reminders int
	digests   int
	err       error
}

func (p *recordingPush) Name() string { return p.name }
func (p *recordingPush) SendReminder(context.Context, persistence.Task) error {
	p.reminders++
	return p.err
}
func (p *recordingPush) SendDigest(context.Context, []persistence.Task) error {
	p.digests++
	return p.err
}

func TestServiceSendReminderEmail(t *testing.T) {
	mailer := &recordingMailer{}
	s := &Service{mailer: mailer}

	res := s.SendReminderEmail(context.Background(), testTask())
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(mailer.to) != 1 || mailer.to[0] != "me@example.com" {
		t.Fatalf("recipients = %v", mailer.to)
	}
	if !strings.Contains(mailer.subject, "file quarterly taxes") {
		t.Fatalf("subject = %q", mailer.subject)
	}
	if !strings.Contains(mailer.body, "Priority: high") {
		t.Fatalf("body = %q", mailer.body)
	}
}

func TestServiceEmailFailureReported(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("connection refused")}
	s := &Service{mailer: mailer}

	res := s.SendReminderEmail(context.Background(), testTask())
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Detail, "connection refused") {
		t.Fatalf("detail = %q", res.Detail)
	}
}

func TestServicePushFansOutAndSwallowsErrors(t *testing.T) {
	good := &recordingPush{name: "webhook"}
	bad := &recordingPush{name: "telegram", err: errors.New("boom")}
	s := NewService(config.ChannelsConfig{}, nil)
	s.push = []PushChannel{good, bad}

	s.Push(context.Background(), testTask())
	if good.reminders != 1 || bad.reminders != 1 {
		t.Fatalf("reminders: good=%d bad=%d", good.reminders, bad.reminders)
	}
}

func TestServiceSendDigestReturnsFirstError(t *testing.T) {
	good := &recordingPush{name: "webhook"}
	bad := &recordingPush{name: "telegram", err: errors.New("boom")}
	s := NewService(config.ChannelsConfig{}, nil)
	s.push = []PushChannel{bad, good}

	err := s.SendDigest(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("err = %v", err)
	}
	if good.digests != 1 {
		t.Fatal("later channel skipped after earlier failure")
	}
}

func TestDisabledChannelsAreNoop(t *testing.T) {
	s := NewService(config.ChannelsConfig{}, nil)

	res := s.SendReminderEmail(context.Background(), testTask())
	if !res.Success {
		t.Fatalf("noop mailer failed: %+v", res)
	}
	s.Push(context.Background(), testTask())
	if err := s.SendDigest(context.Background(), nil); err != nil {
		t.Fatalf("digest: %v", err)
	}
}

func TestDigestBody(t *testing.T) {
	if got := digestBody(nil); got != "No open reminders today." {
		t.Fatalf("empty digest = %q", got)
	}
	body := digestBody([]persistence.Task{testTask()})
	if !strings.Contains(body, "1 open reminder") || !strings.Contains(body, "file quarterly taxes") {
		t.Fatalf("digest = %q", body)
	}
}
