package channels

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/basket/taskbell/internal/config"
)

func TestSMTPMailerBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	m := NewSMTPMailer(config.SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "taskbell@example.com",
	}, nil)
	m.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := m.Send(context.Background(), "me@example.com", "Reminder: taxes", "do them\n")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" {
		t.Fatalf("addr = %q", gotAddr)
	}
	if gotFrom != "taskbell@example.com" || len(gotTo) != 1 || gotTo[0] != "me@example.com" {
		t.Fatalf("from=%q to=%v", gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Reminder: taxes\r\n") {
		t.Fatalf("message = %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\ndo them\n") {
		t.Fatalf("body missing: %q", msg)
	}
}

func TestSMTPMailerSanitizesSubject(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "h", Port: 25, From: "a@b.c"}, nil)
	var gotMsg []byte
	m.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	if err := m.Send(context.Background(), "x@y.z", "evil\r\nBcc: spam@spam", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(string(gotMsg), "Bcc:") && strings.Contains(string(gotMsg), "\r\nBcc:") {
		t.Fatalf("header injection survived: %q", gotMsg)
	}
}

func TestSMTPMailerEmptyRecipient(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "h", Port: 25, From: "a@b.c"}, nil)
	if err := m.Send(context.Background(), "", "s", "b"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestSMTPMailerHonorsContext(t *testing.T) {
	m := NewSMTPMailer(config.SMTPConfig{Host: "h", Port: 25, From: "a@b.c"}, nil)
	called := false
	m.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, "x@y.z", "s", "b"); err == nil {
		t.Fatal("expected context error")
	}
	if called {
		t.Fatal("sendMail called after cancellation")
	}
}
