package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type sent struct {
	to, subject, body string
}

type captureSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (c *captureSender) Send(_ context.Context, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, sent{to, subject, body})
	return c.err
}

func waitFor(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestNotifier_mailsEveryRecipient(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier(s, []string{"ops@example.com", "sec@example.com"}, nil, zap.NewNop())

	n.Dispatch(context.Background(), "file.tampered", map[string]string{"path": "X", "outcome": "restored"})
	waitFor(t, n)

	if len(s.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(s.msgs))
	}
	for _, m := range s.msgs {
		if m.subject != "[warden] file.tampered: X (restored)" {
			t.Errorf("subject: %q", m.subject)
		}
		if !strings.Contains(m.body, "outcome: restored\n") {
			t.Errorf("body missing outcome: %q", m.body)
		}
	}
}

func TestNotifier_filtersEvents(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier(s, []string{"ops@example.com"}, []string{"file.tampered"}, zap.NewNop())

	n.Dispatch(context.Background(), "edit.granted", map[string]string{"path": "X"})
	n.Dispatch(context.Background(), "file.tampered", map[string]string{"path": "X"})
	waitFor(t, n)

	if len(s.msgs) != 1 || !strings.Contains(s.msgs[0].subject, "file.tampered") {
		t.Errorf("unexpected messages %+v", s.msgs)
	}
}

func TestNotifier_sendErrorIsLogged(t *testing.T) {
	s := &captureSender{err: errors.New("relay down")}
	n := NewNotifier(s, []string{"ops@example.com"}, nil, zap.NewNop())

	n.Dispatch(context.Background(), "file.tampered", nil)
	waitFor(t, n)
	if len(s.msgs) != 1 {
		t.Errorf("expected one attempt, got %d", len(s.msgs))
	}
}

func TestNotifier_noRecipients(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier(s, nil, nil, zap.NewNop())
	n.Dispatch(context.Background(), "file.tampered", nil)
	waitFor(t, n)
	if len(s.msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(s.msgs))
	}
}

func TestCompose(t *testing.T) {
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := string(compose("warden@example.com", "ops@example.com", "subj", "a\nb", date))
	if !strings.HasPrefix(msg, "From: warden@example.com\r\nTo: ops@example.com\r\nSubject: subj\r\n") {
		t.Errorf("unexpected headers: %q", msg)
	}
	if !strings.Contains(msg, "\r\nDate: Sun, 01 Mar 2026 12:00:00 +0000\r\n") {
		t.Errorf("missing date header: %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\na\r\nb") {
		t.Errorf("body line endings not normalised: %q", msg)
	}
}
