package email

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Notifier mails selected events to a fixed recipient list. Sends run in
// the background so callers holding locks are never blocked on SMTP.
type Notifier struct {
	sender Sender
	to     []string
	events []string // empty = every event
	logger *zap.Logger

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier. With no recipients Dispatch is a no-op.
func NewNotifier(sender Sender, to, events []string, logger *zap.Logger) *Notifier {
	return &Notifier{sender: sender, to: to, events: events, logger: logger}
}

// Dispatch mails eventType with its payload to every recipient.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if len(n.to) == 0 || (len(n.events) > 0 && !slices.Contains(n.events, eventType)) {
		return
	}
	subject, body := Format(eventType, payload)
	ctx = context.WithoutCancel(ctx)
	for _, to := range n.to {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.sender.Send(ctx, to, subject, body); err != nil {
				n.logger.Warn("alert email failed",
					zap.String("to", to),
					zap.String("event", eventType),
					zap.Error(err),
				)
			}
		}()
	}
}

// Wait blocks until every pending send has finished or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Format renders the subject and plain-text body of an alert.
func Format(eventType string, payload map[string]string) (subject, body string) {
	subject = "[warden] " + eventType
	if p := payload["path"]; p != "" {
		subject += ": " + p
	}
	if o := payload["outcome"]; o != "" {
		subject += " (" + o + ")"
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", eventType)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, payload[k])
	}
	return subject, b.String()
}
