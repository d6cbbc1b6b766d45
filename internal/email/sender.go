// Package email mails tamper alerts and edit-session events to the
// operators listed in the daemon configuration.
package email

import "context"

// Sender delivers a plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
