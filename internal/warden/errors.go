package warden

import (
	"errors"

	"github.com/jmerrifield20/filewarden/internal/identity"
	"github.com/jmerrifield20/filewarden/internal/merkle"
)

var (
	// ErrNotRegistered is returned when no ledger block exists for a path.
	ErrNotRegistered = errors.New("file not registered")

	// ErrInvalidToken is returned when the claimed token differs from the
	// token recorded in the latest block.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotOwner is returned when the principal's address differs from the
	// address recorded in the latest block.
	ErrNotOwner = errors.New("principal is not the file owner")

	// ErrSessionActive is returned when a path already has an open session.
	ErrSessionActive = errors.New("edit session already active")

	// ErrNoSession is returned when completing or cancelling a path that
	// has no open session.
	ErrNoSession = errors.New("no active edit session")

	// ErrAlreadyRegistered is returned when uploading a name already in the ledger.
	ErrAlreadyRegistered = errors.New("file already registered")
)

// Decision is the outcome of a modify request as reported to callers.
type Decision string

const (
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
)

// Reason maps a denial error to a stable machine-readable reason.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrSessionActive):
		return "session_active"
	case errors.Is(err, identity.ErrEmptyPrincipal):
		return "empty_principal"
	case errors.Is(err, merkle.ErrEmptyContent):
		return "empty_content"
	default:
		return "internal"
	}
}
