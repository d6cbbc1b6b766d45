// Package watcher guards the watched directory: every change notification
// for a registered file triggers a detection cycle that compares the live
// fingerprint with the one recorded in the ledger, restoring the file from
// backup on mismatch.
//
// File paths handled by this package are names relative to the watched
// directory; the same names key the ledger and the backup store.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmerrifield20/filewarden/internal/activity"
	"github.com/jmerrifield20/filewarden/internal/backup"
	"github.com/jmerrifield20/filewarden/internal/ledger"
	"github.com/jmerrifield20/filewarden/internal/merkle"
	"github.com/jmerrifield20/filewarden/internal/metrics"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultCooldown is how long notifications for a path are ignored after it
// was restored, so the restore write does not trigger another cycle.
const DefaultCooldown = 2 * time.Second

// DefaultWorkerIdle is how long a path worker started by Run waits for
// another notification before it exits.
const DefaultWorkerIdle = 30 * time.Second

// Mode is the enforcement state of a single path.
type Mode int

const (
	// Guarded paths are restored on any fingerprint drift.
	Guarded Mode = iota
	// AuthorizedEditing paths are not enforced.
	AuthorizedEditing
)

func (m Mode) String() string {
	if m == AuthorizedEditing {
		return "authorized_editing"
	}
	return "guarded"
}

// Outcome is the result of one detection cycle.
type Outcome int

const (
	OutcomeIgnored    Outcome = iota // unwatched, not a regular file, or suspended
	OutcomeCooldown                  // within the post-restore cooldown window
	OutcomeBenign                    // live fingerprint matches the ledger
	OutcomeRestored                  // drift detected and reverted from backup
	OutcomeUnrepaired                // drift detected but no backup exists
	OutcomeFailed                    // drift detected, restore or lookup failed
)

var outcomeNames = [...]string{"ignored", "cooldown", "benign", "restored", "unrepaired", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// TrustSource supplies the trusted fingerprint of each path.
// ledger.Ledger satisfies this interface.
type TrustSource interface {
	Latest(ctx context.Context, path string) (*ledger.Block, error)
	Paths(ctx context.Context) ([]string, error)
}

// Restorer copies a backup over a live file. *backup.Store satisfies this.
type Restorer interface {
	CopyTo(name string, dst afero.Fs, dstPath string) error
}

// Notifier forwards tamper alerts to external receivers.
// *webhooks.Service satisfies this interface.
type Notifier interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// Notifiers fans every event out to each member.
type Notifiers []Notifier

// Dispatch implements Notifier.
func (ns Notifiers) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	for _, n := range ns {
		n.Dispatch(ctx, eventType, payload)
	}
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, string, map[string]string) {}

// EventFileTampered is the alert type sent for every detected drift.
const EventFileTampered = "file.tampered"

// Config holds Guard settings.
type Config struct {
	Dir        string        // watched directory
	Cooldown   time.Duration // post-restore suppression window
	ChunkSize  int           // fingerprint leaf size
	WorkerIdle time.Duration // Run retires an idle path worker after this
}

// pathState is the per-path enforcement state. mu serialises detection
// cycles and mode transitions for the path.
type pathState struct {
	mu         sync.Mutex
	mode       Mode
	restoredAt time.Time // zero when not in the cooldown set
}

// Guard owns the enforcement state of every watched path.
type Guard struct {
	fs       afero.Fs
	dir      string
	trust    TrustSource
	backups  Restorer
	hasher   merkle.Hasher
	cooldown time.Duration
	idle     time.Duration
	activity *activity.Log
	notify   Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	paths map[string]*pathState
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock replaces the time source used for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithNotifier sends a tamper alert through n after every restore attempt.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) {
		if n != nil {
			g.notify = n
		}
	}
}

// New creates a Guard for cfg.Dir on fsys.
func New(fsys afero.Fs, cfg Config, trust TrustSource, backups Restorer, log *activity.Log, logger *zap.Logger, opts ...Option) *Guard {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.WorkerIdle <= 0 {
		cfg.WorkerIdle = DefaultWorkerIdle
	}
	g := &Guard{
		fs:       fsys,
		dir:      cfg.Dir,
		trust:    trust,
		backups:  backups,
		hasher:   merkle.NewHasher(cfg.ChunkSize),
		cooldown: cfg.Cooldown,
		idle:     cfg.WorkerIdle,
		activity: log,
		notify:   noopNotifier{},
		logger:   logger,
		now:      time.Now,
		paths:    make(map[string]*pathState),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Dir returns the watched directory.
func (g *Guard) Dir() string { return g.dir }

// Path returns the absolute location of name inside the watched directory.
func (g *Guard) Path(name string) string { return filepath.Join(g.dir, name) }

func (g *Guard) state(name string) *pathState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.paths[name]
	if !ok {
		st = &pathState{}
		g.paths[name] = st
	}
	return st
}

// Suspend moves name to AuthorizedEditing. It waits for any detection cycle
// in progress for name to finish.
func (g *Guard) Suspend(name string) {
	st := g.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.mode = AuthorizedEditing
}

// Resume moves name back to Guarded.
func (g *Guard) Resume(name string) {
	st := g.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.mode = Guarded
}

// Mode reports the enforcement state of name.
func (g *Guard) Mode(name string) Mode {
	st := g.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.mode
}

// HandleChange runs one detection cycle for name. Cycles for the same name
// are serialised; different names may be handled concurrently.
func (g *Guard) HandleChange(ctx context.Context, name string) Outcome {
	if backup.ValidName(name) != nil {
		return OutcomeIgnored
	}

	st := g.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.mode == AuthorizedEditing {
		return OutcomeIgnored
	}

	now := g.now()
	if !st.restoredAt.IsZero() {
		if now.Sub(st.restoredAt) < g.cooldown {
			return OutcomeCooldown
		}
		st.restoredAt = time.Time{}
	}

	full := g.Path(name)
	info, err := g.fs.Stat(full)
	switch {
	case err == nil && !info.Mode().IsRegular():
		return OutcomeIgnored
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		g.logger.Warn("stat watched file", zap.String("path", name), zap.Error(err))
		return OutcomeFailed
	}

	block, err := g.trust.Latest(ctx, name)
	if errors.Is(err, ledger.ErrNotFound) {
		return OutcomeIgnored
	}
	if err != nil {
		g.logger.Error("ledger lookup failed", zap.String("path", name), zap.Error(err))
		return OutcomeFailed
	}

	live, fpErr := g.fingerprint(full)
	if fpErr == nil && live == block.Payload.Fingerprint {
		g.activity.Info(name, "Authorized modification on "+name)
		return OutcomeBenign
	}

	metrics.RecordTamper()
	g.activity.Warn(name, "Unauthorized modification on "+name,
		zap.String("trusted", block.Payload.Fingerprint),
		zap.String("live", live),
		zap.NamedError("fingerprint_error", fpErr),
	)

	outcome := g.restore(name, full)
	if outcome == OutcomeRestored {
		st.restoredAt = now
	}
	g.notify.Dispatch(ctx, EventFileTampered, map[string]string{
		"path":    name,
		"trusted": block.Payload.Fingerprint,
		"live":    live,
		"outcome": outcome.String(),
	})
	return outcome
}

func (g *Guard) restore(name, full string) Outcome {
	err := g.backups.CopyTo(name, g.fs, full)
	switch {
	case errors.Is(err, backup.ErrBackupMissing):
		metrics.RecordRestore("unrepaired")
		g.activity.Warn(name, "No backup for "+name+"; file left modified")
		return OutcomeUnrepaired
	case err != nil:
		metrics.RecordRestore("failed")
		g.activity.Warn(name, "Restore of "+name+" failed", zap.Error(err))
		return OutcomeFailed
	}
	metrics.RecordRestore("restored")
	g.activity.Info(name, "Restored "+name+" from backup")
	return OutcomeRestored
}

// fingerprint reads and hashes a live file. Missing and empty files yield
// an error and are treated as drift.
func (g *Guard) fingerprint(full string) (string, error) {
	data, err := afero.ReadFile(g.fs, full)
	if err != nil {
		return "", err
	}
	return g.hasher.Sum(data)
}

// Sweep runs a detection cycle for every path known to the ledger. It
// catches tampering that happened while no watcher was running.
func (g *Guard) Sweep(ctx context.Context) (map[string]Outcome, error) {
	names, err := g.trust.Paths(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Outcome, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out[name] = g.HandleChange(ctx, name)
	}
	return out, nil
}
