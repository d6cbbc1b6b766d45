package warden

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/filewarden/internal/activity"
	"github.com/jmerrifield20/filewarden/internal/backup"
	"github.com/jmerrifield20/filewarden/internal/editor"
	"github.com/jmerrifield20/filewarden/internal/identity"
	"github.com/jmerrifield20/filewarden/internal/ledger"
	"github.com/jmerrifield20/filewarden/internal/merkle"
	"github.com/jmerrifield20/filewarden/internal/metrics"
	"github.com/jmerrifield20/filewarden/internal/watcher"
	"github.com/jmerrifield20/filewarden/internal/webhooks"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultSessionTimeout bounds how long an edit session may stay open.
const DefaultSessionTimeout = 30 * time.Minute

// Enforcer is the guard's control surface. *watcher.Guard satisfies it.
type Enforcer interface {
	Suspend(name string)
	Resume(name string)
	Mode(name string) watcher.Mode
	Path(name string) string
}

// Config holds Service settings.
type Config struct {
	ChunkSize      int
	SessionTimeout time.Duration
	ReapInterval   time.Duration
}

// Session is an open authorized-editing session for one path.
type Session struct {
	ID                 string    `json:"id"`
	Path               string    `json:"path"`
	Address            string    `json:"address"`
	Token              string    `json:"-"`
	PreEditFingerprint string    `json:"pre_edit_fingerprint"`
	StartedAt          time.Time `json:"started_at"`
	ExpiresAt          time.Time `json:"expires_at"`

	closing bool // completion or abandonment in progress
}

// UploadResult is returned by Upload.
type UploadResult struct {
	Path        string `json:"path"`
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
	Address     string `json:"address"`
	Index       int    `json:"index"`
}

// Grant is returned when a modify request is granted. Ticket is empty when
// the service has no SessionIssuer.
type Grant struct {
	Session Session
	Ticket  string
}

// FileStatus describes one watched file.
type FileStatus struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	BlockIndex  int       `json:"block_index"`
	UpdatedAt   time.Time `json:"updated_at"`
	Mode        string    `json:"mode"`
	Session     *Session  `json:"session,omitempty"`
}

// Service coordinates uploads and edit sessions.
type Service struct {
	fs       afero.Fs
	ledger   ledger.Ledger
	registry identity.Registry
	backups  *backup.Store
	guard    Enforcer
	editor   editor.Launcher
	tickets  *identity.SessionIssuer // nil = no session tickets
	notify   watcher.Notifier
	hasher   merkle.Hasher
	cfg      Config
	activity *activity.Log
	logger   *zap.Logger
	now      func() time.Time

	uploadMu sync.Mutex // serialises the registered-check and mint of uploads

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewService creates a Service. fsys must be the filesystem the guard watches.
func NewService(
	fsys afero.Fs,
	l ledger.Ledger,
	registry identity.Registry,
	backups *backup.Store,
	guard Enforcer,
	launcher editor.Launcher,
	log *activity.Log,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = min(cfg.SessionTimeout/4, time.Minute)
	}
	return &Service{
		fs:       fsys,
		ledger:   l,
		registry: registry,
		backups:  backups,
		guard:    guard,
		editor:   launcher,
		hasher:   merkle.NewHasher(cfg.ChunkSize),
		cfg:      cfg,
		activity: log,
		notify:   nopNotifier{},
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// SetSessionIssuer enables session tickets on granted modify requests.
func (s *Service) SetSessionIssuer(t *identity.SessionIssuer) {
	s.tickets = t
}

// SetNotifier forwards upload and session events to n.
func (s *Service) SetNotifier(n watcher.Notifier) {
	s.notify = n
}

type nopNotifier struct{}

func (nopNotifier) Dispatch(context.Context, string, map[string]string) {}

// SetClock replaces the time source used for session expiry.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Upload registers a new file: the content is written to the backup store
// and the watched directory, fingerprinted, and bound to the principal by a
// freshly minted token recorded in a mint block. The path is not enforced
// until the block exists.
func (s *Service) Upload(ctx context.Context, r io.Reader, filename, principal string) (*UploadResult, error) {
	name := filepath.Base(filename)
	if err := backup.ValidName(name); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	fp, err := s.hasher.Sum(data)
	if err != nil {
		s.activity.Warn(name, "Failed to upload "+name+": "+err.Error())
		return nil, err
	}

	address, err := s.registry.AddressOf(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	_, err = s.ledger.Latest(ctx, name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("check registration: %w", err)
	}

	// The copies below are the upload's own writes; keep the guard out of
	// the way until the mint block is recorded.
	s.guard.Suspend(name)
	defer s.guard.Resume(name)

	if err := s.backups.Put(name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	if err := backup.WriteAtomic(s.fs, s.guard.Path(name), bytes.NewReader(data)); err != nil {
		s.discard(name)
		return nil, fmt.Errorf("write watched copy: %w", err)
	}

	block, err := s.issueToken(ctx, name, fp, address)
	if err != nil {
		s.discard(name)
		return nil, err
	}

	s.activity.Info(name, name+" uploaded successfully",
		zap.Int("block", block.Index),
		zap.String("address", address),
	)
	s.notify.Dispatch(ctx, webhooks.EventFileUploaded, map[string]string{
		"path":        name,
		"address":     address,
		"fingerprint": fp,
	})
	return &UploadResult{
		Path:        name,
		Token:       block.Payload.Token,
		Fingerprint: fp,
		Address:     address,
		Index:       block.Index,
	}, nil
}

// issueToken derives the token for fingerprint and address and records the
// binding in a mint block.
func (s *Service) issueToken(ctx context.Context, name, fingerprint, address string) (*ledger.Block, error) {
	block, err := s.ledger.Append(ctx, ledger.Payload{
		Action:      ledger.ActionMint,
		Path:        name,
		Fingerprint: fingerprint,
		Address:     address,
		Token:       identity.DeriveToken(fingerprint, address),
		Timestamp:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("record mint block: %w", err)
	}
	metrics.RecordLedgerAppend(string(ledger.ActionMint))
	return block, nil
}

// discard removes both copies of a failed upload.
func (s *Service) discard(name string) {
	if err := s.backups.Remove(name); err != nil {
		s.logger.Warn("remove backup of failed upload", zap.String("path", name), zap.Error(err))
	}
	if err := s.fs.Remove(s.guard.Path(name)); err != nil {
		s.logger.Warn("remove watched copy of failed upload", zap.String("path", name), zap.Error(err))
	}
}

// RequestModify verifies claimedToken and principal against the latest
// block for name. All checks must pass; the first failure is returned and
// nothing changes. On success enforcement for name is suspended, the editor
// is launched and the new session returned.
func (s *Service) RequestModify(ctx context.Context, name, claimedToken, principal string) (*Grant, error) {
	grant, err := s.requestModify(ctx, name, claimedToken, principal)
	if err != nil {
		metrics.RecordAuthorization(string(DecisionDenied), Reason(err))
		return nil, err
	}
	metrics.RecordAuthorization(string(DecisionGranted), "")
	return grant, nil
}

func (s *Service) requestModify(ctx context.Context, name, claimedToken, principal string) (*Grant, error) {
	// Owners were registered at upload; a modify request never registers.
	address, err := identity.AddressFor(principal)
	if err != nil {
		s.activity.Warn(name, "Attempted modification with no principal: "+name)
		return nil, err
	}

	block, err := s.ledger.Latest(ctx, name)
	if errors.Is(err, ledger.ErrNotFound) {
		s.activity.Warn(name, "Attempted modification (unregistered): "+name)
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup latest block: %w", err)
	}

	tokenOK := subtle.ConstantTimeCompare([]byte(claimedToken), []byte(block.Payload.Token)) == 1
	ownerOK := address == block.Payload.Address
	switch {
	case !tokenOK:
		s.activity.Warn(name, "Invalid token for "+name)
		return nil, ErrInvalidToken
	case !ownerOK:
		s.activity.Warn(name, "Unauthorized user tried to modify "+name)
		return nil, ErrNotOwner
	}

	now := s.now()
	sess := &Session{
		ID:                 uuid.New().String(),
		Path:               name,
		Address:            address,
		Token:              block.Payload.Token,
		PreEditFingerprint: block.Payload.Fingerprint,
		StartedAt:          now.UTC(),
		ExpiresAt:          now.Add(s.cfg.SessionTimeout).UTC(),
	}

	s.mu.Lock()
	if _, busy := s.sessions[name]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, name)
	}
	s.sessions[name] = sess
	granted := *sess
	active := len(s.sessions)
	s.mu.Unlock()

	s.guard.Suspend(name)
	metrics.SetActiveSessions(active)

	grant := &Grant{Session: granted}
	if s.tickets != nil {
		ticket, _, err := s.tickets.Issue(sess.ID, name, address)
		if err != nil {
			s.guard.Resume(name)
			s.finishClose(sess)
			return nil, err
		}
		grant.Ticket = ticket
	}

	s.activity.Info(name, "Authorized modification of "+name, zap.String("session", sess.ID))
	s.notify.Dispatch(ctx, webhooks.EventEditGranted, map[string]string{
		"path":    name,
		"address": address,
		"session": sess.ID,
	})

	if err := s.editor.Open(ctx, s.guard.Path(name)); err != nil {
		s.activity.Warn(name, "Could not launch editor for "+name, zap.Error(err))
	}
	return grant, nil
}

// NotifyEditDone completes the open session for name: the edited content is
// fingerprinted, copied over the backup and recorded in an edit block that
// keeps the original address and token. Enforcement then resumes against
// the new fingerprint. Empty content is refused and the session stays open.
//
// The session keeps the path busy until enforcement has resumed, so a
// modify request racing the completion is refused with ErrSessionActive.
func (s *Service) NotifyEditDone(ctx context.Context, name string) (*ledger.Block, error) {
	sess := s.beginClose(name)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, name)
	}

	block, err := s.complete(ctx, sess)
	if err != nil {
		s.cancelClose(sess)
		return nil, err
	}

	s.guard.Resume(name)
	s.finishClose(sess)
	s.activity.Info(name, "Ledger updated after authorized edit: "+name, zap.Int("block", block.Index))
	s.activity.Info(name, "Backup updated after authorized edit: "+name)
	s.notify.Dispatch(ctx, webhooks.EventEditCompleted, map[string]string{
		"path":        name,
		"session":     sess.ID,
		"fingerprint": block.Payload.Fingerprint,
	})
	return block, nil
}

func (s *Service) complete(ctx context.Context, sess *Session) (*ledger.Block, error) {
	data, err := afero.ReadFile(s.fs, s.guard.Path(sess.Path))
	if err != nil {
		return nil, fmt.Errorf("read edited file: %w", err)
	}
	fp, err := s.hasher.Sum(data)
	if err != nil {
		s.activity.Warn(sess.Path, "Edited content of "+sess.Path+" is empty; session left open")
		return nil, err
	}

	prev, err := s.backups.ReadFile(sess.Path)
	if err != nil {
		return nil, fmt.Errorf("read pre-edit backup: %w", err)
	}
	if err := s.backups.Put(sess.Path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("update backup: %w", err)
	}

	block, err := s.ledger.Append(ctx, ledger.Payload{
		Action:      ledger.ActionEdit,
		Path:        sess.Path,
		Fingerprint: fp,
		Address:     sess.Address,
		Token:       sess.Token,
		Timestamp:   s.now(),
	})
	if err != nil {
		// The backup already holds the new bytes; put the trusted ones back.
		if rerr := s.backups.Put(sess.Path, bytes.NewReader(prev)); rerr != nil {
			s.logger.Error("roll back backup", zap.String("path", sess.Path), zap.Error(rerr))
		}
		return nil, fmt.Errorf("record edit block: %w", err)
	}
	metrics.RecordLedgerAppend(string(ledger.ActionEdit))
	return block, nil
}

// CancelEdit abandons the open session for name, restoring the pre-edit
// backup and resuming enforcement. No ledger block is written.
func (s *Service) CancelEdit(ctx context.Context, name string) error {
	sess := s.beginClose(name)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}
	s.abandon(ctx, sess, "cancelled")
	return nil
}

func (s *Service) abandon(ctx context.Context, sess *Session, why string) {
	if err := s.backups.CopyTo(sess.Path, s.fs, s.guard.Path(sess.Path)); err != nil {
		s.activity.Warn(sess.Path, "Could not restore "+sess.Path+" after abandoned edit", zap.Error(err))
	}
	s.guard.Resume(sess.Path)
	s.finishClose(sess)
	s.activity.Warn(sess.Path, "Edit session for "+sess.Path+" "+why+"; pre-edit content restored",
		zap.String("session", sess.ID),
	)
	s.notify.Dispatch(ctx, webhooks.EventEditAbandoned, map[string]string{
		"path":    sess.Path,
		"session": sess.ID,
		"reason":  why,
	})
}

// Reap abandons every session whose deadline has passed and returns how
// many were closed.
func (s *Service) Reap(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var expired []*Session
	for _, sess := range s.sessions {
		if !sess.closing && !now.Before(sess.ExpiresAt) {
			sess.closing = true
			expired = append(expired, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.abandon(ctx, sess, "timed out")
	}
	return len(expired)
}

// Run reaps expired sessions until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Reap(ctx); n > 0 {
				s.logger.Info("reaped expired edit sessions", zap.Int("count", n))
			}
		}
	}
}

// Session returns a copy of the open session for name.
func (s *Service) Session(name string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// beginClose claims the open session for name. It returns nil when there is
// none or another caller is already closing it.
func (s *Service) beginClose(name string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok || sess.closing {
		return nil
	}
	sess.closing = true
	return sess
}

// cancelClose returns a claimed session to the open state.
func (s *Service) cancelClose(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.closing = false
}

// finishClose removes sess. Callers resume enforcement first.
func (s *Service) finishClose(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.Path] == sess {
		delete(s.sessions, sess.Path)
	}
	metrics.SetActiveSessions(len(s.sessions))
}

// Files lists every registered file with its latest block and state.
func (s *Service) Files(ctx context.Context) ([]FileStatus, error) {
	paths, err := s.ledger.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger paths: %w", err)
	}
	out := make([]FileStatus, 0, len(paths))
	for _, p := range paths {
		b, err := s.ledger.Latest(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("latest block for %s: %w", p, err)
		}
		st := FileStatus{
			Path:        p,
			Fingerprint: b.Payload.Fingerprint,
			Address:     b.Payload.Address,
			BlockIndex:  b.Index,
			UpdatedAt:   b.Payload.Timestamp,
			Mode:        s.guard.Mode(p).String(),
		}
		if sess, ok := s.Session(p); ok {
			st.Session = &sess
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// History returns every ledger block recorded for name.
func (s *Service) History(ctx context.Context, name string) ([]*ledger.Block, error) {
	blocks, err := s.ledger.History(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return blocks, nil
}
