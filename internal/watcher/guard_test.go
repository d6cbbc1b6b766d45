package watcher_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/filewarden/internal/activity"
	"github.com/jmerrifield20/filewarden/internal/backup"
	"github.com/jmerrifield20/filewarden/internal/identity"
	"github.com/jmerrifield20/filewarden/internal/ledger"
	"github.com/jmerrifield20/filewarden/internal/merkle"
	"github.com/jmerrifield20/filewarden/internal/watcher"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var ctx = context.Background()

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// alerts records dispatched notifications.
type alerts struct {
	mu     sync.Mutex
	events []map[string]string
}

func (a *alerts) Dispatch(_ context.Context, eventType string, payload map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := map[string]string{"type": eventType}
	for k, v := range payload {
		ev[k] = v
	}
	a.events = append(a.events, ev)
}

func (a *alerts) all() []map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]string(nil), a.events...)
}

type fixture struct {
	fs     afero.Fs
	guard  *watcher.Guard
	ledger *ledger.MemoryLedger
	store  *backup.Store
	log    *activity.Log
	clock  *fakeClock
	alerts *alerts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/watched", 0o755); err != nil {
		t.Fatal(err)
	}
	store, err := backup.New(fsys, "/backups")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		fs:     fsys,
		ledger: ledger.New(),
		store:  store,
		log:    activity.New(100, zap.NewNop()),
		clock:  &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		alerts: &alerts{},
	}
	f.guard = watcher.New(fsys,
		watcher.Config{Dir: "/watched", Cooldown: 2 * time.Second},
		f.ledger, store, f.log, zap.NewNop(),
		watcher.WithClock(f.clock.Now),
		watcher.WithNotifier(f.alerts),
	)
	return f
}

// register writes content to both locations and records it in the ledger.
func (f *fixture) register(t *testing.T, name, content string) {
	t.Helper()
	if err := f.store.Put(name, strings.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	f.write(t, name, content)
	fp, err := merkle.Root([]byte(content), merkle.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	addr := identity.DeriveAddress("alice")
	_, err = f.ledger.Append(ctx, ledger.Payload{
		Action:      ledger.ActionMint,
		Path:        name,
		Fingerprint: fp,
		Address:     addr,
		Token:       identity.DeriveToken(fp, addr),
		Timestamp:   time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) write(t *testing.T, name, content string) {
	t.Helper()
	if err := afero.WriteFile(f.fs, "/watched/"+name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	b, err := afero.ReadFile(f.fs, "/watched/"+name)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func (f *fixture) countLog(substr string) int {
	n := 0
	for _, e := range f.log.Entries(0) {
		if strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

func TestHandleChange_tamperIsRestored(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")

	f.write(t, "X", "tampered")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeRestored {
		t.Fatalf("outcome: got %v, want restored", got)
	}

	if got := f.read(t, "X"); got != "hello" {
		t.Errorf("watched copy: got %q, want hello", got)
	}
	if n := f.countLog("Unauthorized modification on X"); n != 1 {
		t.Errorf("expected 1 detection log, got %d", n)
	}
	if n := f.countLog("Restored X from backup"); n != 1 {
		t.Errorf("expected 1 restore log, got %d", n)
	}
	if n, _ := f.ledger.Len(ctx); n != 1 {
		t.Errorf("restore must not append ledger blocks, got %d", n)
	}
}

func TestHandleChange_alertsOnTamper(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")
	f.register(t, "Y", "world")
	if err := f.store.Remove("Y"); err != nil {
		t.Fatal(err)
	}

	f.guard.HandleChange(ctx, "X") // benign
	f.write(t, "X", "tampered")
	f.guard.HandleChange(ctx, "X")
	f.write(t, "Y", "tampered")
	f.guard.HandleChange(ctx, "Y")

	got := f.alerts.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %v", len(got), got)
	}
	if got[0]["type"] != watcher.EventFileTampered || got[0]["path"] != "X" || got[0]["outcome"] != "restored" {
		t.Errorf("unexpected alert %v", got[0])
	}
	if got[0]["trusted"] == "" || got[0]["trusted"] == got[0]["live"] {
		t.Errorf("alert must carry both fingerprints: %v", got[0])
	}
	if got[1]["path"] != "Y" || got[1]["outcome"] != "unrepaired" {
		t.Errorf("unexpected alert %v", got[1])
	}
}

func TestHandleChange_cooldown(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")

	f.write(t, "X", "tampered")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeRestored {
		t.Fatalf("first cycle: got %v", got)
	}

	// Within the window: ignored, nothing restored or logged.
	f.clock.Advance(time.Second)
	f.write(t, "X", "tampered again")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeCooldown {
		t.Fatalf("within cooldown: got %v, want cooldown", got)
	}
	if got := f.read(t, "X"); got != "tampered again" {
		t.Errorf("cooldown must not touch the file, got %q", got)
	}
	if n := f.countLog("Restored X"); n != 1 {
		t.Errorf("expected no duplicate restore log, got %d", n)
	}

	// After the window: fresh detection cycle.
	f.clock.Advance(1500 * time.Millisecond)
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeRestored {
		t.Fatalf("after cooldown: got %v, want restored", got)
	}
	if got := f.read(t, "X"); got != "hello" {
		t.Errorf("watched copy: got %q, want hello", got)
	}
	if n := f.countLog("Restored X"); n != 2 {
		t.Errorf("expected 2 restore logs, got %d", n)
	}
}

func TestHandleChange_cooldownClearedLazily(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")
	f.write(t, "X", "tampered")
	f.guard.HandleChange(ctx, "X")

	// The next event after the window clears the entry; matching content
	// is then benign.
	f.clock.Advance(3 * time.Second)
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeBenign {
		t.Errorf("got %v, want benign", got)
	}
	// And an immediate tamper is detected, not suppressed.
	f.write(t, "X", "again")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeRestored {
		t.Errorf("got %v, want restored", got)
	}
}

func TestHandleChange_matchingContentIsBenign(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")

	f.write(t, "X", "hello")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeBenign {
		t.Errorf("got %v, want benign", got)
	}
	if n := f.countLog("Authorized modification on X"); n != 1 {
		t.Errorf("expected benign log, got %d", n)
	}
}

func TestHandleChange_suspendedPathIgnored(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")

	f.guard.Suspend("X")
	if m := f.guard.Mode("X"); m != watcher.AuthorizedEditing {
		t.Fatalf("mode: got %v", m)
	}
	f.write(t, "X", "being edited")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeIgnored {
		t.Errorf("got %v, want ignored", got)
	}
	if got := f.read(t, "X"); got != "being edited" {
		t.Errorf("suspended file must not be restored, got %q", got)
	}

	f.guard.Resume("X")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeRestored {
		t.Errorf("after resume: got %v, want restored", got)
	}
}

func TestHandleChange_ignoresUnwatchedAndDirectories(t *testing.T) {
	f := newFixture(t)
	f.write(t, "stranger.txt", "whatever")
	if err := f.fs.MkdirAll("/watched/subdir", 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []string{"stranger.txt", "subdir", ".warden-tmp-123", "../etc"}
	for _, name := range cases {
		if got := f.guard.HandleChange(ctx, name); got != watcher.OutcomeIgnored {
			t.Errorf("%s: got %v, want ignored", name, got)
		}
	}
}

func TestHandleChange_backupMissing(t *testing.T) {
	f := newFixture(t)
	f.register(t, "X", "hello")
	if err := f.store.Remove("X"); err != nil {
		t.Fatal(err)
	}

	f.write(t, "X", "tampered")
	if got := f.guard.HandleChange(ctx, "X"); got != watcher.OutcomeUnrepaired {
		t.Fatalf("got %v, want unrepaired", got)
	}
	if got := f.read(t, "X"); got != "tampered" {
		t.Errorf("file should be left modified, got %q", got)
	}
	if n := f.countLog("No backup for X"); n != 1 {
		t.Errorf("expected unrepaired log, got %d", n)
	}
	if n := f.countLog("Restored X"); n != 0 {
		t.Errorf("unrepaired must not be logged as restored")
	}
}

func TestHandleChange_deletedOrEmptiedFileIsRestored(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "alpha")
	f.register(t, "B", "beta")

	if err := f.fs.Remove("/watched/A"); err != nil {
		t.Fatal(err)
	}
	if got := f.guard.HandleChange(ctx, "A"); got != watcher.OutcomeRestored {
		t.Errorf("deleted: got %v, want restored", got)
	}
	if got := f.read(t, "A"); got != "alpha" {
		t.Errorf("A: got %q", got)
	}

	f.write(t, "B", "")
	if got := f.guard.HandleChange(ctx, "B"); got != watcher.OutcomeRestored {
		t.Errorf("emptied: got %v, want restored", got)
	}
	if got := f.read(t, "B"); got != "beta" {
		t.Errorf("B: got %q", got)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.register(t, "A", "alpha")
	f.register(t, "B", "beta")
	f.write(t, "B", "evil")

	got, err := f.guard.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got["A"] != watcher.OutcomeBenign || got["B"] != watcher.OutcomeRestored {
		t.Errorf("Sweep: got %v", got)
	}
}

func TestHandleChange_concurrentPaths(t *testing.T) {
	f := newFixture(t)
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		f.register(t, n, "content-"+n)
		f.write(t, n, "bad")
	}

	var wg sync.WaitGroup
	for _, n := range names {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(n string) {
				defer wg.Done()
				f.guard.HandleChange(ctx, n)
			}(n)
		}
	}
	wg.Wait()

	for _, n := range names {
		if got := f.read(t, n); got != "content-"+n {
			t.Errorf("%s: got %q", n, got)
		}
		// Serialised per path: one restore, the rest fall in the cooldown.
		if c := f.countLog("Restored " + n + " from"); c != 1 {
			t.Errorf("%s: expected exactly 1 restore, got %d", n, c)
		}
	}
}
