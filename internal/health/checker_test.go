package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmerrifield20/filewarden/internal/ledger"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type flakyProbe struct {
	mu  sync.Mutex
	err error
}

func (f *flakyProbe) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *flakyProbe) probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheckAll_healthy(t *testing.T) {
	checker := New(map[string]Probe{
		"ledger": LedgerProbe(ledger.New()),
	}, Config{}, zap.NewNop())
	checker.CheckAll(context.Background())

	st := checker.Status()
	if !st.Healthy() {
		t.Fatalf("expected ok, got %+v", st)
	}
	if st.Components["ledger"].LastChecked.IsZero() {
		t.Error("expected LastChecked to be set")
	}
}

func TestCheckAll_degradesAfterThreshold(t *testing.T) {
	flaky := &flakyProbe{err: errors.New("hash chain broken at index 3")}
	checker := New(map[string]Probe{"ledger": flaky.probe}, Config{FailThreshold: 3}, zap.NewNop())

	for i := 0; i < 2; i++ {
		checker.CheckAll(context.Background())
	}
	if st := checker.Status(); !st.Healthy() {
		t.Fatalf("expected ok below threshold, got %+v", st)
	}

	checker.CheckAll(context.Background())
	st := checker.Status()
	if st.Healthy() || st.Status != "degraded" {
		t.Fatalf("expected degraded, got %+v", st)
	}
	if c := st.Components["ledger"]; c.FailCount != 3 || c.Error == "" {
		t.Errorf("unexpected component status %+v", c)
	}
}

func TestCheckAll_recovers(t *testing.T) {
	flaky := &flakyProbe{err: errors.New("down")}
	checker := New(map[string]Probe{"db": flaky.probe}, Config{}, zap.NewNop())

	checker.CheckAll(context.Background())
	if checker.Status().Healthy() {
		t.Fatal("expected degraded")
	}

	flaky.set(nil)
	checker.CheckAll(context.Background())
	st := checker.Status()
	if !st.Healthy() || st.Components["db"].FailCount != 0 {
		t.Errorf("expected recovery, got %+v", st)
	}
}

func TestCheckAll_recordsMetrics(t *testing.T) {
	var mu sync.Mutex
	got := map[string]bool{}
	checker := New(map[string]Probe{
		"ok":  func(context.Context) error { return nil },
		"bad": func(context.Context) error { return errors.New("x") },
	}, Config{}, zap.NewNop())
	checker.SetMetricsRecord(func(component string, success bool) {
		mu.Lock()
		defer mu.Unlock()
		got[component] = success
	})

	checker.CheckAll(context.Background())
	if !got["ok"] || got["bad"] {
		t.Errorf("unexpected metrics %v", got)
	}
}

func TestDirProbe(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = fsys.MkdirAll("/watched", 0o755)
	_ = afero.WriteFile(fsys, "/file", []byte("x"), 0o644)

	ctx := context.Background()
	if err := DirProbe(fsys, "/watched")(ctx); err != nil {
		t.Errorf("existing dir: %v", err)
	}
	if err := DirProbe(fsys, "/missing")(ctx); err == nil {
		t.Error("expected error for missing dir")
	}
	if err := DirProbe(fsys, "/file")(ctx); err == nil {
		t.Error("expected error for regular file")
	}
}

func TestCheckAll_alertsOnTransitions(t *testing.T) {
	flaky := &flakyProbe{err: errors.New("down")}
	checker := New(map[string]Probe{"database": flaky.probe}, Config{}, zap.NewNop())

	var events []string
	checker.SetDispatch(func(_ context.Context, eventType string, payload map[string]string) {
		events = append(events, eventType+":"+payload["component"])
	})

	checker.CheckAll(context.Background())
	checker.CheckAll(context.Background()) // still down, no new alert
	flaky.set(nil)
	checker.CheckAll(context.Background())

	want := []string{EventDegraded + ":database", EventRecovered + ":database"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events: got %v, want %v", events, want)
	}
}
