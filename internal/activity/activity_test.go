package activity_test

import (
	"fmt"
	"testing"

	"github.com/jmerrifield20/filewarden/internal/activity"
	"go.uber.org/zap"
)

func TestEntries_orderAndLimit(t *testing.T) {
	l := activity.New(10, zap.NewNop())
	for i := 0; i < 3; i++ {
		l.Info("a.txt", fmt.Sprintf("m%d", i))
	}
	l.Warn("b.txt", "w")

	all := l.Entries(0)
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	if all[0].Message != "m0" || all[3].Message != "w" || all[3].Level != activity.LevelWarn {
		t.Errorf("unexpected order: %+v", all)
	}

	last := l.Entries(2)
	if len(last) != 2 || last[0].Message != "m2" {
		t.Errorf("Entries(2): %+v", last)
	}
}

func TestEntries_wrapsAtCapacity(t *testing.T) {
	l := activity.New(3, zap.NewNop())
	for i := 0; i < 7; i++ {
		l.Info("", fmt.Sprintf("m%d", i))
	}
	got := l.Entries(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []string{"m4", "m5", "m6"} {
		if got[i].Message != want {
			t.Errorf("entry %d: got %q, want %q", i, got[i].Message, want)
		}
	}
}
