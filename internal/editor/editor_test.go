package editor_test

import (
	"context"
	"testing"

	"github.com/jmerrifield20/filewarden/internal/editor"
	"go.uber.org/zap"
)

func TestNewCommand_fallsBackToEnvironment(t *testing.T) {
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", "true")
	c, err := editor.NewCommand("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), "/tmp/whatever"); err != nil {
		t.Errorf("Open: %v", err)
	}
}

func TestCommand_missingBinary(t *testing.T) {
	c, err := editor.NewCommand("definitely-not-an-editor-binary", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Open(context.Background(), "/tmp/x"); err == nil {
		t.Error("expected error for missing editor binary")
	}
}

func TestNoop(t *testing.T) {
	if err := editor.NewNoop(zap.NewNop()).Open(context.Background(), "/tmp/x"); err != nil {
		t.Errorf("Noop.Open: %v", err)
	}
}
