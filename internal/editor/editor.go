// Package editor hands a watched file to an out-of-process editor.
// The launch is fire-and-forget: completion of an edit is signalled
// separately by the operator, never detected from the editor process.
package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Launcher opens path for a human to edit.
type Launcher interface {
	Open(ctx context.Context, path string) error
}

// Command launches an editor command line with the file path appended.
type Command struct {
	argv   []string
	logger *zap.Logger
}

// NewCommand parses a command line such as "code --wait". An empty line
// falls back to $VISUAL, then $EDITOR, then vi.
func NewCommand(line string, logger *zap.Logger) (*Command, error) {
	if strings.TrimSpace(line) == "" {
		line = firstNonEmpty(os.Getenv("VISUAL"), os.Getenv("EDITOR"), "vi")
	}
	argv := strings.Fields(line)
	if len(argv) == 0 {
		return nil, errors.New("empty editor command")
	}
	return &Command{argv: argv, logger: logger}, nil
}

// Open implements Launcher. The process is started detached from ctx and
// reaped in the background.
func (c *Command) Open(_ context.Context, path string) error {
	args := append(append([]string(nil), c.argv[1:]...), path)
	cmd := exec.Command(c.argv[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start editor %s: %w", c.argv[0], err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			c.logger.Debug("editor exited", zap.String("path", path), zap.Error(err))
		}
	}()
	return nil
}

// Noop logs instead of launching anything. Use on headless servers where
// operators edit files through other means.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a Noop launcher.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

// Open implements Launcher.
func (n *Noop) Open(_ context.Context, path string) error {
	n.logger.Info("editor not launched (noop)", zap.String("path", path))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
