package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmerrifield20/filewarden/internal/backup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// relevantOps are the notifications that may change a file's content.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Run watches the directory until ctx is cancelled. Each path gets its own
// worker goroutine fed by a one-slot channel: a pending notification
// coalesces with later ones for the same path (the cycle reads the current
// content anyway), per-path order is kept and distinct paths run
// concurrently. A worker that sees no notification for WorkerIdle retires
// and the next notification for its path starts a fresh one. Hidden names,
// including the temp files of atomic writes, never get a worker.
//
// Run requires the Guard's filesystem to be the OS filesystem.
func (g *Guard) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer w.Close()

	dir, err := filepath.Abs(g.dir)
	if err != nil {
		return fmt.Errorf("resolve watched dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	g.logger.Info("watching directory", zap.String("dir", dir))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	// queues is owned by this goroutine. retire carries a worker's name once
	// it has gone idle; the entry is deleted before any later enqueue.
	queues := make(map[string]chan struct{})
	retire := make(chan string)

	enqueue := func(name string) {
		q, ok := queues[name]
		if !ok {
			q = make(chan struct{}, 1)
			queues[name] = q
			eg.Go(func() error {
				g.worker(ctx, name, q, retire)
				return nil
			})
		}
		select {
		case q <- struct{}{}:
		default: // a cycle is already pending for name
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case name := <-retire:
			delete(queues, name)
		case ev, ok := <-w.Events:
			if !ok {
				break loop
			}
			if ev.Op&relevantOps == 0 {
				continue
			}
			if filepath.Dir(ev.Name) != dir {
				continue
			}
			name := filepath.Base(ev.Name)
			if backup.ValidName(name) != nil {
				continue
			}
			enqueue(name)
		case err, ok := <-w.Errors:
			if !ok {
				break loop
			}
			g.logger.Warn("fsnotify error", zap.Error(err))
		}
	}

	cancel()
	err = eg.Wait()
	g.logger.Info("watcher stopped", zap.String("dir", dir))
	return err
}

// worker runs detection cycles for name until ctx is done or it has been
// idle for g.idle. After Run accepts the retirement a notification may
// still sit in q; it is handled before returning.
func (g *Guard) worker(ctx context.Context, name string, q <-chan struct{}, retire chan<- string) {
	idle := time.NewTimer(g.idle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q:
			g.cycle(ctx, name)
			idle.Reset(g.idle)
		case <-idle.C:
			select {
			case retire <- name:
				select {
				case <-q:
					g.cycle(ctx, name)
				default:
				}
				return
			case <-q:
				g.cycle(ctx, name)
				idle.Reset(g.idle)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (g *Guard) cycle(ctx context.Context, name string) {
	outcome := g.HandleChange(ctx, name)
	g.logger.Debug("detection cycle",
		zap.String("path", name),
		zap.Stringer("outcome", outcome),
	)
}
