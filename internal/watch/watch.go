// Package watch submits patch files dropped into a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Handler processes one patch file. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, path string) error

// Options configures a Watcher.
type Options struct {
	// Patterns are filepath.Match patterns on the base name.
	Patterns []string
	// Debounce is the quiet period after the last event before files are handed over.
	Debounce time.Duration
	Logger   *slog.Logger
	// QueueSize bounds the files waiting for the handler.
	QueueSize int
}

// DefaultOptions returns the watch defaults.
func DefaultOptions() Options {
	return Options{
		Patterns:  []string{"*.patch.txt", "*.patch.md"},
		Debounce:  100 * time.Millisecond,
		QueueSize: 64,
	}
}

// Watcher feeds matching files of one directory to a handler, one at a time
// and in arrival order.
type Watcher struct {
	dir     string
	handler Handler
	opts    Options
	logger  *slog.Logger
}

// New creates a Watcher for dir.
func New(dir string, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	if len(opts.Patterns) == 0 {
		return nil, errors.New("watch: at least one pattern is required")
	}
	for _, p := range opts.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("watch: bad pattern %q: %w", p, err)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", dir)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:     dir,
		handler: handler,
		opts:    opts,
		logger:  logger.With("component", "watch", "dir", dir),
	}, nil
}

// Matches reports whether the base name of path matches a pattern.
func (w *Watcher) Matches(path string) bool {
	base := filepath.Base(path)
	for _, p := range w.opts.Patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Run processes the matching files already present, then every matching
// file created or written until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: adding %s: %w", w.dir, err)
	}

	existing, err := w.scan()
	if err != nil {
		return err
	}

	queue := make(chan string, w.opts.QueueSize)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, path := range existing {
			if !enqueue(ctx, queue, path) {
				return nil
			}
		}
		return w.events(ctx, fsw, queue)
	})

	g.Go(func() error {
		for path := range queue {
			w.process(ctx, path)
		}
		return nil
	})

	w.logger.Info("watching for patches", "patterns", w.opts.Patterns, "existing", len(existing))
	return g.Wait()
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.Matches(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// events debounces fsnotify events and pushes settled paths onto queue.
func (w *Watcher) events(ctx context.Context, fsw *fsnotify.Watcher, queue chan<- string) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.Matches(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				if !enqueue(ctx, queue, p) {
					return nil
				}
			}
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		w.logger.Debug("skipping vanished file", "path", path)
		return
	}
	if err := w.handler(ctx, path); err != nil {
		w.logger.Error("patch file failed", "path", path, "error", err)
		return
	}
	w.logger.Debug("patch file processed", "path", path)
}

func enqueue(ctx context.Context, queue chan<- string, path string) bool {
	select {
	case queue <- path:
		return true
	case <-ctx.Done():
		return false
	}
}
