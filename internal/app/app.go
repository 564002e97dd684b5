package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sokinpui/patchdispatch/dispatch"
	"github.com/sokinpui/patchdispatch/internal/config"
	"github.com/sokinpui/patchdispatch/internal/fs"
	"github.com/sokinpui/patchdispatch/internal/metrics"
	"github.com/sokinpui/patchdispatch/internal/source"
	"github.com/sokinpui/patchdispatch/internal/ui"
	"github.com/sokinpui/patchdispatch/internal/watch"
	"github.com/sokinpui/patchdispatch/model"
)

const (
	lastFailedFile = "last_failed"
	failedCopyBase = "failed"
)

// App orchestrates the command-line operations over one patch root.
type App struct {
	cfg      *config.Config
	fsys     *fs.OS
	engine   *dispatch.Engine
	source   *source.Provider
	stateDir string
	logger   *slog.Logger

	shutdownTracer func(context.Context) error
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsys, err := fs.NewOS(cfg.Root)
	if err != nil {
		return nil, err
	}

	stateDir, err := filepath.Abs(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("could not resolve state directory: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}

	var shutdownTracer func(context.Context) error
	if cfg.TraceFile != "" {
		if shutdownTracer, err = metrics.InstallTracer(cfg.TraceFile); err != nil {
			return nil, err
		}
	}

	engine, err := dispatch.New(fsys, dispatch.Options{
		Capacity:        cfg.HistoryCapacity,
		Syntax:          cfg.Syntax,
		InlineRevert:    cfg.InlineRevert,
		SnapshotDeletes: cfg.SnapshotDeletes,
		StateDir:        stateDir,
		Logger:          logger,
	})
	if err != nil {
		if shutdownTracer != nil {
			shutdownTracer(context.Background())
		}
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	return &App{
		cfg:      cfg,
		fsys:     fsys,
		engine:   engine,
		source:   source.New(),
		stateDir: stateDir,
		logger:   logger.With("component", "app"),

		shutdownTracer: shutdownTracer,
	}, nil
}

// Close releases the history store and flushes pending spans.
func (a *App) Close() error {
	err := a.engine.Close()
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, a.shutdownTracer(ctx))
	}
	return err
}

// Execute runs action, turning a panic into a DetailedError.
func (a *App) Execute(action func() (model.Summary, error)) (summary model.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()
	return action()
}

// ApplyRequest selects the patch text to apply.
type ApplyRequest struct {
	// Path is a patch file; empty reads piped stdin or the clipboard, "-" forces stdin.
	Path string
	// ID names the patch in the history. Empty generates one.
	ID string
	// Markdown parses the fenced code blocks only. Implied for .md files.
	Markdown bool
}

// Apply reads, applies and records one patch.
func (a *App) Apply(ctx context.Context, req ApplyRequest) (model.Summary, error) {
	in, err := a.source.Get(req.Path)
	if err != nil {
		return model.Summary{}, err
	}
	if in.Empty() {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}
	in.Markdown = in.Markdown || req.Markdown
	return a.submit(ctx, in, req.ID)
}

// ApplyInput applies patch text that was already read.
func (a *App) ApplyInput(ctx context.Context, in source.Input, id string) (model.Summary, error) {
	if in.Empty() {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}
	return a.submit(ctx, in, id)
}

func (a *App) submit(ctx context.Context, in source.Input, id string) (model.Summary, error) {
	res, err := a.engine.Submit(ctx, model.Patch{ID: id, Content: in.Content, Markdown: in.Markdown})
	summary := dispatch.Summarize(res)
	if err != nil {
		return summary, err
	}

	if !res.Success {
		if ferr := a.rememberFailed(in); ferr != nil {
			a.logger.Warn("could not save failed patch for retry", "error", ferr)
		}
		return summary, res.Err()
	}

	if err := a.clearFailed(); err != nil {
		a.logger.Warn("could not clear retry state", "error", err)
	}
	if len(res.Operations) == 0 {
		summary.Message = "No commands found. Nothing to do."
	}
	return summary, nil
}

// Revert undoes the newest steps patches.
func (a *App) Revert(ctx context.Context, steps int) (model.Summary, error) {
	report, err := a.engine.Revert(ctx, steps)
	summary := dispatch.SummarizeRevert(report)
	switch {
	case errors.Is(err, model.ErrNothingToRevert):
		return model.Summary{Message: "History is empty. Nothing to revert."}, nil
	case errors.Is(err, model.ErrNotRevertible):
		summary.Message = "The selected patches cannot be reverted."
		return summary, err
	}
	return summary, err
}

// History returns the recorded patches, newest first.
func (a *App) History() []model.HistoryEntry {
	return a.engine.History()
}

// Retry re-submits the last failed patch.
func (a *App) Retry(ctx context.Context) (model.Summary, error) {
	path, err := a.lastFailed()
	if errors.Is(err, os.ErrNotExist) {
		return model.Summary{Message: "No failed patch to retry."}, nil
	}
	if err != nil {
		return model.Summary{}, err
	}

	in, err := source.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if cerr := a.clearFailed(); cerr != nil {
			a.logger.Warn("could not clear retry state", "error", cerr)
		}
		return model.Summary{Message: fmt.Sprintf("Last failed patch no longer exists: %s", path)}, nil
	}
	if err != nil {
		return model.Summary{}, err
	}

	a.logger.Info("retrying patch", "path", path)
	return a.submit(ctx, in, "")
}

// Watch applies every patch file dropped into dir until ctx is done. When a
// metrics address is configured the Prometheus endpoint is served alongside.
func (a *App) Watch(ctx context.Context, dir string) error {
	if dir == "" {
		dir = a.cfg.Watch.Dir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(a.fsys.Root(), dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create watch directory: %w", err)
	}

	w, err := watch.New(dir, a.handleWatched, watch.Options{
		Patterns: a.cfg.Watch.Patterns,
		Debounce: a.cfg.Watch.Debounce,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.ServePrometheus(ctx, a.cfg.MetricsAddr, a.logger)
		})
	}
	g.Go(func() error {
		return w.Run(ctx)
	})

	ui.Header("--- Watching %s ---", dir)
	return g.Wait()
}

func (a *App) handleWatched(ctx context.Context, path string) error {
	in, err := source.ReadFile(path)
	if err != nil {
		return err
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	ui.Info("Processing %s", path)
	summary, err := a.ApplyInput(ctx, in, id)
	ui.PrintSummary(summary)
	if err != nil {
		ui.Error("Error: %v", err)
		ui.Warning("Fix the patch and run 'patchdispatch retry'.")
		return err
	}

	if a.cfg.Watch.RemoveProcessed {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("could not remove processed patch: %w", err)
		}
		a.logger.Debug("removed processed patch", "path", path)
	}
	return nil
}

// rememberFailed points the retry state at the failed patch. Text that did
// not come from a file is saved under the state directory first.
func (a *App) rememberFailed(in source.Input) error {
	path := in.Path
	if in.Origin != source.OriginFile || path == "" {
		ext := ".patch.txt"
		if in.Markdown {
			ext = ".patch.md"
		}
		path = filepath.Join(a.stateDir, failedCopyBase+ext)
		if err := os.WriteFile(path, []byte(in.Content), 0644); err != nil {
			return err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(a.stateDir, lastFailedFile), []byte(abs+"\n"), 0644)
}

func (a *App) lastFailed() (string, error) {
	data, err := os.ReadFile(filepath.Join(a.stateDir, lastFailedFile))
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(string(data))
	if path == "" {
		return "", os.ErrNotExist
	}
	return path, nil
}

func (a *App) clearFailed() error {
	path, err := a.lastFailed()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if filepath.Dir(path) == a.stateDir {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return os.Remove(filepath.Join(a.stateDir, lastFailedFile))
}
