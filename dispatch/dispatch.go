// Package dispatch is the library entry point of patchdispatch: it parses
// patch text, applies its commands to a file system and keeps an undo
// history of the applied patches.
//
//	fsys, _ := dispatch.NewOSFileSystem(".")
//	engine, _ := dispatch.New(fsys, dispatch.Options{})
//	res, err := engine.Submit(ctx, model.Patch{Content: text})
//	...
//	engine.Revert(ctx, 1)
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sokinpui/patchdispatch/internal/fs"
	"github.com/sokinpui/patchdispatch/internal/parser"
	"github.com/sokinpui/patchdispatch/internal/patcher"
	"github.com/sokinpui/patchdispatch/internal/state"
	"github.com/sokinpui/patchdispatch/model"
)

// OSFileSystem is a file system port rooted at a directory.
type OSFileSystem = fs.OS

// MemoryFileSystem is an in-memory file system port.
type MemoryFileSystem = fs.Memory

// NewOSFileSystem returns a port confined to root.
func NewOSFileSystem(root string) (*OSFileSystem, error) {
	return fs.NewOS(root)
}

// NewMemoryFileSystem returns an empty in-memory port.
func NewMemoryFileSystem() *MemoryFileSystem {
	return fs.NewMemory()
}

// Options configures an Engine. The zero value is usable.
type Options struct {
	// Capacity bounds the history. Zero means state.DefaultCapacity.
	Capacity int
	// Syntax is "auto" (or empty), "block" or "bang".
	Syntax string
	// InlineRevert lets patches undo history with REVERT commands.
	InlineRevert bool
	// SnapshotDeletes captures deleted content so DELETE can be reverted.
	SnapshotDeletes bool
	// StateDir persists the history under StateDir/history. Empty keeps it in memory.
	StateDir string
	Logger   *slog.Logger
}

// Engine couples the executor with its history ledger.
type Engine struct {
	patcher *patcher.Patcher
	ledger  *state.Ledger
	logger  *slog.Logger
}

// New creates an Engine over fsys.
func New(fsys model.FileSystem, opts Options) (*Engine, error) {
	syntax, err := parser.ParseSyntax(opts.Syntax)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ledgerOpts := []state.Option{
		state.WithCapacity(opts.Capacity),
		state.WithLogger(logger),
	}
	var store state.Store
	if opts.StateDir != "" {
		cfg := state.DefaultBadgerConfig(filepath.Join(opts.StateDir, "history"))
		store, err = state.OpenBadger(cfg)
		if err != nil {
			return nil, err
		}
		ledgerOpts = append(ledgerOpts, state.WithStore(store))
	}

	ledger, err := state.New(context.Background(), fsys, ledgerOpts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	patcherOpts := []patcher.Option{
		patcher.WithSyntax(syntax),
		patcher.WithLogger(logger),
		patcher.WithDeleteSnapshots(opts.SnapshotDeletes),
	}
	if opts.InlineRevert {
		patcherOpts = append(patcherOpts, patcher.WithReverter(ledger))
	}

	return &Engine{
		patcher: patcher.New(fsys, patcherOpts...),
		ledger:  ledger,
		logger:  logger,
	}, nil
}

// ProcessContent applies raw patch text without recording it.
func (e *Engine) ProcessContent(ctx context.Context, content string) model.ProcessResult {
	return e.patcher.ProcessContent(ctx, content)
}

// Process applies a patch without recording it.
func (e *Engine) Process(ctx context.Context, patch model.Patch) model.ProcessResult {
	return e.patcher.Process(ctx, patch)
}

// Submit applies a patch and, when it succeeded and changed something,
// records it. Failed results and patches without mutations (no commands, or
// only inline REVERTs) are never recorded. The error is only set when
// recording failed.
func (e *Engine) Submit(ctx context.Context, patch model.Patch) (model.ProcessResult, error) {
	res := e.patcher.Process(ctx, patch)
	if !res.Success || len(res.Operations) == 0 {
		return res, nil
	}
	if _, err := e.ledger.RecordPatch(ctx, res.PatchID, res.Operations); err != nil {
		return res, fmt.Errorf("patch %s applied but not recorded: %w", res.PatchID, err)
	}
	return res, nil
}

// RecordPatch records mutations applied by the caller.
func (e *Engine) RecordPatch(ctx context.Context, id string, mutations []model.Mutation) (model.HistoryEntry, error) {
	return e.ledger.RecordPatch(ctx, id, mutations)
}

// Revert undoes recorded patches, newest first.
func (e *Engine) Revert(ctx context.Context, steps int) (model.RevertReport, error) {
	return e.ledger.Revert(ctx, steps)
}

// History returns the recorded patches, newest first.
func (e *Engine) History() []model.HistoryEntry {
	return e.ledger.History()
}

// Close releases the history store.
func (e *Engine) Close() error {
	return e.ledger.Close()
}
