// Package state keeps the bounded history of applied patches and undoes them.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/sokinpui/patchdispatch/internal/metrics"
	"github.com/sokinpui/patchdispatch/internal/patcher"
	"github.com/sokinpui/patchdispatch/model"
)

// DefaultCapacity is the number of entries kept when no capacity is set.
const DefaultCapacity = 100

// Ledger is the newest-first list of recorded patches. All methods are
// serialised, so a Ledger may be shared by concurrent submitters.
type Ledger struct {
	mu       sync.Mutex
	fsys     model.FileSystem
	entries  []model.HistoryEntry
	capacity int
	seq      uint64
	store    Store
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCapacity bounds the number of kept entries. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithStore persists the ledger after every change and loads it on creation.
func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger that undoes mutations through fsys.
func New(ctx context.Context, fsys model.FileSystem, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		fsys:     fsys,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")

	if l.store == nil {
		return l, nil
	}
	entries, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	for _, e := range entries {
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
	if len(entries) > l.capacity {
		metrics.RecordEviction(ctx, len(entries)-l.capacity)
		entries = entries[:l.capacity]
	}
	l.entries = entries
	l.logger.Debug("history loaded", "entries", len(entries))
	return l, nil
}

// RecordPatch adds a successfully applied patch as the newest entry.
// Mutations that carry no snapshot yet are captured now; if any capture
// failed the entry is kept but marked not revertible.
func (l *Ledger) RecordPatch(ctx context.Context, id string, mutations []model.Mutation) (model.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry := model.HistoryEntry{
		Seq:        l.seq,
		ID:         id,
		Timestamp:  l.now().UTC(),
		Mutations:  make([]model.Mutation, len(mutations)),
		Revertible: true,
	}
	for i, m := range mutations {
		if m.PreviousContent != nil {
			prev := *m.PreviousContent
			m.PreviousContent = &prev
		}
		if m.Snapshot == model.SnapshotUnknown && m.Kind != model.KindDelete {
			m.PreviousContent, m.Snapshot = patcher.Capture(ctx, l.fsys, m.TargetPath)
		}
		if m.Snapshot == model.SnapshotFailed {
			entry.Revertible = false
		}
		entry.Mutations[i] = m
	}

	l.entries = append([]model.HistoryEntry{entry}, l.entries...)
	if len(l.entries) > l.capacity {
		evicted := len(l.entries) - l.capacity
		l.entries = l.entries[:l.capacity]
		l.logger.Info("history entries evicted", "count", evicted, "capacity", l.capacity)
		metrics.RecordEviction(ctx, evicted)
	}

	l.logger.Debug("patch recorded", "patch_id", id, "seq", entry.Seq, "revertible", entry.Revertible)
	return entry.Clone(), l.persist(ctx)
}

// Revert undoes the revertible entries among the newest steps entries,
// newest first. Non-revertible entries in that window are reported as
// skipped and stay in the history.
func (l *Ledger) Revert(ctx context.Context, steps int) (model.RevertReport, error) {
	var report model.RevertReport
	if steps < 1 {
		return report, fmt.Errorf("%w: %d", model.ErrInvalidSteps, steps)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return report, model.ErrNothingToRevert
	}

	window := l.entries[:min(steps, len(l.entries))]
	var selected []model.HistoryEntry
	for _, e := range window {
		if e.Revertible {
			selected = append(selected, e)
		} else {
			report.Skipped = append(report.Skipped, e.Clone())
		}
	}
	if len(selected) == 0 {
		l.logger.Warn("no revertible entry selected", "steps", steps, "skipped", len(report.Skipped))
		return report, model.ErrNotRevertible
	}

	// Newest first: each entry's snapshot is the state its predecessor left,
	// so stacked edits to one file only unwind correctly in this order.
	undone := make(map[uint64]struct{}, len(selected))
	var failure error
	for _, e := range selected {
		if err := l.undo(ctx, e); err != nil {
			failure = fmt.Errorf("reverting patch %s: %w", e.ID, err)
			break
		}
		undone[e.Seq] = struct{}{}
		report.Reverted = append(report.Reverted, e.Clone())
		l.logger.Info("patch reverted", "patch_id", e.ID, "seq", e.Seq)
	}

	kept := make([]model.HistoryEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if _, ok := undone[e.Seq]; !ok {
			kept = append(kept, e)
		}
	}
	l.entries = kept

	metrics.RecordRevert(ctx, len(report.Reverted), len(report.Skipped))
	if err := l.persist(ctx); err != nil && failure == nil {
		failure = err
	}
	return report, failure
}

// History returns a copy of the entries, newest first.
func (l *Ledger) History() []model.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.HistoryEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

// Close releases the store.
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// undo applies the inverse of each mutation, last applied first.
func (l *Ledger) undo(ctx context.Context, e model.HistoryEntry) error {
	for i := len(e.Mutations) - 1; i >= 0; i-- {
		m := e.Mutations[i]
		if m.NoOp {
			continue
		}

		var err error
		switch m.Kind {
		case model.KindInsert, model.KindUpsert:
			if m.PreviousContent != nil {
				err = l.restore(ctx, m.TargetPath, *m.PreviousContent)
			} else {
				err = l.remove(ctx, m.TargetPath)
			}
		case model.KindDelete:
			if m.PreviousContent != nil {
				err = l.restore(ctx, m.TargetPath, *m.PreviousContent)
			}
		default:
			err = fmt.Errorf("%w: cannot undo %s", model.ErrInvalidCommand, m.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", m.Kind, m.TargetPath, err)
		}
	}
	return nil
}

func (l *Ledger) restore(ctx context.Context, target, content string) error {
	if dir := path.Dir(path.Clean(target)); dir != "." && dir != "/" {
		exists, err := l.fsys.Exists(ctx, dir)
		if err != nil {
			return err
		}
		if !exists {
			if err := l.fsys.Mkdir(ctx, dir, true); err != nil {
				return err
			}
		}
	}
	return l.fsys.WriteFile(ctx, target, content)
}

func (l *Ledger) remove(ctx context.Context, target string) error {
	exists, err := l.fsys.Exists(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return l.fsys.Delete(ctx, target)
}

// persist saves the entries. Caller holds mu.
func (l *Ledger) persist(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Save(ctx, l.entries); err != nil {
		l.logger.Error("saving history failed", "error", err)
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}
