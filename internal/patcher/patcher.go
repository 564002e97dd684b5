package patcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sokinpui/patchdispatch/internal/metrics"
	"github.com/sokinpui/patchdispatch/internal/parser"
	"github.com/sokinpui/patchdispatch/model"
)

const tracerName = "patchdispatch/patcher"

// Reverter undoes recorded patches. Implemented by the history ledger.
type Reverter interface {
	Revert(ctx context.Context, steps int) (model.RevertReport, error)
}

// Patcher applies parsed commands to a file system port.
//
// Commands of one patch run strictly in document order. Concurrent calls are
// not serialised: callers must not submit patches touching the same paths
// concurrently.
type Patcher struct {
	fsys            model.FileSystem
	syntax          parser.Syntax
	reverter        Reverter
	snapshotDeletes bool
	tracer          trace.Tracer
	logger          *slog.Logger
}

// Option configures a Patcher.
type Option func(*Patcher)

// WithSyntax fixes the marker grammar instead of detecting it.
func WithSyntax(s parser.Syntax) Option {
	return func(p *Patcher) { p.syntax = s }
}

// WithReverter enables inline REVERT commands.
func WithReverter(r Reverter) Option {
	return func(p *Patcher) { p.reverter = r }
}

// WithDeleteSnapshots makes DELETE capture the removed content so it can be restored.
func WithDeleteSnapshots(enabled bool) Option {
	return func(p *Patcher) { p.snapshotDeletes = enabled }
}

// WithTracerProvider sets where patch spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Patcher) { p.tracer = tp.Tracer(tracerName) }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Patcher) { p.logger = l }
}

// New creates a Patcher over fsys.
func New(fsys model.FileSystem, opts ...Option) *Patcher {
	p := &Patcher{fsys: fsys, tracer: otel.Tracer(tracerName), logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "patcher")
	return p
}

// ProcessContent parses and applies raw patch text.
func (p *Patcher) ProcessContent(ctx context.Context, content string) model.ProcessResult {
	return p.Process(ctx, model.Patch{Content: content})
}

// Process parses a patch and applies its commands. Parse failures are
// returned before anything is touched; the first execution failure stops the
// remaining commands and earlier ones are left applied.
func (p *Patcher) Process(ctx context.Context, patch model.Patch) model.ProcessResult {
	if patch.ID == "" {
		patch.ID = uuid.NewString()
	}
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "patcher.Process", trace.WithAttributes(
		attribute.String("patch.id", patch.ID),
		attribute.Bool("patch.markdown", patch.Markdown),
	))
	defer span.End()

	logger := p.logger.With("patch_id", patch.ID)

	commands, err := p.parse(patch)
	if err != nil {
		logger.Warn("patch rejected", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		metrics.RecordPatch(ctx, metrics.ResultParseError, time.Since(start))
		return failure(patch.ID, nil, err)
	}
	span.SetAttributes(attribute.Int("patch.commands", len(commands)))

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return failure(patch.ID, nil, err)
	}

	operations := make([]model.Mutation, 0, len(commands))
	for _, cmd := range commands {
		mutation, applied, err := p.execute(ctx, patch.ID, cmd)
		if err != nil {
			logger.Error("command failed",
				"kind", cmd.Kind,
				"path", cmd.TargetPath,
				"line", cmd.StartLine,
				"applied", len(operations),
				"error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "execution failed")
			metrics.RecordPatch(ctx, metrics.ResultExecutionError, time.Since(start))
			return failure(patch.ID, operations, err)
		}
		metrics.RecordCommand(ctx, cmd.Kind.String())
		if applied {
			operations = append(operations, mutation)
		}
		logger.Debug("command applied", "kind", cmd.Kind, "path", cmd.TargetPath)
	}

	logger.Info("patch applied", "operations", len(operations), "duration", time.Since(start))
	metrics.RecordPatch(ctx, metrics.ResultSuccess, time.Since(start))
	return model.ProcessResult{
		PatchID:    patch.ID,
		Success:    true,
		Operations: operations,
	}
}

func (p *Patcher) parse(patch model.Patch) ([]model.Command, error) {
	opts := parser.Options{Syntax: p.syntax, PatchID: patch.ID}
	if patch.Markdown {
		return parser.ParseMarkdown([]byte(patch.Content), opts)
	}
	return parser.Parse(patch.Content, opts)
}

// execute applies one command. applied is false for commands that do not
// produce a mutation (REVERT).
func (p *Patcher) execute(ctx context.Context, patchID string, cmd model.Command) (m model.Mutation, applied bool, err error) {
	wrap := func(err error) error {
		return &model.ExecutionError{
			Err:     err,
			Line:    cmd.StartLine,
			PatchID: patchID,
			Path:    cmd.TargetPath,
			Kind:    cmd.Kind,
		}
	}

	switch cmd.Kind {
	case model.KindInsert, model.KindUpsert:
		m, err = p.write(ctx, cmd)
		if err != nil {
			return m, false, wrap(err)
		}
		return m, true, nil
	case model.KindDelete:
		m, err = p.delete(ctx, cmd)
		if err != nil {
			return m, false, wrap(err)
		}
		return m, true, nil
	case model.KindRevert:
		if err := p.revert(ctx, cmd); err != nil {
			return m, false, wrap(err)
		}
		return m, false, nil
	default:
		return m, false, wrap(fmt.Errorf("%w: %s", model.ErrInvalidCommand, cmd.Kind))
	}
}

func (p *Patcher) write(ctx context.Context, cmd model.Command) (model.Mutation, error) {
	m := model.Mutation{Command: cmd}

	if err := p.ensureParent(ctx, cmd.TargetPath); err != nil {
		return m, err
	}

	m.PreviousContent, m.Snapshot = Capture(ctx, p.fsys, cmd.TargetPath)
	if m.Snapshot == model.SnapshotFailed {
		p.logger.Warn("previous content not captured; patch will not be revertible", "path", cmd.TargetPath)
	}

	if err := p.fsys.WriteFile(ctx, cmd.TargetPath, cmd.Content); err != nil {
		return m, err
	}
	return m, nil
}

func (p *Patcher) delete(ctx context.Context, cmd model.Command) (model.Mutation, error) {
	m := model.Mutation{Command: cmd, Snapshot: model.SnapshotSkipped}

	exists, err := p.fsys.Exists(ctx, cmd.TargetPath)
	if err != nil {
		return m, err
	}
	if !exists {
		m.NoOp = true
		m.Snapshot = model.SnapshotAbsent
		return m, nil
	}

	if p.snapshotDeletes {
		content, err := p.fsys.ReadFile(ctx, cmd.TargetPath)
		if err != nil {
			m.Snapshot = model.SnapshotFailed
			p.logger.Warn("deleted content not captured", "path", cmd.TargetPath, "error", err)
		} else {
			m.PreviousContent = &content
			m.Snapshot = model.SnapshotCaptured
		}
	}

	if err := p.fsys.Delete(ctx, cmd.TargetPath); err != nil {
		return m, err
	}
	return m, nil
}

func (p *Patcher) revert(ctx context.Context, cmd model.Command) error {
	if p.reverter == nil {
		return model.ErrInlineRevertDisabled
	}
	steps := 1
	if body := strings.TrimSpace(cmd.Content); body != "" {
		n, err := strconv.Atoi(body)
		if err != nil {
			return fmt.Errorf("%w: %q", model.ErrInvalidSteps, body)
		}
		steps = n
	}
	report, err := p.reverter.Revert(ctx, steps)
	if err != nil {
		return err
	}
	p.logger.Info("inline revert", "steps", steps, "reverted", len(report.Reverted), "skipped", len(report.Skipped))
	return nil
}

// ensureParent creates the parent directory of target when it is missing.
func (p *Patcher) ensureParent(ctx context.Context, target string) error {
	dir := path.Dir(path.Clean(target))
	if dir == "." || dir == "/" {
		return nil
	}
	exists, err := p.fsys.Exists(ctx, dir)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.fsys.Mkdir(ctx, dir, true)
}

// Capture snapshots the current content of target. It never fails: a read
// or existence error yields SnapshotFailed.
func Capture(ctx context.Context, fsys model.FileSystem, target string) (*string, model.Snapshot) {
	exists, err := fsys.Exists(ctx, target)
	if err != nil {
		return nil, model.SnapshotFailed
	}
	if !exists {
		return nil, model.SnapshotAbsent
	}
	content, err := fsys.ReadFile(ctx, target)
	if err != nil {
		return nil, model.SnapshotFailed
	}
	return &content, model.SnapshotCaptured
}

func failure(patchID string, applied []model.Mutation, err error) model.ProcessResult {
	info := &model.ErrorInfo{
		Message: err.Error(),
		PatchID: patchID,
		Cause:   err,
	}
	var perr *model.ParseError
	var eerr *model.ExecutionError
	switch {
	case errors.As(err, &perr):
		info.Line = perr.Line
	case errors.As(err, &eerr):
		info.Line = eerr.Line
		// Underlying port message, as reported by the port.
		info.Message = eerr.Err.Error()
	}
	return model.ProcessResult{
		PatchID:    patchID,
		Success:    false,
		Operations: applied,
		Error:      info,
	}
}
