package patcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sokinpui/patchdispatch/internal/fs"
	"github.com/sokinpui/patchdispatch/internal/parser"
	"github.com/sokinpui/patchdispatch/model"
)

type fakeReverter struct {
	steps []int
	err   error
}

func (f *fakeReverter) Revert(_ context.Context, steps int) (model.RevertReport, error) {
	f.steps = append(f.steps, steps)
	return model.RevertReport{}, f.err
}

func TestProcessInsertCreatesParentDirectories(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem)

	res := p.ProcessContent(context.Background(),
		"/* COMMAND INSERT PATH a/b/test.txt */\nhello\n/* COMMAND INSERT END*/")

	require.True(t, res.Success, "unexpected failure: %v", res.Err())
	require.Len(t, res.Operations, 1)
	op := res.Operations[0]
	assert.Equal(t, model.KindInsert, op.Kind)
	assert.Equal(t, "a/b/test.txt", op.TargetPath)
	assert.Equal(t, "hello", op.Content)
	assert.Equal(t, model.SnapshotAbsent, op.Snapshot)
	assert.Nil(t, op.PreviousContent)

	assert.Equal(t, []string{"a", "a/b"}, mem.Dirs())
	assert.Equal(t, map[string]string{"a/b/test.txt": "hello"}, mem.Files())
	assert.NotEmpty(t, res.PatchID)
}

func TestProcessRunsCommandsInDocumentOrder(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem)

	content := "/* COMMAND INSERT PATH file1.txt */\ncontent1\n/* COMMAND INSERT END*/\n" +
		"/* COMMAND INSERT PATH file2.txt */\ncontent2\n/* COMMAND INSERT END*/"
	res := p.ProcessContent(context.Background(), content)

	require.True(t, res.Success)
	require.Len(t, res.Operations, 2)
	assert.Equal(t, "file1.txt", res.Operations[0].TargetPath)
	assert.Equal(t, "file2.txt", res.Operations[1].TargetPath)
	assert.Equal(t, map[string]string{"file1.txt": "content1", "file2.txt": "content2"}, mem.Files())

	var writes []string
	for _, call := range mem.Calls() {
		if call == "write file1.txt" || call == "write file2.txt" {
			writes = append(writes, call)
		}
	}
	assert.Equal(t, []string{"write file1.txt", "write file2.txt"}, writes)
}

func TestProcessNestedCommandTouchesNothing(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem)

	res := p.ProcessContent(context.Background(),
		"/* COMMAND INSERT PATH test.txt */\n/* COMMAND INSERT PATH other.txt */\nx\n/* COMMAND INSERT END*/")

	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, 2, res.Error.Line)
	assert.Contains(t, res.Error.Message, "nested command")
	assert.ErrorIs(t, res.Err(), model.ErrNestedCommand)
	assert.Empty(t, mem.Calls())
}

func TestProcessUnclosedCommandReportsStartLine(t *testing.T) {
	p := New(fs.NewMemory())

	res := p.ProcessContent(context.Background(), "intro\n/* COMMAND UPSERT PATH x.txt */\nbody")

	require.False(t, res.Success)
	assert.Equal(t, 2, res.Error.Line)
	assert.ErrorIs(t, res.Err(), model.ErrUnclosedCommand)
}

func TestProcessUpsertCapturesPreviousContent(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemory()
	require.NoError(t, mem.WriteFile(ctx, "x.txt", "old"))
	p := New(mem)

	res := p.ProcessContent(ctx, "/* COMMAND UPSERT PATH x.txt */\nnew\n/* COMMAND UPSERT END*/")

	require.True(t, res.Success)
	op := res.Operations[0]
	assert.Equal(t, model.SnapshotCaptured, op.Snapshot)
	require.NotNil(t, op.PreviousContent)
	assert.Equal(t, "old", *op.PreviousContent)
	assert.Equal(t, "new", mem.Files()["x.txt"])
}

func TestProcessSnapshotFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemory()
	require.NoError(t, mem.WriteFile(ctx, "x.txt", "old"))
	mem.Fail(fs.OpRead, "x.txt", errors.New("permission denied"))
	p := New(mem)

	res := p.ProcessContent(ctx, "/* COMMAND UPSERT PATH x.txt */\nnew\n/* COMMAND UPSERT END*/")

	require.True(t, res.Success)
	assert.Equal(t, model.SnapshotFailed, res.Operations[0].Snapshot)
	assert.Nil(t, res.Operations[0].PreviousContent)
	assert.Equal(t, "new", mem.Files()["x.txt"])
}

func TestProcessDeleteAbsentIsNoOp(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem)

	res := p.ProcessContent(context.Background(), "/* COMMAND DELETE PATH gone.txt */\n/* COMMAND DELETE END*/")

	require.True(t, res.Success)
	require.Len(t, res.Operations, 1)
	assert.True(t, res.Operations[0].NoOp)
	assert.Equal(t, model.SnapshotAbsent, res.Operations[0].Snapshot)
	assert.NotContains(t, mem.Calls(), "delete gone.txt")
}

func TestProcessDeleteSnapshotPolicy(t *testing.T) {
	ctx := context.Background()
	patch := "/* COMMAND DELETE PATH x.txt */\n/* COMMAND DELETE END*/"

	mem := fs.NewMemory()
	require.NoError(t, mem.WriteFile(ctx, "x.txt", "keep me"))
	res := New(mem).ProcessContent(ctx, patch)
	require.True(t, res.Success)
	assert.Equal(t, model.SnapshotSkipped, res.Operations[0].Snapshot)
	assert.Nil(t, res.Operations[0].PreviousContent)
	assert.Empty(t, mem.Files())

	mem = fs.NewMemory()
	require.NoError(t, mem.WriteFile(ctx, "x.txt", "keep me"))
	res = New(mem, WithDeleteSnapshots(true)).ProcessContent(ctx, patch)
	require.True(t, res.Success)
	assert.Equal(t, model.SnapshotCaptured, res.Operations[0].Snapshot)
	require.NotNil(t, res.Operations[0].PreviousContent)
	assert.Equal(t, "keep me", *res.Operations[0].PreviousContent)
	assert.Empty(t, mem.Files())
}

func TestProcessPortFailureAbortsRemainingCommands(t *testing.T) {
	mem := fs.NewMemory()
	denied := errors.New("permission denied")
	mem.Fail(fs.OpWrite, "b.txt", denied)
	p := New(mem)

	content := "/* COMMAND INSERT PATH a.txt */\na\n/* COMMAND INSERT END*/\n" +
		"/* COMMAND INSERT PATH b.txt */\nb\n/* COMMAND INSERT END*/\n" +
		"/* COMMAND INSERT PATH c.txt */\nc\n/* COMMAND INSERT END*/"
	res := p.ProcessContent(context.Background(), content)

	require.False(t, res.Success)
	assert.Equal(t, "permission denied", res.Error.Message)
	assert.Equal(t, 4, res.Error.Line)
	assert.ErrorIs(t, res.Err(), denied)

	var execErr *model.ExecutionError
	require.ErrorAs(t, res.Err(), &execErr)
	assert.Equal(t, "b.txt", execErr.Path)
	assert.Equal(t, model.KindInsert, execErr.Kind)

	// Earlier commands stay applied and later ones never run.
	assert.Equal(t, map[string]string{"a.txt": "a"}, mem.Files())
	require.Len(t, res.Operations, 1)
	assert.Equal(t, "a.txt", res.Operations[0].TargetPath)
}

func TestProcessInlineRevert(t *testing.T) {
	ctx := context.Background()
	patch := "/* COMMAND REVERT */\n2\n/* COMMAND REVERT END*/"

	res := New(fs.NewMemory()).ProcessContent(ctx, patch)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), model.ErrInlineRevertDisabled)
	assert.Equal(t, 1, res.Error.Line)

	rev := &fakeReverter{}
	res = New(fs.NewMemory(), WithReverter(rev)).ProcessContent(ctx, patch)
	require.True(t, res.Success)
	assert.Empty(t, res.Operations)
	assert.Equal(t, []int{2}, rev.steps)

	res = New(fs.NewMemory(), WithReverter(rev)).ProcessContent(ctx, "/* COMMAND REVERT */\n/* COMMAND REVERT END*/")
	require.True(t, res.Success)
	assert.Equal(t, []int{2, 1}, rev.steps)

	res = New(fs.NewMemory(), WithReverter(rev)).ProcessContent(ctx, "/* COMMAND REVERT */\nmany\n/* COMMAND REVERT END*/")
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), model.ErrInvalidSteps)

	rev.err = model.ErrNothingToRevert
	res = New(fs.NewMemory(), WithReverter(rev)).ProcessContent(ctx, patch)
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), model.ErrNothingToRevert)
}

func TestProcessBangSyntax(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem, WithSyntax(parser.SyntaxBang))

	res := p.ProcessContent(context.Background(), "!!INSERT\n/*ST docs/readme.md ST*/\n# Title\n!!")

	require.True(t, res.Success, "unexpected failure: %v", res.Err())
	assert.Equal(t, map[string]string{"docs/readme.md": "# Title"}, mem.Files())
}

func TestProcessMarkdownPatch(t *testing.T) {
	mem := fs.NewMemory()
	p := New(mem)

	md := "Apply this:\n\n```\n/* COMMAND INSERT PATH main.go */\npackage main\n/* COMMAND INSERT END*/\n```\n"
	res := p.Process(context.Background(), model.Patch{ID: "p1", Content: md, Markdown: true})

	require.True(t, res.Success, "unexpected failure: %v", res.Err())
	assert.Equal(t, "p1", res.PatchID)
	assert.Equal(t, 4, res.Operations[0].StartLine)
	assert.Equal(t, "package main", mem.Files()["main.go"])
}

func TestProcessCancelledBeforeExecution(t *testing.T) {
	mem := fs.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(mem).ProcessContent(ctx, "/* COMMAND INSERT PATH a.txt */\na\n/* COMMAND INSERT END*/")

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Empty(t, mem.Calls())
}

func TestProcessSpanStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	mem := fs.NewMemory()
	mem.Fail(fs.OpWrite, "b.txt", errors.New("permission denied"))
	p := New(mem, WithTracerProvider(tp))
	ctx := context.Background()

	p.Process(ctx, model.Patch{ID: "ok", Content: "/* COMMAND INSERT PATH a.txt */\na\n/* COMMAND INSERT END*/"})
	p.Process(ctx, model.Patch{ID: "unclosed", Content: "/* COMMAND INSERT PATH a.txt */\na"})
	p.Process(ctx, model.Patch{ID: "denied", Content: "/* COMMAND INSERT PATH b.txt */\nb\n/* COMMAND INSERT END*/"})

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for _, span := range spans {
		assert.Equal(t, "patcher.Process", span.Name())
	}

	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("patch.commands", 1))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "parse failed", spans[1].Status().Description)
	require.NotEmpty(t, spans[1].Events())
	assert.Equal(t, "exception", spans[1].Events()[0].Name)

	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, "execution failed", spans[2].Status().Description)
	assert.Contains(t, spans[2].Attributes(), attribute.String("patch.id", "denied"))
}
