package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/patchdispatch/internal/ui"
	"github.com/sokinpui/patchdispatch/model"
)

func captureUI(t *testing.T) *bytes.Buffer {
	t.Helper()
	out := &bytes.Buffer{}
	oldOut, oldErr, oldNoColor := ui.Stdout, ui.Stderr, color.NoColor
	ui.Stdout, ui.Stderr, color.NoColor = out, out, true
	t.Cleanup(func() { ui.Stdout, ui.Stderr, color.NoColor = oldOut, oldErr, oldNoColor })
	return out
}

func run(t *testing.T, root string, args ...string) error {
	t.Helper()
	args = append(args, "--root", root, "--no-animation", "--log-level", "error")
	return Run(context.Background(), args)
}

func TestApplyHistoryRevert(t *testing.T) {
	t.Chdir(t.TempDir())
	out := captureUI(t)
	root := t.TempDir()
	patch := filepath.Join(t.TempDir(), "p.patch.txt")
	require.NoError(t, os.WriteFile(patch,
		[]byte("/* COMMAND INSERT PATH a.txt */\nhi\n/* COMMAND INSERT END*/"), 0644))

	require.NoError(t, run(t, root, "apply", "--id", "first", patch))
	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.Contains(t, out.String(), "a.txt")

	out.Reset()
	require.NoError(t, run(t, root, "history"))
	assert.Contains(t, out.String(), "first")

	require.NoError(t, run(t, root, "revert", "--yes"))
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
}

func TestApplyFailureIsReported(t *testing.T) {
	t.Chdir(t.TempDir())
	captureUI(t)
	root := t.TempDir()
	patch := filepath.Join(t.TempDir(), "bad.patch.txt")
	require.NoError(t, os.WriteFile(patch, []byte("/* COMMAND INSERT PATH a.txt */\nunclosed"), 0644))

	err := run(t, root, "apply", patch)
	var reported *ReportedError
	require.ErrorAs(t, err, &reported)
	assert.ErrorIs(t, err, model.ErrUnclosedCommand)
}

func TestRevertRejectsBadSteps(t *testing.T) {
	t.Chdir(t.TempDir())
	captureUI(t)

	err := run(t, t.TempDir(), "revert", "--yes", "zero")
	assert.ErrorIs(t, err, model.ErrInvalidSteps)
}

func TestInvalidFlagValue(t *testing.T) {
	t.Chdir(t.TempDir())
	captureUI(t)

	err := run(t, t.TempDir(), "history", "--syntax", "nope")
	assert.ErrorContains(t, err, "invalid config")
}
