package dispatch

import (
	"context"
	"fmt"

	"github.com/sokinpui/patchdispatch/model"
)

// Apply parses content and applies it to the files under root without
// keeping any history. It returns a summary of the touched files; the error
// is set when the patch failed.
func Apply(ctx context.Context, root, content string) (model.Summary, error) {
	fsys, err := NewOSFileSystem(root)
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to open %s: %w", root, err)
	}

	engine, err := New(fsys, Options{})
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer engine.Close()

	res := engine.ProcessContent(ctx, content)
	summary := Summarize(res)
	if !res.Success {
		return summary, res.Err()
	}
	if len(res.Operations) == 0 {
		summary.Message = "No commands found. Nothing to do."
	}
	return summary, nil
}
