package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/sokinpui/patchdispatch/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
	PromptColor  = color.New(color.FgMagenta)
)

// Stdout receives listings, Stderr receives status lines. Tests swap them.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(Stderr, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(Stderr, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(Stderr, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(Stderr, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(Stderr, format+"\n", a...)
}

func Path(format string, a ...interface{}) {
	PathColor.Fprintf(Stderr, "  "+format+"\n", a...)
}

func Prompt(format string, a ...interface{}) string {
	return PromptColor.Sprintf(format, a...)
}

// --- Summaries ---

func list(files []string) {
	for _, f := range files {
		fmt.Fprintf(Stdout, "  - %s\n", f)
	}
}

// PrintSummary prints the outcome of an apply, retry or revert.
func PrintSummary(s model.Summary) {
	Header("\n--- Update Summary ---")

	if s.Message != "" {
		Info("%s", s.Message)
	}

	empty := len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0 &&
		len(s.Unchanged) == 0 && len(s.Reverted) == 0 && len(s.Skipped) == 0 && len(s.Failed) == 0
	if empty {
		if s.Message == "" {
			Info("No files were updated.")
		}
		return
	}

	if len(s.Created) > 0 {
		Success("Created %d new file(s):", len(s.Created))
		list(s.Created)
	}
	if len(s.Modified) > 0 {
		Success("Modified %d file(s):", len(s.Modified))
		list(s.Modified)
	}
	if len(s.Deleted) > 0 {
		Success("Deleted %d file(s):", len(s.Deleted))
		list(s.Deleted)
	}
	if len(s.Unchanged) > 0 {
		Info("Already absent, nothing deleted (%d):", len(s.Unchanged))
		list(s.Unchanged)
	}
	if len(s.Reverted) > 0 {
		Success("Reverted %d file(s):", len(s.Reverted))
		list(s.Reverted)
	}
	if len(s.Skipped) > 0 {
		Warning("Skipped %d patch(es):", len(s.Skipped))
		list(s.Skipped)
	}
	if len(s.Failed) > 0 {
		Error("Failed to process %d item(s):", len(s.Failed))
		list(s.Failed)
	}
}

// PrintHistory lists recorded patches, newest first.
func PrintHistory(entries []model.HistoryEntry) {
	Header("\n--- History ---")
	if len(entries) == 0 {
		Info("No patches recorded.")
		return
	}
	for i, e := range entries {
		flag := ""
		if !e.Revertible {
			flag = WarningColor.Sprint(" (not revertible)")
		}
		fmt.Fprintf(Stdout, "%3d  %s  %s%s\n", i+1, e.Timestamp.Local().Format(time.DateTime), e.ID, flag)
		for _, m := range e.Mutations {
			fmt.Fprintf(Stdout, "       %-6s %s%s\n", m.Kind, m.TargetPath, mutationNote(m))
		}
	}
}

func mutationNote(m model.Mutation) string {
	var notes []string
	if m.NoOp {
		notes = append(notes, "no-op")
	}
	if m.Snapshot == model.SnapshotFailed {
		notes = append(notes, "snapshot failed")
	}
	if len(notes) == 0 {
		return ""
	}
	return " [" + strings.Join(notes, ", ") + "]"
}
