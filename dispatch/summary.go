package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sokinpui/patchdispatch/model"
)

// Summarize groups the touched paths of processed patches for display.
func Summarize(results ...model.ProcessResult) model.Summary {
	var s model.Summary
	for _, res := range results {
		for _, op := range res.Operations {
			switch op.Kind {
			case model.KindInsert, model.KindUpsert:
				if op.Snapshot == model.SnapshotAbsent {
					s.Created = appendUnique(s.Created, op.TargetPath)
				} else {
					s.Modified = appendUnique(s.Modified, op.TargetPath)
				}
			case model.KindDelete:
				if op.NoOp {
					s.Unchanged = appendUnique(s.Unchanged, op.TargetPath)
				} else {
					s.Deleted = appendUnique(s.Deleted, op.TargetPath)
				}
			}
		}
		if res.Success || res.Error == nil {
			continue
		}
		s.Failed = append(s.Failed, failedLabel(res))
	}
	// A path created and later modified by the same patch is reported once.
	for _, p := range s.Created {
		s.Modified = slices.DeleteFunc(s.Modified, func(m string) bool { return m == p })
	}
	return s
}

// SummarizeRevert lists the paths restored by a revert and the patches it skipped.
func SummarizeRevert(report model.RevertReport) model.Summary {
	var s model.Summary
	for _, e := range report.Reverted {
		for _, m := range e.Mutations {
			if !m.NoOp {
				s.Reverted = appendUnique(s.Reverted, m.TargetPath)
			}
		}
	}
	for _, e := range report.Skipped {
		s.Skipped = append(s.Skipped, fmt.Sprintf("%s (not revertible)", e.ID))
	}
	switch n := len(report.Reverted); n {
	case 0:
	case 1:
		s.Message = fmt.Sprintf("Reverted patch %s.", report.Reverted[0].ID)
	default:
		s.Message = fmt.Sprintf("Reverted %d patches.", n)
	}
	return s
}

func failedLabel(res model.ProcessResult) string {
	var execErr *model.ExecutionError
	if errors.As(res.Error.Cause, &execErr) && execErr.Path != "" {
		return fmt.Sprintf("%s (line %d: %s)", execErr.Path, res.Error.Line, res.Error.Message)
	}
	if res.Error.Line > 0 {
		return fmt.Sprintf("patch %s (%s)", res.PatchID, res.Error.Message)
	}
	return fmt.Sprintf("patch %s: %s", res.PatchID, res.Error.Message)
}

func appendUnique(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}
