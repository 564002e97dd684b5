package model

import (
	"fmt"
	"time"
)

// Kind is the mutation a command requests.
type Kind int

const (
	KindInsert Kind = iota + 1
	KindDelete
	KindUpsert
	// KindRevert is the inline pseudo-command that undoes recorded patches.
	KindRevert
)

var kindNames = map[Kind]string{
	KindInsert: "INSERT",
	KindDelete: "DELETE",
	KindUpsert: "UPSERT",
	KindRevert: "REVERT",
}

// ParseKind maps a marker keyword such as "INSERT" to its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown command kind %d", int(k))
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown command kind %q", text)
	}
	*k = parsed
	return nil
}

// Command is one parsed mutation request.
type Command struct {
	Kind       Kind   `json:"kind"`
	TargetPath string `json:"target_path"`
	Content    string `json:"content"`
	// StartLine and EndLine are the 1-based lines of the opening and closing markers.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Snapshot describes what was captured of a target before it was mutated.
type Snapshot int

const (
	// SnapshotUnknown means no capture was attempted yet.
	SnapshotUnknown Snapshot = iota
	// SnapshotAbsent means the target did not exist.
	SnapshotAbsent
	SnapshotCaptured
	// SnapshotFailed means the existence check or the read failed.
	SnapshotFailed
	// SnapshotSkipped means capture was not attempted by policy (DELETE).
	SnapshotSkipped
)

func (s Snapshot) String() string {
	switch s {
	case SnapshotUnknown:
		return "unknown"
	case SnapshotAbsent:
		return "absent"
	case SnapshotCaptured:
		return "captured"
	case SnapshotFailed:
		return "failed"
	case SnapshotSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Snapshot(%d)", int(s))
	}
}

// Mutation is an applied Command enriched with the state needed to undo it.
type Mutation struct {
	Command
	PreviousContent *string  `json:"previous_content,omitempty"`
	Snapshot        Snapshot `json:"snapshot"`
	// NoOp is set for a DELETE whose target did not exist.
	NoOp bool `json:"no_op,omitempty"`
}

// HistoryEntry is the record of one successfully executed patch.
type HistoryEntry struct {
	// Seq is assigned by the ledger and increases with every recorded entry.
	Seq        uint64     `json:"seq"`
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Mutations  []Mutation `json:"mutations"`
	Revertible bool       `json:"revertible"`
}

// Clone returns a deep copy of the entry.
func (e HistoryEntry) Clone() HistoryEntry {
	out := e
	out.Mutations = make([]Mutation, len(e.Mutations))
	for i, m := range e.Mutations {
		if m.PreviousContent != nil {
			prev := *m.PreviousContent
			m.PreviousContent = &prev
		}
		out.Mutations[i] = m
	}
	return out
}

// Patch is one text submission.
type Patch struct {
	ID      string
	Content string
	// Markdown selects the fenced-code-block front end.
	Markdown bool
}

// ErrorInfo describes why a patch failed.
type ErrorInfo struct {
	Message string `json:"message"`
	// Line is 0 when unknown.
	Line    int    `json:"line,omitempty"`
	PatchID string `json:"patch_id"`
	Cause   error  `json:"-"`
}

// ProcessResult is the outcome of processing one patch.
type ProcessResult struct {
	PatchID    string     `json:"patch_id"`
	Success    bool       `json:"success"`
	Operations []Mutation `json:"operations"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// Err returns the failure cause, or nil for a successful result.
func (r ProcessResult) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	if r.Error.Cause != nil {
		return r.Error.Cause
	}
	return fmt.Errorf("%s", r.Error.Message)
}

// RevertReport lists the entries a revert undid and the ones it had to leave.
type RevertReport struct {
	Reverted []HistoryEntry
	Skipped  []HistoryEntry
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created   []string
	Modified  []string
	Deleted   []string
	Unchanged []string
	Reverted  []string
	Skipped   []string
	Failed    []string
	Message   string
}
