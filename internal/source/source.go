// Package source reads patch text from a file, piped stdin or the clipboard.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"
)

// Origin tells where patch text came from.
type Origin string

const (
	OriginFile      Origin = "file"
	OriginStdin     Origin = "stdin"
	OriginClipboard Origin = "clipboard"
)

// Input is patch text with its provenance.
type Input struct {
	Content string
	Origin  Origin
	// Path is set for OriginFile.
	Path string
	// Markdown is true for files with a .md extension.
	Markdown bool
}

// Empty reports whether the input carries no text.
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Content) == ""
}

// Provider determines and retrieves the source content.
type Provider struct {
	stdin     *os.File
	clipboard func() (string, error)
}

// New creates a Provider reading the process stdin and the system clipboard.
func New() *Provider {
	return &Provider{stdin: os.Stdin, clipboard: clipboard.ReadAll}
}

// Get reads path when given, otherwise stdin when it is piped, otherwise
// the clipboard.
func (p *Provider) Get(path string) (Input, error) {
	if path != "" && path != "-" {
		return ReadFile(path)
	}

	if path == "-" || Piped(p.stdin) {
		data, err := io.ReadAll(p.stdin)
		if err != nil {
			return Input{}, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return Input{Content: string(data), Origin: OriginStdin}, nil
	}

	content, err := p.clipboard()
	if err != nil {
		return Input{}, fmt.Errorf("failed to read from clipboard: %w", err)
	}
	return Input{Content: content, Origin: OriginClipboard}, nil
}

// ReadFile reads a patch file.
func ReadFile(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("failed to read patch file: %w", err)
	}
	return Input{
		Content:  string(data),
		Origin:   OriginFile,
		Path:     path,
		Markdown: IsMarkdown(path),
	}, nil
}

// IsMarkdown reports whether path names a markdown document.
func IsMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// Piped reports whether f is not a terminal.
func Piped(f *os.File) bool {
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// Interactive reports whether f is a terminal.
func Interactive(f *os.File) bool {
	return !Piped(f)
}
