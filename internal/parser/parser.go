package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sokinpui/patchdispatch/model"
)

// Syntax selects the marker grammar.
type Syntax int

const (
	// SyntaxAuto picks the grammar of the first start marker found.
	SyntaxAuto Syntax = iota
	// SyntaxBlock is the canonical form:
	//
	//	/* COMMAND INSERT PATH a/b.txt */
	//	...
	//	/* COMMAND INSERT END*/
	SyntaxBlock
	// SyntaxBang is the legacy form:
	//
	//	!!INSERT
	//	/*ST a/b.txt ST*/
	//	...
	//	!!
	SyntaxBang
)

// ParseSyntax maps a configuration value to a Syntax.
func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return SyntaxAuto, nil
	case "block":
		return SyntaxBlock, nil
	case "bang":
		return SyntaxBang, nil
	default:
		return SyntaxAuto, fmt.Errorf("unknown patch syntax %q", s)
	}
}

func (s Syntax) String() string {
	switch s {
	case SyntaxBlock:
		return "block"
	case SyntaxBang:
		return "bang"
	default:
		return "auto"
	}
}

// Options tune a single parse.
type Options struct {
	Syntax Syntax
	// PatchID is attached to every ParseError.
	PatchID string
	// LineOffset is added to every reported line. Used for embedded blocks.
	LineOffset int
}

var (
	blockStartRegex = regexp.MustCompile(`^\s*/\*\s*COMMAND\s+(\w+)(?:\s+PATH\s+(\S+))?\s*\*/\s*$`)
	blockEndRegex   = regexp.MustCompile(`^\s*/\*\s*COMMAND\s+(\w+)\s+END\s*\*/\s*$`)
	bangStartRegex  = regexp.MustCompile(`^!!([A-Za-z]+)\s*$`)
	bangEndRegex    = regexp.MustCompile(`^([A-Z]+)?!!\s*$`)
)

const (
	metaOpen  = "/*ST"
	metaClose = "ST*/"
)

// openCommand is the command being accumulated while inside a block.
type openCommand struct {
	kind      model.Kind
	path      string
	startLine int
	body      []string

	// bang metadata
	meta     []string
	inMeta   bool
	metaSeen bool
}

type lineParser struct {
	opts     Options
	syntax   Syntax
	open     *openCommand
	commands []model.Command
}

// Parse tokenizes patch text into commands in document order.
// On failure no commands are returned.
func Parse(content string, opts Options) ([]model.Command, error) {
	commands, _, err := parse(content, opts)
	return commands, err
}

// parse also returns the grammar in effect at the end, which stays
// SyntaxAuto when no start marker was seen.
func parse(content string, opts Options) ([]model.Command, Syntax, error) {
	p := &lineParser{opts: opts, syntax: opts.Syntax}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if err := p.feed(line, i+1+opts.LineOffset); err != nil {
			return nil, p.syntax, err
		}
	}

	if p.open != nil {
		return nil, p.syntax, p.errorf(model.ErrUnclosedCommand, p.open.startLine, "%s", p.open.kind)
	}
	return p.commands, p.syntax, nil
}

func (p *lineParser) feed(line string, lineNo int) error {
	if kindName, path, ok := p.matchStart(line); ok {
		if p.open != nil {
			return p.errorf(model.ErrNestedCommand, lineNo, "%s opened at line %d is still open", p.open.kind, p.open.startLine)
		}
		return p.begin(kindName, path, lineNo)
	}

	if kindName, ok := p.matchEnd(line); ok {
		if p.open == nil {
			return p.errorf(model.ErrUnexpectedEnd, lineNo, "")
		}
		return p.finish(kindName, lineNo)
	}

	if p.open != nil {
		p.appendBody(line)
	}
	return nil
}

// matchStart reports a start marker of the active grammar, resolving the
// grammar on first sight when in auto mode.
func (p *lineParser) matchStart(line string) (kind, path string, ok bool) {
	if p.syntax == SyntaxAuto || p.syntax == SyntaxBlock {
		if m := blockStartRegex.FindStringSubmatch(line); m != nil {
			p.syntax = SyntaxBlock
			return m[1], m[2], true
		}
	}
	if p.syntax == SyntaxAuto || p.syntax == SyntaxBang {
		if m := bangStartRegex.FindStringSubmatch(line); m != nil {
			p.syntax = SyntaxBang
			return m[1], "", true
		}
	}
	return "", "", false
}

func (p *lineParser) matchEnd(line string) (kind string, ok bool) {
	switch p.syntax {
	case SyntaxBlock:
		if m := blockEndRegex.FindStringSubmatch(line); m != nil {
			return m[1], true
		}
	case SyntaxBang:
		if p.open != nil && p.open.inMeta {
			return "", false
		}
		if m := bangEndRegex.FindStringSubmatch(line); m != nil {
			// Shouted body text such as "NOTE!!" is not a marker.
			if _, known := model.ParseKind(m[1]); m[1] != "" && !known {
				return "", false
			}
			return m[1], true
		}
	}
	return "", false
}

func (p *lineParser) begin(kindName, path string, lineNo int) error {
	kind, ok := model.ParseKind(kindName)
	if !ok {
		return p.errorf(model.ErrInvalidCommand, lineNo, "%s", kindName)
	}
	if p.syntax == SyntaxBlock && path == "" && kind != model.KindRevert {
		return p.errorf(model.ErrMissingTargetMetadata, lineNo, "%s has no PATH", kind)
	}
	p.open = &openCommand{kind: kind, path: path, startLine: lineNo}
	return nil
}

func (p *lineParser) finish(kindName string, lineNo int) error {
	open := p.open
	if kindName != "" && kindName != open.kind.String() {
		return p.errorf(model.ErrCommandMismatch, lineNo, "started with %s, ended with %s", open.kind, kindName)
	}

	if p.syntax == SyntaxBang {
		open.path = strings.Join(open.meta, "")
		if open.path == "" && open.kind != model.KindRevert {
			return p.errorf(model.ErrMissingTargetMetadata, open.startLine, "%s has no %s block", open.kind, metaOpen)
		}
	}

	p.commands = append(p.commands, model.Command{
		Kind:       open.kind,
		TargetPath: open.path,
		Content:    strings.Join(open.body, "\n"),
		StartLine:  open.startLine,
		EndLine:    lineNo,
	})
	p.open = nil
	return nil
}

// appendBody adds a body line, diverting the first bang metadata block.
func (p *lineParser) appendBody(line string) {
	open := p.open
	if p.syntax != SyntaxBang {
		open.body = append(open.body, line)
		return
	}

	trimmed := strings.TrimSpace(line)
	switch {
	case open.inMeta:
		if strings.HasSuffix(trimmed, metaClose) {
			trimmed = strings.TrimSuffix(trimmed, metaClose)
			open.inMeta = false
		}
		open.addMeta(trimmed)
	case !open.metaSeen && strings.HasPrefix(trimmed, metaOpen):
		open.metaSeen = true
		rest := strings.TrimPrefix(trimmed, metaOpen)
		if strings.HasSuffix(rest, metaClose) {
			rest = strings.TrimSuffix(rest, metaClose)
		} else {
			open.inMeta = true
		}
		open.addMeta(rest)
	default:
		open.body = append(open.body, line)
	}
}

func (c *openCommand) addMeta(text string) {
	if text = strings.TrimSpace(text); text != "" {
		c.meta = append(c.meta, text)
	}
}

func (p *lineParser) errorf(sentinel error, line int, format string, args ...any) error {
	return &model.ParseError{
		Err:     sentinel,
		Line:    line,
		PatchID: p.opts.PatchID,
		Detail:  fmt.Sprintf(format, args...),
	}
}
