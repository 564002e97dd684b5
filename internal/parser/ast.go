package parser

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/sokinpui/patchdispatch/model"
)

// CodeBlock represents a fenced code block extracted from markdown content.
type CodeBlock struct {
	// Lang is the info string of the fence (e.g., "patch").
	Lang string
	// Content is the raw text inside the fence.
	Content string
	// StartLine is the 1-based document line of the first content line.
	StartLine int
}

// ExtractCodeBlocks uses a markdown AST to find all fenced code blocks.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	var blocks []CodeBlock
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		fenced, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		lines := fenced.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		var content bytes.Buffer
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			content.Write(line.Value(source))
		}

		first := lines.At(0)
		blocks = append(blocks, CodeBlock{
			Lang:      string(fenced.Language(source)),
			Content:   string(bytes.TrimSuffix(content.Bytes(), []byte("\n"))),
			StartLine: bytes.Count(source[:first.Start], []byte("\n")) + 1,
		})
		return ast.WalkSkipChildren, nil
	}

	if err := ast.Walk(root, walker); err != nil {
		return nil, err
	}
	return blocks, nil
}

// ParseMarkdown parses the commands embedded in the fenced code blocks of a
// markdown document, keeping document line numbers. A document without
// fenced blocks is parsed as plain patch text.
func ParseMarkdown(source []byte, opts Options) ([]model.Command, error) {
	blocks, err := ExtractCodeBlocks(source)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return Parse(string(source), opts)
	}

	// The grammar chosen by the first block holds for the whole document.
	var commands []model.Command
	syntax := opts.Syntax
	for _, block := range blocks {
		blockOpts := opts
		blockOpts.Syntax = syntax
		blockOpts.LineOffset = opts.LineOffset + block.StartLine - 1
		parsed, resolved, err := parse(block.Content, blockOpts)
		if err != nil {
			return nil, err
		}
		syntax = resolved
		commands = append(commands, parsed...)
	}
	return commands, nil
}
