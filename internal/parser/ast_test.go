package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/patchdispatch/model"
)

func TestExtractCodeBlocks(t *testing.T) {
	source := []byte("# Patch\n\nSome notes.\n\n```patch\nline one\nline two\n```\n\n```\nplain\n```\n")

	blocks, err := ExtractCodeBlocks(source)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "patch", blocks[0].Lang)
	assert.Equal(t, "line one\nline two", blocks[0].Content)
	assert.Equal(t, 6, blocks[0].StartLine)

	assert.Equal(t, "", blocks[1].Lang)
	assert.Equal(t, "plain", blocks[1].Content)
	assert.Equal(t, 11, blocks[1].StartLine)
}

func TestParseMarkdownKeepsDocumentLines(t *testing.T) {
	source := []byte(`# Add greeting

` + "```patch" + `
/* COMMAND INSERT PATH greet.txt */
hi
/* COMMAND INSERT END*/
` + "```" + `

Another one:

` + "```" + `
/* COMMAND DELETE PATH old.txt */
/* COMMAND DELETE END*/
` + "```" + `
`)

	commands, err := ParseMarkdown(source, Options{})
	require.NoError(t, err)
	require.Len(t, commands, 2)

	assert.Equal(t, model.KindInsert, commands[0].Kind)
	assert.Equal(t, "greet.txt", commands[0].TargetPath)
	assert.Equal(t, "hi", commands[0].Content)
	assert.Equal(t, 4, commands[0].StartLine)
	assert.Equal(t, 6, commands[0].EndLine)

	assert.Equal(t, model.KindDelete, commands[1].Kind)
	assert.Equal(t, "old.txt", commands[1].TargetPath)
	assert.Equal(t, 12, commands[1].StartLine)
}

func TestParseMarkdownLocksGrammarAcrossBlocks(t *testing.T) {
	t.Run("block first", func(t *testing.T) {
		source := []byte("```\n/* COMMAND INSERT PATH a.txt */\na\n/* COMMAND INSERT END*/\n```\n\n" +
			"```\n!!DELETE\n/*ST b.txt ST*/\n!!\n```\n")

		commands, err := ParseMarkdown(source, Options{})
		require.NoError(t, err)
		require.Len(t, commands, 1)
		assert.Equal(t, "a.txt", commands[0].TargetPath)
	})

	t.Run("bang first", func(t *testing.T) {
		source := []byte("```\n!!INSERT\n/*ST a.txt ST*/\na\n!!\n```\n\n" +
			"```\n/* COMMAND DELETE PATH b.txt */\n/* COMMAND DELETE END*/\n```\n")

		commands, err := ParseMarkdown(source, Options{})
		require.NoError(t, err)
		require.Len(t, commands, 1)
		assert.Equal(t, model.KindInsert, commands[0].Kind)
	})

	t.Run("blocks without markers leave auto open", func(t *testing.T) {
		source := []byte("```go\nfmt.Println()\n```\n\n```\n!!DELETE\n/*ST b.txt ST*/\n!!\n```\n")

		commands, err := ParseMarkdown(source, Options{})
		require.NoError(t, err)
		require.Len(t, commands, 1)
		assert.Equal(t, "b.txt", commands[0].TargetPath)
	})
}

func TestParseMarkdownErrorLine(t *testing.T) {
	source := []byte("intro\n\n```\n/* COMMAND INSERT PATH a.txt */\n/* COMMAND INSERT PATH b.txt */\n```\n")

	_, err := ParseMarkdown(source, Options{})

	var perr *model.ParseError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, model.ErrNestedCommand)
	assert.Equal(t, 5, perr.Line)
}

func TestParseMarkdownWithoutFencesFallsBack(t *testing.T) {
	source := []byte("/* COMMAND INSERT PATH a.txt */\nbody\n/* COMMAND INSERT END*/\n")

	commands, err := ParseMarkdown(source, Options{})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "body", commands[0].Content)
}
