package tool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func searchFixture(t *testing.T) map[string]string {
	t.Helper()
	return map[string]string{
		"main.go":                "package main\n\nfunc main() {\n\tTODO()\n}\n",
		"internal/a/a.go":        "package a\n// TODO: tidy\n",
		"internal/a/a_test.go":   "package a\n",
		"docs/readme.md":         "# TODO list\n",
		"node_modules/x/x.go":    "package x // TODO\n",
		".git/objects/blob.go":   "TODO",
		"internal/a/image.go.gz": "\x00\x01TODO",
	}
}

func TestGlob(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewGlobTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": "**/*.go"})
	assert.False(t, out.IsError, out.Content)
	assert.Equal(t,
		"Found 3 file(s) matching \"**/*.go\":\ninternal/a/a.go\ninternal/a/a_test.go\nmain.go",
		out.Content)
}

func TestGlob_DirPath(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewGlobTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": "*_test.go", "dir_path": "internal/a"})
	assert.Contains(t, out.Content, "internal/a/a_test.go")
	assert.NotContains(t, out.Content, "internal/a/a.go\n")
}

func TestGlob_NoMatchAndInvalid(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewGlobTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": "**/*.rs"})
	assert.False(t, out.IsError)
	assert.Contains(t, out.Content, "No files found")

	out = run(t, tl, map[string]any{"pattern": "[unclosed"})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "invalid glob pattern")
}

func TestSearchFileContent(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewSearchFileContentTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": `TODO`})
	assert.False(t, out.IsError, out.Content)
	assert.Contains(t, out.Content, "main.go:4: TODO()")
	assert.Contains(t, out.Content, "internal/a/a.go:2: // TODO: tidy")
	assert.Contains(t, out.Content, "docs/readme.md:1: # TODO list")
	assert.NotContains(t, out.Content, "node_modules")
	assert.NotContains(t, out.Content, ".git")
	assert.NotContains(t, out.Content, "image.go.gz")
}

func TestSearchFileContent_Include(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewSearchFileContentTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": `TODO`, "include": "*.md"})
	assert.True(t, strings.HasPrefix(out.Content, "Found 1 match(es)"), out.Content)
	assert.Contains(t, out.Content, "docs/readme.md:1:")
	assert.NotContains(t, out.Content, "main.go")

	out = run(t, tl, map[string]any{"pattern": `package`, "include": "internal/**/*_test.go"})
	assert.Contains(t, out.Content, "internal/a/a_test.go:1: package a")
	assert.NotContains(t, out.Content, "internal/a/a.go:")
}

func TestSearchFileContent_BadInput(t *testing.T) {
	sb := newTestSandbox(t, searchFixture(t))
	tl := NewSearchFileContentTool(NewLocalFilesystemBackend(), sb, newTestLogger())

	out := run(t, tl, map[string]any{"pattern": `(`})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "invalid regular expression")

	out = run(t, tl, map[string]any{"pattern": `nothing-matches-this`})
	assert.False(t, out.IsError)
	assert.Contains(t, out.Content, "No matches found")
}

func TestIncludeMatches(t *testing.T) {
	assert.True(t, includeMatches("", "a/b.go"))
	assert.True(t, includeMatches("*.go", "a/b.go"))
	assert.False(t, includeMatches("*.ts", "a/b.go"))
	assert.True(t, includeMatches("a/**/*.go", "a/x/y/b.go"))
	assert.False(t, includeMatches("b/*.go", "a/b.go"))
}
