package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
	"termagent/internal/security"
)

// Search limits.
const (
	maxGlobResults   = 500
	maxSearchMatches = 200
	maxSearchFileLen = 2 * 1024 * 1024
	maxMatchLineLen  = 300
)

// skippedDirs are never descended into by glob or search.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
}

// --- glob ---

// GlobTool finds files by doublestar pattern.
type GlobTool struct{ fileTool }

// NewGlobTool creates the glob tool.
func NewGlobTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *GlobTool {
	return &GlobTool{fileTool{backend, sandbox, logger}}
}

type globParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Glob pattern such as **/*.go or src/**/*.ts"`
	DirPath string `json:"dir_path,omitempty" jsonschema:"description=Directory to search from (default: workspace root)"`
}

var globSchema = SchemaFor[globParams]()

func (t *GlobTool) Name() string           { return "glob" }
func (t *GlobTool) Kind() domain.ToolKind { return domain.KindSearch }
func (t *GlobTool) Description() string {
	return "Finds files whose paths match a glob pattern (supports ** for any depth). Returns paths relative to the workspace root, sorted."
}

func (t *GlobTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: globSchema}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.glob", t.logger, args,
		func(ctx context.Context, span trace.Span, p globParams) (any, error) {
			if err := RequireField("pattern", p.Pattern); err != nil {
				return ErrOutput("%v", err), nil
			}
			if !doublestar.ValidatePattern(p.Pattern) {
				return ErrOutput("invalid glob pattern %q", p.Pattern), nil
			}
			dir, err := t.sandbox.Resolve(p.DirPath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.pattern", p.Pattern))

			var matches []string
			err = doublestar.GlobWalk(t.backend.FS(dir), strings.TrimPrefix(p.Pattern, "./"),
				func(rel string, d fs.DirEntry) error {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if d.IsDir() {
						return nil
					}
					for _, seg := range strings.Split(rel, "/") {
						if skippedDirs[seg] {
							return nil
						}
					}
					matches = append(matches, t.sandbox.Rel(filepath.Join(dir, filepath.FromSlash(rel))))
					return nil
				})
			if err != nil {
				return nil, fmt.Errorf("glob: %w", err)
			}

			sort.Strings(matches)
			if len(matches) == 0 {
				return TextOutput(fmt.Sprintf("No files found matching %q.", p.Pattern), "No files found."), nil
			}
			truncated := len(matches) > maxGlobResults
			if truncated {
				matches = matches[:maxGlobResults]
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d file(s) matching %q:\n", len(matches), p.Pattern)
			sb.WriteString(strings.Join(matches, "\n"))
			if truncated {
				fmt.Fprintf(&sb, "\n[Results truncated to %d entries.]", maxGlobResults)
			}
			return TextOutput(sb.String(), fmt.Sprintf("Found %d matching file(s).", len(matches))), nil
		},
	)
}

// --- search_file_content ---

// SearchFileContentTool greps files for a regular expression.
type SearchFileContentTool struct{ fileTool }

// NewSearchFileContentTool creates the search_file_content tool.
func NewSearchFileContentTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *SearchFileContentTool {
	return &SearchFileContentTool{fileTool{backend, sandbox, logger}}
}

type searchParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Regular expression (RE2 syntax) to search for"`
	DirPath string `json:"dir_path,omitempty" jsonschema:"description=Directory to search in (default: workspace root)"`
	Include string `json:"include,omitempty" jsonschema:"description=Glob filter for file paths such as *.go or src/**/*.ts"`
}

var searchSchema = SchemaFor[searchParams]()

func (t *SearchFileContentTool) Name() string           { return "search_file_content" }
func (t *SearchFileContentTool) Kind() domain.ToolKind { return domain.KindSearch }
func (t *SearchFileContentTool) Description() string {
	return "Searches file contents for a regular expression and returns matching lines as path:line: text."
}

func (t *SearchFileContentTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: searchSchema}
}

func (t *SearchFileContentTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.search_file_content", t.logger, args,
		func(ctx context.Context, span trace.Span, p searchParams) (any, error) {
			if err := RequireField("pattern", p.Pattern); err != nil {
				return ErrOutput("%v", err), nil
			}
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return ErrOutput("invalid regular expression: %v", err), nil
			}
			if p.Include != "" && !doublestar.ValidatePattern(p.Include) {
				return ErrOutput("invalid include pattern %q", p.Include), nil
			}
			dir, err := t.sandbox.Resolve(p.DirPath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.pattern", p.Pattern))

			fsys := t.backend.FS(dir)
			var matches []string
			truncated := false
			err = fs.WalkDir(fsys, ".", func(rel string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if d.IsDir() {
					if rel != "." && skippedDirs[d.Name()] {
						return fs.SkipDir
					}
					return nil
				}
				if !includeMatches(p.Include, rel) {
					return nil
				}
				found, stop := grepFile(fsys, rel, re, maxSearchMatches-len(matches))
				for _, m := range found {
					matches = append(matches, t.sandbox.Rel(filepath.Join(dir, filepath.FromSlash(rel)))+":"+m)
				}
				if stop {
					truncated = true
					return fs.SkipAll
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}

			if len(matches) == 0 {
				return TextOutput(fmt.Sprintf("No matches found for pattern %q.", p.Pattern), "No matches found."), nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d match(es) for pattern %q:\n", len(matches), p.Pattern)
			sb.WriteString(strings.Join(matches, "\n"))
			if truncated {
				fmt.Fprintf(&sb, "\n[Results truncated to %d matches.]", maxSearchMatches)
			}
			return TextOutput(sb.String(), fmt.Sprintf("Found %d match(es).", len(matches))), nil
		},
	)
}

// includeMatches applies the include filter to the full relative path, and
// to the base name for patterns without a slash.
func includeMatches(include, rel string) bool {
	if include == "" {
		return true
	}
	if ok, _ := doublestar.Match(include, rel); ok {
		return true
	}
	if !strings.Contains(include, "/") {
		ok, _ := doublestar.Match(include, path.Base(rel))
		return ok
	}
	return false
}

// grepFile returns "line: text" entries for up to budget matches in one
// file, and whether the budget ran out. Binary and oversized files are
// skipped.
func grepFile(fsys fs.FS, rel string, re *regexp.Regexp, budget int) ([]string, bool) {
	data, err := fs.ReadFile(fsys, rel)
	if err != nil || len(data) > maxSearchFileLen || bytes.IndexByte(data, 0) >= 0 {
		return nil, false
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxSearchFileLen)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(out) == budget {
			return out, true
		}
		if len(line) > maxMatchLineLen {
			line = line[:maxMatchLineLen] + "..."
		}
		out = append(out, fmt.Sprintf("%d: %s", n, strings.TrimSpace(line)))
	}
	return out, false
}
