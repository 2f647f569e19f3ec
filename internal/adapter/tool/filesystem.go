package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
	"termagent/internal/security"
)

// Default read_file window.
const defaultReadLimit = 2000

// fileTool carries what every sandboxed file tool needs.
type fileTool struct {
	backend FilesystemBackend
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// targetPath resolves the file_path argument for checkpointing. Returns ""
// when the path is missing or outside the sandbox.
func (f fileTool) targetPath(args map[string]any) string {
	p, _ := args["file_path"].(string)
	if p == "" {
		return ""
	}
	resolved, err := f.sandbox.Resolve(p)
	if err != nil {
		return ""
	}
	return resolved
}

// --- list_directory ---

// ListDirectoryTool lists the entries of one directory.
type ListDirectoryTool struct{ fileTool }

// NewListDirectoryTool creates the list_directory tool.
func NewListDirectoryTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *ListDirectoryTool {
	return &ListDirectoryTool{fileTool{backend, sandbox, logger}}
}

type listDirectoryParams struct {
	DirPath string `json:"dir_path" jsonschema:"description=Directory to list relative to the workspace root"`
}

var listDirectorySchema = SchemaFor[listDirectoryParams]()

func (t *ListDirectoryTool) Name() string           { return "list_directory" }
func (t *ListDirectoryTool) Kind() domain.ToolKind { return domain.KindRead }
func (t *ListDirectoryTool) Description() string {
	return "Lists the names of files and subdirectories directly within a directory. Directories are marked with [DIR]."
}

func (t *ListDirectoryTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: listDirectorySchema}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.list_directory", t.logger, args,
		func(_ context.Context, span trace.Span, p listDirectoryParams) (any, error) {
			resolved, err := t.sandbox.Resolve(p.DirPath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.path", resolved))

			entries, err := t.backend.ReadDir(resolved)
			if err != nil {
				return nil, fmt.Errorf("list directory: %w", err)
			}
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].IsDir() != entries[j].IsDir() {
					return entries[i].IsDir()
				}
				return entries[i].Name() < entries[j].Name()
			})

			var sb strings.Builder
			fmt.Fprintf(&sb, "Directory listing for %s:\n", t.sandbox.Rel(resolved))
			for _, e := range entries {
				if e.IsDir() {
					fmt.Fprintf(&sb, "[DIR] %s\n", e.Name())
				} else {
					fmt.Fprintf(&sb, "%s\n", e.Name())
				}
			}
			if len(entries) == 0 {
				sb.WriteString("(empty)\n")
			}
			return TextOutput(sb.String(), fmt.Sprintf("Listed %d item(s).", len(entries))), nil
		},
	)
}

// --- read_file ---

// ReadFileTool reads a text file, optionally a window of lines.
type ReadFileTool struct{ fileTool }

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *ReadFileTool {
	return &ReadFileTool{fileTool{backend, sandbox, logger}}
}

type readFileParams struct {
	FilePath string `json:"file_path" jsonschema:"description=Path of the file to read"`
	Offset   int    `json:"offset,omitempty" jsonschema:"description=0-based line to start from,minimum=0"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to read,minimum=0"`
}

var readFileSchema = SchemaFor[readFileParams]()

func (t *ReadFileTool) Name() string           { return "read_file" }
func (t *ReadFileTool) Kind() domain.ToolKind { return domain.KindRead }
func (t *ReadFileTool) Description() string {
	return "Reads and returns the content of a text file. Large files are returned in windows of lines; use offset and limit to page."
}

func (t *ReadFileTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: readFileSchema}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.read_file", t.logger, args,
		func(_ context.Context, span trace.Span, p readFileParams) (any, error) {
			if err := ValidateAll(
				RequireField("file_path", p.FilePath),
				ValidateNonNegative("offset", p.Offset),
				ValidateNonNegative("limit", p.Limit),
			); err != nil {
				return ErrOutput("%v", err), nil
			}
			resolved, err := t.sandbox.Resolve(p.FilePath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.path", resolved))

			data, err := t.backend.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			if bytes.IndexByte(data, 0) >= 0 {
				return ErrOutput("cannot display content of binary file: %s", t.sandbox.Rel(resolved)), nil
			}

			limit := p.Limit
			if limit == 0 {
				limit = defaultReadLimit
			}
			lines := strings.SplitAfter(string(data), "\n")
			if n := len(lines); n > 0 && lines[n-1] == "" {
				lines = lines[:n-1]
			}
			total := len(lines)
			start := min(p.Offset, total)
			end := min(start+limit, total)

			content := strings.Join(lines[start:end], "")
			t.logger.Debug("read_file", "path", resolved, "lines", end-start, "total", total)
			if start > 0 || end < total {
				header := fmt.Sprintf("[Showing lines %d-%d of %d. Use offset=%d to read more.]\n", start+1, end, total, end)
				return TextOutput(header+content, fmt.Sprintf("Read lines %d-%d of %d.", start+1, end, total)), nil
			}
			return TextOutput(content, ""), nil
		},
	)
}

// --- write_file ---

// WriteFileTool creates or overwrites a file.
type WriteFileTool struct{ fileTool }

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *WriteFileTool {
	return &WriteFileTool{fileTool{backend, sandbox, logger}}
}

type writeFileParams struct {
	FilePath string `json:"file_path" jsonschema:"description=Path of the file to write"`
	Content  string `json:"content" jsonschema:"description=Full content to write"`
}

var writeFileSchema = SchemaFor[writeFileParams]()

func (t *WriteFileTool) Name() string           { return "write_file" }
func (t *WriteFileTool) Kind() domain.ToolKind { return domain.KindEdit }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, creating it and any parent directories if needed and overwriting it otherwise."
}

func (t *WriteFileTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: writeFileSchema}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.write_file", t.logger, args,
		func(_ context.Context, span trace.Span, p writeFileParams) (any, error) {
			if err := RequireField("file_path", p.FilePath); err != nil {
				return ErrOutput("%v", err), nil
			}
			resolved, err := t.sandbox.Resolve(p.FilePath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.path", resolved))

			_, statErr := t.backend.Stat(resolved)
			existed := statErr == nil
			if err := t.backend.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}

			rel := t.sandbox.Rel(resolved)
			t.logger.Debug("write_file", "path", resolved, "size", len(p.Content), "existed", existed)
			if existed {
				return TextOutput("Successfully overwrote file: "+rel, fmt.Sprintf("Wrote %d bytes to %s.", len(p.Content), rel)), nil
			}
			return TextOutput("Successfully created and wrote to new file: "+rel, fmt.Sprintf("Created %s.", rel)), nil
		},
	)
}

// TargetPath implements domain.PathedTool.
func (t *WriteFileTool) TargetPath(args map[string]any) string { return t.targetPath(args) }

// --- replace ---

// ReplaceTool replaces exact text within a file.
type ReplaceTool struct{ fileTool }

// NewReplaceTool creates the replace tool.
func NewReplaceTool(backend FilesystemBackend, sandbox *security.Sandbox, logger *slog.Logger) *ReplaceTool {
	return &ReplaceTool{fileTool{backend, sandbox, logger}}
}

type replaceParams struct {
	FilePath             string `json:"file_path" jsonschema:"description=Path of the file to modify"`
	OldString            string `json:"old_string" jsonschema:"description=Exact text to replace including whitespace. Empty creates a new file"`
	NewString            string `json:"new_string" jsonschema:"description=Replacement text"`
	ExpectedReplacements int    `json:"expected_replacements,omitempty" jsonschema:"description=Number of occurrences to replace (default 1),minimum=1"`
}

var replaceSchema = SchemaFor[replaceParams]()

func (t *ReplaceTool) Name() string           { return "replace" }
func (t *ReplaceTool) Kind() domain.ToolKind { return domain.KindEdit }
func (t *ReplaceTool) Description() string {
	return "Replaces exact occurrences of old_string with new_string in a file. old_string must match exactly, including whitespace and indentation."
}

func (t *ReplaceTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: replaceSchema}
}

func (t *ReplaceTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.replace", t.logger, args,
		func(_ context.Context, span trace.Span, p replaceParams) (any, error) {
			if err := RequireField("file_path", p.FilePath); err != nil {
				return ErrOutput("%v", err), nil
			}
			resolved, err := t.sandbox.Resolve(p.FilePath)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.path", resolved))
			rel := t.sandbox.Rel(resolved)

			data, err := t.backend.ReadFile(resolved)
			switch {
			case errors.Is(err, fs.ErrNotExist) && p.OldString == "":
				if err := t.backend.WriteFile(resolved, []byte(p.NewString), 0o644); err != nil {
					return nil, fmt.Errorf("create file: %w", err)
				}
				return TextOutput("Created new file: "+rel, ""), nil
			case err != nil:
				return nil, fmt.Errorf("read file: %w", err)
			case p.OldString == "":
				return ErrOutput("old_string is empty but %s already exists", rel), nil
			}

			expected := p.ExpectedReplacements
			if expected <= 0 {
				expected = 1
			}
			content := string(data)
			found := strings.Count(content, p.OldString)
			switch {
			case found == 0:
				return ErrOutput("failed to edit %s: 0 occurrences of old_string found; re-read the file and match whitespace exactly", rel), nil
			case found != expected:
				return ErrOutput("failed to edit %s: expected %d occurrence(s) of old_string but found %d", rel, expected, found), nil
			}

			updated := strings.Replace(content, p.OldString, p.NewString, expected)
			if err := t.backend.WriteFile(resolved, []byte(updated), 0o644); err != nil {
				return nil, fmt.Errorf("write file: %w", err)
			}
			t.logger.Debug("replace", "path", resolved, "occurrences", expected)
			return TextOutput(fmt.Sprintf("Successfully modified file: %s (%d replacement(s)).", rel, expected), ""), nil
		},
	)
}

// TargetPath implements domain.PathedTool.
func (t *ReplaceTool) TargetPath(args map[string]any) string { return t.targetPath(args) }
