package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"termagent/internal/domain"
	"termagent/internal/infra/tracer"
	"termagent/internal/security"
)

// ShellTool runs a shell command inside the sandbox root.
type ShellTool struct {
	backend ShellBackend
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewShellTool creates the run_shell_command tool.
func NewShellTool(backend ShellBackend, sandbox *security.Sandbox, logger *slog.Logger) *ShellTool {
	return &ShellTool{backend: backend, sandbox: sandbox, logger: logger}
}

type shellParams struct {
	Command     string `json:"command" jsonschema:"description=Exact bash command to execute"`
	Description string `json:"description,omitempty" jsonschema:"description=Short explanation of what the command does"`
	Directory   string `json:"directory,omitempty" jsonschema:"description=Directory to run in relative to the workspace root"`
}

var shellSchema = SchemaFor[shellParams]()

func (t *ShellTool) Name() string           { return "run_shell_command" }
func (t *ShellTool) Kind() domain.ToolKind { return domain.KindExecute }
func (t *ShellTool) Description() string {
	return "Executes a command with bash -c in the workspace and returns stdout, stderr and the exit code. Commands are subject to a timeout."
}

func (t *ShellTool) Declaration() domain.ToolDeclaration {
	return domain.ToolDeclaration{Name: t.Name(), Description: t.Description(), Parameters: shellSchema}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (*domain.ToolOutput, error) {
	return Execute(ctx, "tool.run_shell_command", t.logger, args,
		func(ctx context.Context, span trace.Span, p shellParams) (any, error) {
			if err := RequireField("command", strings.TrimSpace(p.Command)); err != nil {
				return ErrOutput("%v", err), nil
			}
			workDir, err := t.sandbox.Resolve(p.Directory)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.StringAttr("tool.command", p.Command))

			res, err := t.backend.Execute(ctx, p.Command, workDir)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("tool.exit_code", res.ExitCode))
			t.logger.Debug("shell command completed", "command", p.Command, "exit_code", res.ExitCode)

			content := formatShellResult(p.Command, t.sandbox.Rel(workDir), res)
			display := strings.TrimRight(res.Stdout+res.Stderr, "\n")
			if res.ExitCode != 0 {
				display += fmt.Sprintf("\n(exit code %d)", res.ExitCode)
			}
			return TextOutput(content, display), nil
		},
	)
}

func formatShellResult(command, dir string, res *ShellResult) string {
	orNone := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "(empty)"
		}
		return strings.TrimRight(s, "\n")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command: %s\n", command)
	fmt.Fprintf(&sb, "Directory: %s\n", dir)
	fmt.Fprintf(&sb, "Stdout: %s\n", orNone(res.Stdout))
	fmt.Fprintf(&sb, "Stderr: %s\n", orNone(res.Stderr))
	fmt.Fprintf(&sb, "Exit Code: %d", res.ExitCode)
	if res.Truncated {
		sb.WriteString("\n[Output truncated.]")
	}
	return sb.String()
}
