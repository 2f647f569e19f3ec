package tool

import (
	"fmt"
	"log/slog"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
	"termagent/internal/security"
)

// RegisterBuiltins creates the sandbox for cfg.SandboxRoot and registers
// every built-in tool on reg. The sandbox is returned for callers that
// need the resolved root.
func RegisterBuiltins(reg *Registry, cfg config.ToolsConfig, logger *slog.Logger) (*security.Sandbox, error) {
	sandbox, err := security.NewSandbox(cfg.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	fsb := NewLocalFilesystemBackend()
	shell := NewLocalShellBackend(cfg.ShellTimeout, cfg.MaxOutputBytes)

	tools := []domain.Tool{
		NewListDirectoryTool(fsb, sandbox, logger),
		NewReadFileTool(fsb, sandbox, logger),
		NewGlobTool(fsb, sandbox, logger),
		NewSearchFileContentTool(fsb, sandbox, logger),
		NewWriteFileTool(fsb, sandbox, logger),
		NewReplaceTool(fsb, sandbox, logger),
		NewShellTool(shell, sandbox, logger),
		NewWebFetchTool(logger),
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	logger.Debug("builtin tools registered", "count", len(tools), "sandbox", sandbox.Root())
	return sandbox, nil
}
