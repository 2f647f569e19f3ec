package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// shellToolName is the tool that runs "!cmd" input.
const shellToolName = "run_shell_command"

// submitCmd runs a prompt on a background goroutine. Progress arrives
// through the bridge; the returned message only marks the end.
func submitCmd(ctx context.Context, engine Engine, input string) tea.Cmd {
	return func() tea.Msg {
		out, err := engine.Submit(ctx, input)
		return TurnDoneMsg{Outcome: out, Err: err}
	}
}

// clientToolCmd runs a shell command typed by the user.
func clientToolCmd(ctx context.Context, engine Engine, command string) tea.Cmd {
	return func() tea.Msg {
		batch, err := engine.RunClientTool(ctx, shellToolName, map[string]any{"command": command})
		return ClientToolDoneMsg{Batch: batch, Err: err}
	}
}

func compressCmd(ctx context.Context, fn CompressFunc) tea.Cmd {
	return func() tea.Msg {
		info, err := fn(ctx)
		return CompressDoneMsg{Info: info, Err: err}
	}
}
