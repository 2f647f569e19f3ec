package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"termagent/internal/adapter/tui/components"
	"termagent/internal/adapter/tui/theme"
	"termagent/internal/adapter/tui/uxerror"
	"termagent/internal/domain"
	"termagent/internal/usecase"
)

// Engine is the part of the turn processor the TUI drives.
type Engine interface {
	Submit(ctx context.Context, input string) (*usecase.Outcome, error)
	RunClientTool(ctx context.Context, name string, args map[string]any) (*usecase.BatchResult, error)
	Cancel()
}

// CompressFunc summarizes history on demand.
type CompressFunc func(ctx context.Context) (*domain.CompressionInfo, error)

// ChatModelDeps are dependencies injected into the chat model.
type ChatModelDeps struct {
	Engine     Engine
	Policy     *usecase.ApprovalPolicy // optional, enables /mode
	OnClear    func()
	OnCompress CompressFunc // optional, enables /compress
	Logger     *slog.Logger
	// Context bounds every engine call made from the UI.
	Context     context.Context
	BackendName string
	ModelName   string
	// TokenLimit is the context window, used for the usage readout.
	TokenLimit int
}

// ChatModel is the root Bubble Tea model for the chat TUI.
type ChatModel struct {
	deps ChatModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	toolPane  components.ToolOutputModel
	panes     components.Layout
	spinner   spinner.Model
	viewer    components.ResultViewer
	prompt    components.ApprovalPromptModel

	// running is true from submission until the engine call returns.
	running   bool
	state     usecase.State
	approvals []ApprovalRequestMsg
	loopReply chan<- domain.LoopDecision
	// reported holds call IDs already added to the transcript.
	reported map[string]bool

	width    int
	height   int
	quitting bool
	vimMode  bool // input blurred, j/k scroll the transcript
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ChatModelDeps) ChatModel {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.AgentName = deps.BackendName
	sb.ModelName = deps.ModelName
	sb.Hints = defaultHints()
	sb.Limit = deps.TokenLimit
	if deps.Policy != nil {
		sb.Mode = string(deps.Policy.Mode())
	}

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)

	return ChatModel{
		deps:      deps,
		chatView:  chatView,
		input:     components.NewInputArea(slashCommands),
		statusBar: sb,
		toolPane:  components.NewToolOutput(),
		spinner:   s,
		viewer:    components.NewResultViewer(),
		prompt:    components.NewApprovalPrompt(),
		reported:  make(map[string]bool),
	}
}

var slashCommands = []components.SlashCommand{
	{Name: "/help", Usage: "show available commands"},
	{Name: "/clear", Usage: "start a new conversation"},
	{Name: "/compress", Usage: "summarize older history"},
	{Name: "/mode", Usage: "show or set the approval mode", Choices: []string{
		string(usecase.ApprovalDefault), string(usecase.ApprovalAutoEdit), string(usecase.ApprovalYolo),
	}},
	{Name: "/cancel", Usage: "cancel the running turn"},
	{Name: "/quit", Usage: "exit termagent"},
}

// Init starts the spinner.
func (m ChatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.viewer.Resize(m.width, m.height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case StateMsg:
		m.state = msg.State
		m.statusBar.Extra = stateLabel(msg.State)
		return m, nil

	case TextMsg:
		m.chatView.AppendStreaming(msg.Text)
		return m, nil

	case EventMsg:
		m.handleEvent(msg.Event)
		return m, nil

	case ToolUpdateMsg:
		m.handleToolUpdate(msg.Snapshot)
		return m, nil

	case ApprovalRequestMsg:
		m.approvals = append(m.approvals, msg)
		m.resize()
		return m, nil

	case LoopPromptMsg:
		m.loopReply = msg.Reply
		m.resize()
		return m, nil

	case TurnDoneMsg:
		m.finishTurn()
		m.reportOutcome(msg.Outcome, msg.Err)
		return m, nil

	case ClientToolDoneMsg:
		m.finishTurn()
		switch {
		case msg.Err != nil:
			m.addError(msg.Err)
		case msg.Batch != nil && msg.Batch.AllCancelled():
			m.addSystem("Command cancelled.")
		}
		return m, nil

	case CompressDoneMsg:
		m.finishTurn()
		switch {
		case msg.Err != nil:
			m.addError(msg.Err)
		case msg.Info == nil:
			m.addSystem("Nothing to compress yet.")
		default:
			m.addSystem(compressionNote(msg.Info))
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.running {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	if m.panes.ToolsFocused() {
		m.toolPane, cmd = m.toolPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}
	if m.viewer.Open() {
		return m.viewer.View()
	}

	mainContent := m.panes.Join(m.chatView.View(), m.toolPane.View())

	parts := []string{mainContent, components.Divider(m.width), m.bottomView(), m.statusBar.View()}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// bottomView is the pending question, the progress line or the input.
func (m ChatModel) bottomView() string {
	switch {
	case len(m.approvals) > 0:
		return m.prompt.ViewApproval(m.approvals[0].Req, len(m.approvals)-1)
	case m.loopReply != nil:
		return m.prompt.ViewLoop()
	case m.running:
		return lipgloss.NewStyle().Faint(true).Render("> Esc to cancel") +
			"\n" + m.spinner.View() + " " + m.statusBar.Extra
	default:
		return m.input.View()
	}
}

// resize recalculates sizes for all sub-models.
func (m *ChatModel) resize() {
	bottomH := lipgloss.Height(m.bottomView())
	contentH := max(m.height-bottomH-2, 5) // divider and status bar

	m.statusBar.SetWidth(m.width)
	m.prompt.SetWidth(m.width)
	m.panes.Resize(m.width, contentH)
	m.chatView.SetSize(m.panes.ChatWidth(), contentH)
	m.input.SetWidth(m.width)
	if m.panes.ShowTools {
		m.toolPane.SetSize(m.panes.ToolsWidth(), contentH-1)
	}
}

// isSGRMouseSequence detects SGR mouse escape sequences that may leak
// through as key input (e.g. "<65;38;21M") when mouse cell motion is on.
func isSGRMouseSequence(s string) bool {
	if len(s) < 5 || s[0] != '<' {
		return false
	}
	last := s[len(s)-1]
	if last != 'M' && last != 'm' {
		return false
	}
	return digitsAndSemicolons(s[1 : len(s)-1])
}

// isMouseEscapeLeak detects SGR, X11 and URXVT mouse sequences that
// arrived as key input during fast trackpad scrolling.
func isMouseEscapeLeak(s string) bool {
	if isSGRMouseSequence(s) {
		return true
	}
	if len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm') {
		return true
	}
	return len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M' && digitsAndSemicolons(s[1:len(s)-1])
}

func digitsAndSemicolons(s string) bool {
	for _, r := range s {
		if r != ';' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// handleKey processes keyboard input.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	if m.viewer.Open() {
		var cmd tea.Cmd
		m.viewer, cmd = m.viewer.Update(msg)
		return m, cmd
	}

	if len(m.approvals) > 0 {
		return m.handleApprovalKey(msg)
	}
	if m.loopReply != nil {
		return m.handleLoopKey(msg)
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running {
			m.cancelTurn()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.running {
			m.cancelTurn()
			return m, nil
		}
		if m.input.Menu.Visible() {
			break
		}
		if !m.vimMode {
			m.vimMode = true
			m.input.SetEnabled(false)
			m.statusBar.Hints = vimHints()
			return m, nil
		}

	case tea.KeyCtrlT:
		m.panes.ToggleTools()
		m.resize()
		return m, nil

	case tea.KeyTab:
		if m.panes.CycleFocus() {
			if m.panes.ToolsFocused() {
				m.statusBar.Hints = []components.KeyHint{
					{Key: "Tab", Desc: "Switch"},
					{Key: "Enter", Desc: "Full output"},
					{Key: "Ctrl+T", Desc: "Close"},
				}
			} else {
				m.statusBar.Hints = defaultHints()
			}
			return m, nil
		}

	case tea.KeyCtrlL:
		if !m.running {
			return m.handleSlashCommand("/clear", nil)
		}
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd

	case tea.KeyEnter:
		if m.panes.ToolsFocused() {
			m.openLastToolResult()
			return m, nil
		}
	}

	if m.vimMode {
		return m.handleVimKey(msg)
	}
	if m.running {
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleVimKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		m.chatView.ScrollBy(3)
	case "k", "up":
		m.chatView.ScrollBy(-3)
	case "g":
		m.chatView.ScrollTop()
	case "G":
		m.chatView.ScrollBottom()
	case "i", "esc":
		m.vimMode = false
		m.input.SetEnabled(!m.running)
		m.statusBar.Hints = defaultHints()
	}
	return m, nil
}

func (m ChatModel) handleApprovalKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
		m.cancelTurn()
		return m, nil
	}
	outcome, ok := components.ApprovalKeys[strings.ToLower(msg.String())]
	if !ok {
		return m, nil
	}
	head := m.approvals[0]
	m.approvals = m.approvals[1:]
	head.Reply <- outcome
	m.deps.Logger.Debug("approval answered", "tool", head.Req.Call.Name, "call_id", head.Req.Call.CallID, "outcome", outcome)
	m.resize()
	return m, nil
}

func (m ChatModel) handleLoopKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var d domain.LoopDecision
	switch strings.ToLower(msg.String()) {
	case "y":
		d = domain.LoopRetry
	case "n", "esc", "ctrl+c":
		d = domain.LoopHalt
	default:
		return m, nil
	}
	m.loopReply <- d
	m.loopReply = nil
	m.resize()
	return m, nil
}

func vimHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "j/k", Desc: "Scroll"},
		{Key: "g/G", Desc: "Top/bottom"},
		{Key: "i", Desc: "Input"},
	}
}

// handleSubmit processes user input submission.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	if m.running {
		m.addError(domain.ErrTurnActive)
		return m, nil
	}

	m.chatView.AddMessage(components.ChatMessage{Role: components.RoleUser, Content: value})

	if command, ok := components.ParseShellCommand(value); ok {
		m.startRunning(theme.SymbolShell + " " + command)
		return m, clientToolCmd(m.deps.Context, m.deps.Engine, command)
	}

	m.startRunning("Thinking...")
	return m, submitCmd(m.deps.Context, m.deps.Engine, value)
}

func (m *ChatModel) startRunning(status string) {
	m.running = true
	m.vimMode = false
	m.input.SetEnabled(false)
	m.statusBar.Extra = status
	m.resize()
}

func (m *ChatModel) finishTurn() {
	m.running = false
	m.state = usecase.StateIdle
	m.approvals = nil
	m.loopReply = nil
	m.chatView.FinishStreaming()
	m.input.SetEnabled(!m.vimMode)
	m.statusBar.Extra = ""
	m.resize()
}

// cancelTurn aborts the engine call and rejects every pending question.
// The engine reports the cancellation through TurnDoneMsg.
func (m *ChatModel) cancelTurn() {
	m.deps.Engine.Cancel()
	for _, a := range m.approvals {
		a.Reply <- domain.Reject
	}
	m.approvals = nil
	if m.loopReply != nil {
		m.loopReply <- domain.LoopHalt
		m.loopReply = nil
	}
	m.statusBar.Extra = "Cancelling..."
	m.resize()
}

func (m *ChatModel) handleEvent(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventThought:
		m.statusBar.Extra = "Thinking: " + truncate(ev.Text, 60)
	case domain.EventFinished:
		m.chatView.FinishStreaming()
		if ev.Usage != nil && ev.Usage.PromptTokens > 0 {
			m.statusBar.Tokens = ev.Usage.PromptTokens
		}
	case domain.EventModelInfo:
		if ev.Text != "" {
			m.statusBar.ModelName = ev.Text
		}
	case domain.EventCitation:
		m.addSystem("Source: " + ev.Text)
	case domain.EventChatCompressed:
		if ev.Compression != nil {
			m.addSystem(compressionNote(ev.Compression))
		}
	case domain.EventContextWindowWillOverflow:
		if ev.Overflow != nil {
			m.chatView.AddMessage(components.ChatMessage{
				Role: components.RoleSystem,
				Content: fmt.Sprintf("%s This request is about %d tokens, over the %d token window. The model may lose earlier context; consider /compress.",
					theme.SymbolWarning, ev.Overflow.Estimated, ev.Overflow.Remaining),
			})
		}
	case domain.EventLoopDetected:
		m.addSystem(theme.SymbolWarning + " Possible loop detected.")
	case domain.EventError:
		// Shown once the turn returns.
		m.deps.Logger.Debug("stream error", "error", ev.Err)
	}
}

func (m *ChatModel) handleToolUpdate(snap domain.ToolCallSnapshot) {
	m.toolPane.Upsert(snap)
	switch snap.Status {
	case domain.StatusExecuting:
		m.statusBar.Extra = "Running " + snap.Request.Name + "..."
	case domain.StatusAwaitingApproval:
		m.statusBar.Extra = "Waiting for approval"
	}
	if !snap.Status.IsTerminal() || m.reported[snap.Request.CallID] {
		return
	}
	m.reported[snap.Request.CallID] = true

	msg := components.ChatMessage{
		Role:     components.RoleTool,
		ToolName: snap.Request.Name,
		Content:  components.ResultText(snap),
		Failed:   components.Failed(snap),
	}
	if snap.Request.IsClientInitiated && snap.Request.Name == shellToolName {
		msg.Role = components.RoleShell
		msg.ToolName, _ = snap.Request.Args["command"].(string)
	}
	if snap.Status == domain.StatusCancelled {
		msg.Content = "cancelled"
	}
	m.chatView.AddMessage(msg)
}

func (m *ChatModel) reportOutcome(out *usecase.Outcome, err error) {
	if out != nil {
		switch out.Status {
		case usecase.OutcomeCancelled:
			m.addSystem("Request cancelled.")
			return
		case usecase.OutcomeHalted:
			m.addSystem("Stopped after a suspected loop.")
			return
		}
		m.deps.Logger.Debug("turn finished", "prompt_id", out.PromptID, "rounds", out.Rounds,
			"prompt_tokens", out.Usage.PromptTokens, "completion_tokens", out.Usage.CompletionTokens)
	}
	if err != nil && !domain.IsCancellation(err) {
		m.addError(err)
	}
}

func (m *ChatModel) openLastToolResult() {
	idx := m.toolPane.LastCompletedIdx()
	if idx < 0 {
		return
	}
	if snap, ok := m.toolPane.At(idx); ok {
		m.viewer.Resize(m.width, m.height)
		m.viewer.Show(snap)
	}
}

// handleSlashCommand processes a slash command.
func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.addSystem(helpText)
		return m, nil

	case "/quit", "/exit":
		if m.running {
			m.deps.Engine.Cancel()
		}
		m.quitting = true
		return m, tea.Quit

	case "/cancel":
		if m.running {
			m.cancelTurn()
		} else {
			m.addSystem("No active request to cancel.")
		}
		return m, nil
	}

	// The rest touch history and wait for an idle session.
	if m.running {
		m.addError(domain.ErrTurnActive)
		return m, nil
	}

	switch cmd {
	case "/clear":
		m.chatView.Clear()
		m.toolPane.Clear()
		clear(m.reported)
		if m.deps.OnClear != nil {
			m.deps.OnClear()
		}
		m.addSystem(theme.SymbolSuccess + " Started a new conversation.")
		return m, nil

	case "/compress":
		if m.deps.OnCompress == nil {
			m.addSystem("History compression is not available.")
			return m, nil
		}
		m.startRunning("Compressing history...")
		return m, compressCmd(m.deps.Context, m.deps.OnCompress)

	case "/mode":
		return m.handleMode(args)

	default:
		m.addSystem(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		return m, nil
	}
}

func (m ChatModel) handleMode(args []string) (tea.Model, tea.Cmd) {
	if m.deps.Policy == nil {
		m.addSystem("Approval mode is fixed for this session.")
		return m, nil
	}
	if len(args) == 0 {
		m.addSystem(fmt.Sprintf("Approval mode: %s (default, auto_edit, yolo)", m.deps.Policy.Mode()))
		return m, nil
	}
	mode, err := usecase.ParseApprovalMode(args[0])
	if err != nil {
		m.addError(err)
		return m, nil
	}
	m.deps.Policy.SetMode(mode)
	m.statusBar.Mode = string(mode)
	m.addSystem(fmt.Sprintf("%s Approval mode set to %s.", theme.SymbolSuccess, mode))
	return m, nil
}

func (m *ChatModel) addSystem(text string) {
	m.chatView.AddMessage(components.ChatMessage{Role: components.RoleSystem, Content: text})
}

func (m *ChatModel) addError(err error) {
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleError,
		Content: uxerror.Humanize(err).Render(),
	})
}

func compressionNote(info *domain.CompressionInfo) string {
	return fmt.Sprintf("%s History compressed from about %d to %d tokens.", theme.SymbolInfo, info.Before, info.After)
}

func stateLabel(s usecase.State) string {
	switch s {
	case usecase.StateSubmitting:
		return "Thinking..."
	case usecase.StateStreaming:
		return "Responding..."
	case usecase.StateAwaitingTools:
		return "Running tools..."
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + theme.SymbolEllipsis
	}
	return s
}

const helpText = `Available commands:
  /help      - Show this help
  /clear     - Start a new conversation
  /compress  - Summarize older history now
  /mode [m]  - Show or set approval mode (default, auto_edit, yolo)
  /cancel    - Cancel the running turn
  /quit      - Exit termagent
  !command   - Run a shell command yourself; the result is noted in history

Approval prompts:
  y          - Allow once
  a          - Always allow this tool for the session
  n          - Reject

Keybindings:
  Enter      - Send message
  Alt+Enter  - New line
  Esc        - Cancel the running turn, or scroll mode when idle
  Ctrl+T     - Toggle tool pane
  Tab        - Switch pane focus
  Ctrl+L     - Start a new conversation
  Ctrl+C     - Cancel/Quit
  PgUp/PgDn  - Scroll chat`

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Esc", Desc: "Cancel"},
		{Key: "Ctrl+T", Desc: "Tools"},
		{Key: "/help", Desc: "Help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
