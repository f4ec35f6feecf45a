package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/relay-chat/pkg/client"
)

const (
	membersWidth = 24
	chromeLines  = 3 // title, input, help
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	membersStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("241")).
			PaddingLeft(1)

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))
)

// ViewMode selects what the main pane shows.
type ViewMode int

const (
	ChatView ViewMode = iota
	LogView
)

func (m ViewMode) String() string {
	if m == LogView {
		return "log"
	}
	return "chat"
}

// Toggle returns the other mode
func (m ViewMode) Toggle() ViewMode {
	if m == ChatView {
		return LogView
	}
	return ChatView
}

// Chat is the part of *client.ChatClient the shell drives.
type Chat interface {
	Nick() string
	State() client.State
	Clients() map[string]string
	History() []client.Line
	SubmitText(body string) error
	Update(now time.Time) []client.Event
	Disconnect(now time.Time)
}

// Options configure the shell.
type Options struct {
	ServerAddr   string
	TickInterval time.Duration
	MaxLogLines  int
}

// TUI is the Bubble Tea model for the chat client.
type TUI struct {
	chat      Chat
	opts      Options
	mode      ViewMode
	viewport  viewport.Model
	textInput textinput.Model
	logs      []string
	logMutex  sync.Mutex
	ready     bool
	width     int
	height    int
}

// New creates a new TUI instance
func New(chat Chat, opts Options) *TUI {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 16 * time.Millisecond
	}
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 512
	ti.Width = 50
	ti.Focus()

	return &TUI{
		chat:      chat,
		opts:      opts,
		mode:      ChatView,
		textInput: ti,
		logs:      []string{},
	}
}

// Mode returns the current view mode
func (t *TUI) Mode() ViewMode {
	return t.mode
}

// tickMsg drives ChatClient.Update from the Bubble Tea loop.
type tickMsg time.Time

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(now time.Time) tea.Msg {
		return tickMsg(now)
	})
}

// Init initializes the TUI
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(t.opts.TickInterval))
}

// Update handles TUI updates
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			t.chat.Disconnect(time.Now())
			return t, tea.Quit

		case tea.KeyTab:
			t.mode = t.mode.Toggle()
			t.refresh(true)
			return t, nil

		case tea.KeyEnter:
			if t.mode != ChatView {
				return t, nil
			}
			input := t.textInput.Value()
			if strings.TrimSpace(input) == "" {
				return t, nil
			}
			if err := t.chat.SubmitText(input); err != nil {
				t.AddLog(fmt.Sprintf("[tui] message not sent (err=%v)", err))
			}
			t.textInput.SetValue("")
			return t, nil
		}

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height
		if !t.ready {
			t.viewport = viewport.New(paneWidth(t.mode, msg.Width), msg.Height-chromeLines)
			t.ready = true
		} else {
			t.viewport.Width = paneWidth(t.mode, msg.Width)
			t.viewport.Height = msg.Height - chromeLines
		}
		t.textInput.Width = msg.Width - 4
		t.refresh(true)

	case tickMsg:
		// status lines (reconnects) change history without producing events
		t.chat.Update(time.Time(msg))
		if t.mode == ChatView {
			t.refresh(false)
		}
		return t, tick(t.opts.TickInterval)

	case LogMsg:
		t.AddLog(string(msg))
		if t.mode == LogView {
			t.refresh(false)
		}
		return t, nil
	}

	if t.ready {
		t.viewport, cmd = t.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	if t.mode == ChatView {
		t.textInput, cmd = t.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return t, tea.Batch(cmds...)
}

// refresh reloads the viewport for the current mode. Scrolling is kept unless the
// view was already at the bottom or jump is set.
func (t *TUI) refresh(jump bool) {
	if !t.ready {
		return
	}
	wasAtBottom := t.viewport.AtBottom()
	t.viewport.Width = paneWidth(t.mode, t.width)
	t.viewport.SetContent(t.renderPane(t.mode))
	if jump || wasAtBottom {
		t.viewport.GotoBottom()
	}
}

// View renders the TUI
func (t *TUI) View() string {
	if !t.ready {
		return "Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s\n%s",
		t.renderTitle(t.mode),
		t.renderBody(t.mode),
		t.renderInput(t.mode),
		renderHelp(t.mode),
	)
}

func (t *TUI) renderTitle(mode ViewMode) string {
	return titleStyle.Render(fmt.Sprintf("relay-chat - %s@%s [%s] (%s)",
		t.chat.Nick(), t.opts.ServerAddr, t.chat.State(), mode))
}

func (t *TUI) renderBody(mode ViewMode) string {
	if mode == LogView {
		return t.viewport.View()
	}
	members := membersStyle.
		Width(membersWidth - 2).
		Height(t.viewport.Height).
		Render(renderMembers(t.chat.Clients(), t.chat.Nick()))
	return lipgloss.JoinHorizontal(lipgloss.Top, t.viewport.View(), members)
}

func (t *TUI) renderInput(mode ViewMode) string {
	if mode == LogView {
		return ""
	}
	return inputStyle.Render("> " + t.textInput.View())
}

func (t *TUI) renderPane(mode ViewMode) string {
	if mode == LogView {
		return t.renderLogs()
	}
	return renderHistory(t.chat.History())
}

func renderHelp(mode ViewMode) string {
	if mode == LogView {
		return helpStyle.Render("Tab: chat • Ctrl+C/Esc: quit")
	}
	return helpStyle.Render("Enter: send • Tab: logs • Ctrl+C/Esc: quit")
}

func renderHistory(lines []client.Line) string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return strings.Join(out, "\n")
}

// renderMembers lists nicks alphabetically, marking our own.
func renderMembers(clients map[string]string, self string) string {
	nicks := make([]string, 0, len(clients))
	for _, nick := range clients {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("online (%d)\n", len(nicks)))
	for _, nick := range nicks {
		if nick == self {
			b.WriteString(selfStyle.Render(nick))
		} else {
			b.WriteString(nick)
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func paneWidth(mode ViewMode, width int) int {
	if mode == LogView || width <= membersWidth {
		return width
	}
	return width - membersWidth
}

// AddLog adds a log message to the log pane
func (t *TUI) AddLog(msg string) {
	t.logMutex.Lock()
	defer t.logMutex.Unlock()
	t.logs = append(t.logs, msg)

	if t.opts.MaxLogLines > 0 && len(t.logs) > t.opts.MaxLogLines {
		t.logs = t.logs[len(t.logs)-t.opts.MaxLogLines:]
	}
}

func (t *TUI) renderLogs() string {
	t.logMutex.Lock()
	defer t.logMutex.Unlock()
	return strings.Join(t.logs, "\n")
}

// LogMsg carries one log line into the model
type LogMsg string

// Writer is an io.Writer that sends output to the TUI
type Writer struct {
	program *tea.Program
}

// NewWriter creates a new TUI Writer
func NewWriter(program *tea.Program) *Writer {
	return &Writer{program: program}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if line != "" {
			w.program.Send(LogMsg(line))
		}
	}
	return len(p), nil
}

// Start creates a new TUI program, returning the program and a writer for logging
func Start(chat Chat, opts Options) (*tea.Program, io.Writer) {
	t := New(chat, opts)
	p := tea.NewProgram(t, tea.WithAltScreen())
	return p, NewWriter(p)
}
