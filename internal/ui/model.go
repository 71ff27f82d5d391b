package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bjarneo/peerchat/internal/filetransfer"
	"github.com/bjarneo/peerchat/internal/protocol"
	"github.com/bjarneo/peerchat/internal/session"
)

// Chat is the session surface the UI drives.
type Chat interface {
	Send(ctx context.Context, text string) error
	AddAttachment(h filetransfer.FileHandle) (session.Attachment, error)
	ReplaceAttachment(i int, h filetransfer.FileHandle) (session.Attachment, error)
	RemoveAttachment(i int) (session.Attachment, error)
	Pending() []session.Attachment
	Clear()
}

// Options configures a Model.
type Options struct {
	Context         context.Context
	Chat            Chat
	Nickname        string
	PeerNickname    string
	Fingerprint     string
	PeerFingerprint string
	// OpenFile resolves /attach and /replace paths; defaults to a local file.
	OpenFile func(path string) (filetransfer.FileHandle, error)
}

// notice is a status line shown after the first `after` log messages.
type notice struct {
	after int
	entry entry
}

// Model represents the Bubble Tea UI model.
type Model struct {
	ctx      context.Context
	chat     Chat
	openFile func(string) (filetransfer.FileHandle, error)

	nickname        string
	peerNickname    string
	fingerprint     string
	peerFingerprint string

	chatArea ChatAreaModel
	Progress progress.Model
	log      []protocol.Message
	notices  []notice
	pending  int

	Status       string
	IsConnected  bool
	IsSending    bool
	Transferring string
	ShowHelp     bool
}

func NewModel(opts Options) *Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	openFile := opts.OpenFile
	if openFile == nil {
		openFile = func(path string) (filetransfer.FileHandle, error) {
			return filetransfer.OpenLocal(path)
		}
	}

	m := &Model{
		ctx:             ctx,
		chat:            opts.Chat,
		openFile:        openFile,
		nickname:        opts.Nickname,
		peerNickname:    opts.PeerNickname,
		fingerprint:     opts.Fingerprint,
		peerFingerprint: opts.PeerFingerprint,
		chatArea:        NewChatAreaModel(80, 20, opts.Nickname),
		Progress:        progress.New(progress.WithDefaultGradient()),
		Status:          "CONNECTED",
		IsConnected:     true,
	}
	m.system(fmt.Sprintf("Connected to %s. Type /help for commands.", m.peerNickname))
	return m
}

func (m *Model) Init() tea.Cmd {
	return m.chatArea.Init()
}

func (m *Model) system(text string) {
	m.notices = append(m.notices, notice{after: len(m.log), entry: entry{At: time.Now(), Content: text, Kind: entrySystem}})
}

func (m *Model) alert(err error) {
	m.notices = append(m.notices, notice{after: len(m.log), entry: entry{At: time.Now(), Content: err.Error(), Kind: entryError}})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if m.Transferring != "" {
		newProgress, cmd := m.Progress.Update(msg)
		if p, ok := newProgress.(progress.Model); ok {
			m.Progress = p
		}
		cmds = append(cmds, cmd)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.ShowHelp {
			if msg.Type == tea.KeyEsc {
				m.ShowHelp = false
			}
			return m, tea.Batch(cmds...)
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}

	case SubmitInputMsg:
		cmds = append(cmds, m.submit(msg.Content))

	case tea.WindowSizeMsg:
		StatusStyle = StatusStyle.Width(msg.Width)
		m.Progress.Width = max(msg.Width-4, 10)
		height := msg.Height - lipgloss.Height(m.headerView()) - 1
		m.chatArea.SetDimensions(msg.Width, max(height, 0))

	case LogUpdatedMsg:
		m.log = msg.Snapshot
		if len(m.log) == 0 {
			m.notices = nil
		}

	case PendingUpdatedMsg:
		m.pending = msg.Count

	case ProgressMsg:
		m.Transferring = msg.Name
		cmds = append(cmds, m.Progress.SetPercent(msg.Fraction))

	case sendDoneMsg:
		m.IsSending = false
		m.Transferring = ""
		m.pending = len(m.chat.Pending())
		if msg.err != nil {
			m.alert(msg.err)
		}

	case InfoMsg:
		m.system(msg.Info)

	case ErrorMsg:
		m.alert(msg.Err)

	case ConnectionClosedMsg:
		m.IsConnected = false
		m.Status = "DISCONNECTED"
		m.alert(errors.New("connection closed by peer"))
	}

	var cmd tea.Cmd
	m.chatArea, cmd = m.chatArea.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) submit(raw string) tea.Cmd {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}
	if text == "" && m.pending == 0 {
		return nil
	}
	if !m.IsConnected {
		m.alert(errors.New("not connected"))
		return nil
	}
	if m.IsSending {
		m.alert(session.ErrSendInFlight)
		return nil
	}

	m.IsSending = true
	ctx, chat := m.ctx, m.chat
	return func() tea.Msg {
		return sendDoneMsg{err: chat.Send(ctx, raw)}
	}
}

func (m *Model) command(text string) tea.Cmd {
	name, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)

	switch name {
	case "/help":
		m.ShowHelp = !m.ShowHelp

	case "/quit":
		return tea.Quit

	case "/attach":
		if args == "" {
			m.alert(errors.New("usage: /attach <path>"))
			return nil
		}
		h, err := m.openFile(args)
		if err != nil {
			m.alert(err)
			return nil
		}
		att, err := m.chat.AddAttachment(h)
		if err != nil {
			m.alert(err)
			return nil
		}
		m.pending = len(m.chat.Pending())
		m.system(fmt.Sprintf("Attached %s (%s). Press Enter to send.", att.File.Name(), protocol.FormatSize(att.File.Size())))

	case "/replace":
		pos, path, _ := strings.Cut(args, " ")
		i, err := position(pos)
		if err != nil || strings.TrimSpace(path) == "" {
			m.alert(errors.New("usage: /replace <n> <path>"))
			return nil
		}
		h, err := m.openFile(strings.TrimSpace(path))
		if err != nil {
			m.alert(err)
			return nil
		}
		att, err := m.chat.ReplaceAttachment(i, h)
		if err != nil {
			m.alert(err)
			return nil
		}
		m.system(fmt.Sprintf("Attachment %d is now %s.", i+1, att.File.Name()))

	case "/remove":
		i, err := position(args)
		if err != nil {
			m.alert(errors.New("usage: /remove <n>"))
			return nil
		}
		att, err := m.chat.RemoveAttachment(i)
		if err != nil {
			m.alert(err)
			return nil
		}
		m.pending = len(m.chat.Pending())
		m.system(fmt.Sprintf("Removed %s.", att.File.Name()))

	case "/pending":
		pending := m.chat.Pending()
		if len(pending) == 0 {
			m.system("No pending attachments.")
			return nil
		}
		for i, att := range pending {
			m.system(fmt.Sprintf("%d. %s (%s, %s)", i+1, att.File.Name(), protocol.FormatSize(att.File.Size()), att.File.MimeType()))
		}

	case "/clear":
		m.chat.Clear()
		m.log = nil
		m.notices = nil
		m.pending = 0

	case "/fingerprint":
		m.system(fmt.Sprintf("Your Key Fingerprint: %s", m.fingerprint))
		m.system(fmt.Sprintf("%s's Key Fingerprint: %s", m.peerNickname, m.peerFingerprint))

	default:
		m.alert(fmt.Errorf("unknown command %s, type /help", name))
	}
	return nil
}

// position parses a 1-based list position.
func position(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	return n - 1, nil
}

// entries merges the session log with local notices.
func (m *Model) entries() []entry {
	out := make([]entry, 0, len(m.log)+len(m.notices))
	next := 0
	for i, msg := range m.log {
		for next < len(m.notices) && m.notices[next].after <= i {
			out = append(out, m.notices[next].entry)
			next++
		}
		out = append(out, entryFromMessage(msg))
	}
	for ; next < len(m.notices); next++ {
		out = append(out, m.notices[next].entry)
	}
	return out
}

func (m *Model) View() string {
	if m.ShowHelp {
		return m.helpView()
	}

	parts := []string{m.headerView(), m.chatArea.View(m.entries())}
	if footer := m.footerView(); footer != "" {
		parts = append(parts, footer)
	}
	return strings.Join(parts, "\n")
}

func (m *Model) helpView() string {
	return InfoBoxStyle.Render(
		"Available Commands:\n" +
			"  /attach <path>      - Queue a file to send with the next message\n" +
			"  /replace <n> <path> - Replace pending attachment n\n" +
			"  /remove <n>         - Drop pending attachment n\n" +
			"  /pending            - List pending attachments\n" +
			"  /clear              - Clear the transcript and pending attachments\n" +
			"  /fingerprint        - Show your and your peer's key fingerprints\n" +
			"  /help               - Toggle this help message\n" +
			"  /quit               - Disconnect and exit\n" +
			"\nKeybindings:\n" +
			"  Enter               - Send message and pending attachments\n" +
			"  Ctrl+C/Esc          - Disconnect and exit\n" +
			"\n(Press Esc to close this help menu)",
	)
}

func (m *Model) headerView() string {
	status := m.Status
	if m.IsConnected {
		status = fmt.Sprintf("%s | %s <-> %s", m.Status, m.nickname, m.peerNickname)
	}
	if m.pending > 0 {
		status = fmt.Sprintf("%s | %d pending", status, m.pending)
	}
	return StatusStyle.Render(status)
}

func (m *Model) footerView() string {
	if m.Transferring != "" {
		return fmt.Sprintf("Sending %s\n%s", m.Transferring, m.Progress.View())
	}
	if m.IsSending {
		return StatusStyle.Render("Sending...")
	}
	return ""
}
