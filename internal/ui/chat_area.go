package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// SubmitInputMsg is a tea.Msg that signals text was submitted from the textarea.
type SubmitInputMsg struct{ Content string }

// FocusTextareaMsg is a tea.Msg to command the ChatAreaModel to focus its textarea.
type FocusTextareaMsg struct{}

type entryKind int

const (
	entrySelf entryKind = iota
	entryPeer
	entrySystem
	entryError
)

// entry is one rendered line of the transcript.
type entry struct {
	At      time.Time
	Sender  string
	Content string
	Kind    entryKind
}

func entryFromMessage(msg protocol.Message) entry {
	e := entry{At: msg.SentAt, Sender: msg.Username, Kind: entryPeer}
	if msg.IsSelf {
		e.Kind = entrySelf
	}
	switch msg.Kind {
	case protocol.KindText:
		e.Content = msg.Text
	case protocol.KindFile:
		e.Content = describeFile(msg.File)
	}
	return e
}

func describeFile(f *protocol.FileInfo) string {
	if f == nil {
		return ""
	}
	label := fmt.Sprintf("[file] %s (%s, %s)", f.Name, f.DisplaySize, f.MimeType)
	if f.Failed {
		return FailedStyle.Render(label) + ErrorStyle.Render(" transfer failed")
	}
	if f.PreviewURL != "" {
		return FileStyle.Render(label) + " " + f.PreviewURL
	}
	return FileStyle.Render(label)
}

// ChatAreaModel represents the UI model for the chat message display and input area.
type ChatAreaModel struct {
	viewport viewport.Model
	textarea textarea.Model
	width    int
	height   int // total height, viewport plus input box

	viewportStyle lipgloss.Style
	inputStyle    lipgloss.Style
	userNickname  string
}

// NewChatAreaModel creates the chat area with its initial dimensions.
func NewChatAreaModel(initialWidth, initialHeight int, userNickname string) ChatAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.CharLimit = protocol.MaxTextLength
	ta.SetWidth(initialWidth)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Prompt = userNickname + ": "
	ta.FocusedStyle.Prompt = PromptStyle
	ta.BlurredStyle.Prompt = PromptStyle
	ta.Focus()

	vp := viewport.New(initialWidth, initialHeight-3)

	return ChatAreaModel{
		textarea:     ta,
		viewport:     vp,
		width:        initialWidth,
		height:       initialHeight,
		userNickname: userNickname,
	}
}

func (m ChatAreaModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles input for the chat area. Enter submits the raw textarea
// value, even when empty, so pending attachments can go out on their own.
func (m ChatAreaModel) Update(msg tea.Msg) (ChatAreaModel, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter {
		value := m.textarea.Value()
		m.textarea.Reset()
		return m, func() tea.Msg { return SubmitInputMsg{Content: value} }
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	if _, ok := msg.(FocusTextareaMsg); ok {
		return m, tea.Batch(tiCmd, vpCmd, m.textarea.Focus())
	}
	return m, tea.Batch(tiCmd, vpCmd)
}

// SetDimensions resizes the viewport and input for the allocated area.
func (m *ChatAreaModel) SetDimensions(width, totalAllocatedHeight int) {
	m.width = width
	m.height = totalAllocatedHeight

	inputBoxHeight := max(m.textarea.Height()+2, 3)
	inputBoxHeight = min(inputBoxHeight, totalAllocatedHeight)

	m.viewport.Width = m.width
	m.viewport.Height = max(totalAllocatedHeight-inputBoxHeight, 0)
	m.textarea.SetWidth(m.width)
}

// View renders the transcript and the input box.
func (m *ChatAreaModel) View(entries []entry) string {
	m.viewportStyle = lipgloss.NewStyle().
		Width(m.width).
		Height(m.viewport.Height).
		Border(lipgloss.NormalBorder(), true, true, false, true).
		PaddingLeft(1).
		PaddingRight(1)

	m.viewport.SetContent(m.renderEntries(entries))
	m.viewport.GotoBottom()

	inputBoxHeight := max(m.textarea.Height()+2, 3)
	inputBoxHeight = min(inputBoxHeight, m.height)
	m.inputStyle = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true).
		Width(m.width).
		Height(inputBoxHeight).
		PaddingLeft(1).
		PaddingRight(1)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewportStyle.Render(m.viewport.View()),
		m.inputStyle.Render(m.textarea.View()),
	)
}

// renderEntries formats and wraps entries, indenting continuation lines
// under the message body.
func (m *ChatAreaModel) renderEntries(entries []entry) string {
	contentWidth := max(m.width-m.viewportStyle.GetHorizontalBorderSize()-m.viewportStyle.GetHorizontalPadding(), 1)

	var lines []string
	for _, e := range entries {
		timestamp := TimestampStyle.Render(e.At.Local().Format(protocol.ClockFormat))

		var prefix, content string
		switch e.Kind {
		case entrySystem:
			prefix = timestamp + " --- "
			content = SystemStyle.Render(e.Content)
		case entryError:
			prefix = timestamp + " --- "
			content = ErrorStyle.Render(e.Content)
		case entrySelf:
			prefix = fmt.Sprintf("%s %s ", timestamp, SenderStyle.Render("<"+e.Sender+">"))
			content = e.Content
		default:
			prefix = fmt.Sprintf("%s %s ", timestamp, ReceiverStyle.Render("<"+e.Sender+">"))
			content = e.Content
		}

		prefixLen := lipgloss.Width(prefix)
		wrapped := lipgloss.NewStyle().Width(max(contentWidth-prefixLen, 1)).Render(content)
		contentLines := strings.Split(wrapped, "\n")

		lines = append(lines, prefix+contentLines[0])
		indent := strings.Repeat(" ", prefixLen)
		for _, l := range contentLines[1:] {
			lines = append(lines, indent+l)
		}
	}
	return strings.Join(lines, "\n")
}
