package ui

import "github.com/charmbracelet/lipgloss"

var (
	StatusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Italic(true)
	SenderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	ReceiverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	SystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	TimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	PromptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	FileStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Strikethrough(true)
	InfoBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(1, 2)
)
