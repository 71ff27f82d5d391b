package core

import "github.com/bjarneo/peerchat/internal/protocol"

// MessageSender defines an interface for sending session events to the UI.
type MessageSender interface {
	SendLogUpdated(snapshot []protocol.Message)
	SendPendingUpdated(count int)
	SendError(err error)
	SendInfo(info string)
	SendProgress(name string, fraction float64)
	SendConnectionClosed()
}

// Discard is a MessageSender that drops every event.
type Discard struct{}

func (Discard) SendLogUpdated([]protocol.Message) {}
func (Discard) SendPendingUpdated(int)            {}
func (Discard) SendError(error)                   {}
func (Discard) SendInfo(string)                   {}
func (Discard) SendProgress(string, float64)      {}
func (Discard) SendConnectionClosed()             {}
