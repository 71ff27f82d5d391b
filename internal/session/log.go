package session

import (
	"sync"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// Log is the append-only transcript of a session. Snapshots handed out by
// Append and Snapshot are never modified afterwards.
type Log struct {
	mu       sync.Mutex
	messages []protocol.Message
}

// Append adds msg and returns the resulting snapshot in one step.
func (l *Log) Append(msg protocol.Message) []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Writes only ever land past the length of any published snapshot.
	l.messages = append(l.messages, msg)
	return l.messages[:len(l.messages):len(l.messages)]
}

// Snapshot returns the current transcript.
func (l *Log) Snapshot() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.messages[:len(l.messages):len(l.messages)]
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Clear drops every message. Earlier snapshots stay intact.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}
