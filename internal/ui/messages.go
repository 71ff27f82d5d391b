package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// --- Bubbletea Messages ---

type (
	LogUpdatedMsg       struct{ Snapshot []protocol.Message }
	PendingUpdatedMsg   struct{ Count int }
	InfoMsg             struct{ Info string }
	ErrorMsg            struct{ Err error }
	ConnectionClosedMsg struct{}
	sendDoneMsg         struct{ err error }
)

// ProgressMsg reports how much of an outbound file has been written.
type ProgressMsg struct {
	Name     string
	Fraction float64
}

// ProgramSender forwards session events into a running tea.Program.
//
// Session callbacks can fire from inside Model.Update, where a direct
// Program.Send would wait on the event loop that is running the caller.
// Events are therefore queued in order and delivered by Run.
type ProgramSender struct {
	mu    sync.Mutex
	queue []tea.Msg
	wake  chan struct{}
}

func NewProgramSender() *ProgramSender {
	return &ProgramSender{wake: make(chan struct{}, 1)}
}

func (s *ProgramSender) send(msg tea.Msg) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued events to p until ctx is done. Events raised before
// Run starts are kept and delivered first.
func (s *ProgramSender) Run(ctx context.Context, p *tea.Program) {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, msg := range batch {
			if ctx.Err() != nil {
				return
			}
			p.Send(msg)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *ProgramSender) SendLogUpdated(snapshot []protocol.Message) {
	s.send(LogUpdatedMsg{Snapshot: snapshot})
}

func (s *ProgramSender) SendPendingUpdated(count int) {
	s.send(PendingUpdatedMsg{Count: count})
}

func (s *ProgramSender) SendError(err error) {
	s.send(ErrorMsg{Err: err})
}

func (s *ProgramSender) SendInfo(info string) {
	s.send(InfoMsg{Info: info})
}

func (s *ProgramSender) SendProgress(name string, fraction float64) {
	s.send(ProgressMsg{Name: name, Fraction: fraction})
}

func (s *ProgramSender) SendConnectionClosed() {
	s.send(ConnectionClosedMsg{})
}
