// Package session keeps one room's transcript consistent with the traffic
// flowing through its transfer channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bjarneo/peerchat/internal/core"
	"github.com/bjarneo/peerchat/internal/filetransfer"
	"github.com/bjarneo/peerchat/internal/protocol"
)

var (
	ErrSendInFlight = errors.New("a send is already in progress")
	ErrTextTooLong  = errors.New("message text too long")
	ErrSendFailure  = errors.New("send failed")
)

// EncodeProgressShare is the part of an attachment's progress covered by
// reading and encoding it. The transport reports the remainder.
const EncodeProgressShare = 0.5

// SendError reports a message that could not be composed or handed to the
// transport. It matches ErrSendFailure.
type SendError struct {
	Name string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("could not send %s: %v", e.Name, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool { return target == ErrSendFailure }

// Transport is the transfer channel a session talks through.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) error
	Subscribe(handler func(protocol.Message)) (unsubscribe func())
}

// FileSink persists reconstructed inbound files and returns a preview URL.
type FileSink interface {
	Store(ctx context.Context, info *protocol.FileInfo, data []byte) (string, error)
}

// Options configures a Session. Transport is required.
type Options struct {
	Username  string
	Transport Transport
	Sink      FileSink
	Notifier  core.MessageSender
	Logger    *zap.Logger
	ChunkSize int
	Now       func() time.Time
}

// Session is the state of a single room join.
type Session struct {
	username  string
	transport Transport
	sink      FileSink
	notifier  core.MessageSender
	logger    *zap.Logger
	chunkSize int
	now       func() time.Time

	log         Log
	attachments Attachments
	inFlight    atomic.Bool

	subMu       sync.Mutex
	unsubscribe func()
}

func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	s := &Session{
		username:  opts.Username,
		transport: opts.Transport,
		sink:      opts.Sink,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		chunkSize: opts.ChunkSize,
		now:       opts.Now,
	}
	if s.notifier == nil {
		s.notifier = core.Discard{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.chunkSize <= 0 {
		s.chunkSize = protocol.ChunkSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Send composes the pending text and attachments into messages and hands
// them to the transport one at a time: the text first, then each attachment
// in list order. A call made while another is draining returns
// ErrSendInFlight without touching anything.
//
// If a message fails it is not logged; its attachment returns to the head of
// the pending list and later attachments stay pending for the next Send.
func (s *Session) Send(ctx context.Context, text string) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	defer s.inFlight.Store(false)

	if n := protocol.TextLength(text); n > protocol.MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrTextTooLong, n, protocol.MaxTextLength)
	}

	if trimmed := strings.TrimSpace(text); trimmed != "" {
		msg := protocol.NewText(s.username, trimmed, s.now())
		if err := s.transport.Send(ctx, msg); err != nil {
			s.logger.Warn("text send failed", zap.String("id", msg.ID), zap.Error(err))
			return &SendError{Name: "message", Err: err}
		}
		s.publish(s.log.Append(msg))
	}

	for {
		att, ok := s.attachments.pop()
		if !ok {
			break
		}
		s.notifier.SendPendingUpdated(s.attachments.Len())
		if err := s.sendAttachment(ctx, att); err != nil {
			s.attachments.pushFront(att)
			s.notifier.SendPendingUpdated(s.attachments.Len())
			return err
		}
	}
	return nil
}

func (s *Session) sendAttachment(ctx context.Context, att Attachment) error {
	name := att.File.Name()
	info, err := filetransfer.BuildFileInfo(att.File, s.chunkSize, func(read, total int64) {
		if total > 0 {
			s.notifier.SendProgress(name, EncodeProgressShare*float64(read)/float64(total))
		}
	})
	if err != nil {
		s.logger.Warn("could not encode attachment", zap.String("name", name), zap.Error(err))
		return &SendError{Name: name, Err: err}
	}
	info.PreviewURL = att.PreviewURL

	msg := protocol.NewFile(s.username, info, s.now())
	if err := s.transport.Send(ctx, msg); err != nil {
		s.logger.Warn("file send failed", zap.String("id", msg.ID), zap.String("name", name), zap.Error(err))
		return &SendError{Name: name, Err: err}
	}
	s.logger.Info("file sent",
		zap.String("id", msg.ID),
		zap.String("name", name),
		zap.Int("chunks", info.ChunkCount))
	s.publish(s.log.Append(msg.Stripped()))
	return nil
}

// Listen subscribes the session to inbound messages, dropping any earlier
// subscription first.
func (s *Session) Listen(ctx context.Context) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = s.transport.Subscribe(func(msg protocol.Message) {
		s.Receive(ctx, msg)
	})
}

// Receive appends an inbound message. A file is rebuilt from its chunks and
// handed to the sink; one that cannot be rebuilt is kept and marked failed.
func (s *Session) Receive(ctx context.Context, msg protocol.Message) {
	msg.IsSelf = false
	if msg.Kind == protocol.KindFile && msg.File != nil {
		msg.File = s.receiveFile(ctx, msg.ID, *msg.File)
	}
	s.publish(s.log.Append(msg))
}

func (s *Session) receiveFile(ctx context.Context, id string, info protocol.FileInfo) *protocol.FileInfo {
	// A remote preview URL points at the sender's disk.
	info.PreviewURL = ""
	defer func() { info.Chunks = nil }()

	if info.Failed {
		return &info
	}
	data, err := filetransfer.DecodeFile(&info)
	if err != nil {
		s.logger.Warn("could not reassemble file",
			zap.String("id", id),
			zap.String("name", info.Name),
			zap.Error(err))
		info.Failed = true
		return &info
	}
	info.Size = int64(len(data))
	info.DisplaySize = protocol.FormatSize(info.Size)

	if s.sink == nil {
		return &info
	}
	url, err := s.sink.Store(ctx, &info, data)
	if err != nil {
		s.logger.Error("could not store file", zap.String("name", info.Name), zap.Error(err))
		s.notifier.SendError(fmt.Errorf("could not save %s: %w", info.Name, err))
		return &info
	}
	info.PreviewURL = url
	return &info
}

// AddAttachment queues h for the next Send.
func (s *Session) AddAttachment(h filetransfer.FileHandle) (Attachment, error) {
	att, err := s.attachments.Add(h)
	if err == nil {
		s.notifier.SendPendingUpdated(s.attachments.Len())
	}
	return att, err
}

// ReplaceAttachment swaps the file at position i.
func (s *Session) ReplaceAttachment(i int, h filetransfer.FileHandle) (Attachment, error) {
	return s.attachments.Replace(i, h)
}

// RemoveAttachment drops the attachment at position i. It has no effect on
// an attachment whose composition already started.
func (s *Session) RemoveAttachment(i int) (Attachment, error) {
	att, err := s.attachments.Remove(i)
	if err == nil {
		s.notifier.SendPendingUpdated(s.attachments.Len())
	}
	return att, err
}

// Pending lists the queued attachments.
func (s *Session) Pending() []Attachment {
	return s.attachments.List()
}

// Snapshot returns the current transcript.
func (s *Session) Snapshot() []protocol.Message {
	return s.log.Snapshot()
}

// Clear drops the transcript and every pending attachment.
func (s *Session) Clear() {
	s.log.Clear()
	s.attachments.Clear()
	s.publish(s.log.Snapshot())
	s.notifier.SendPendingUpdated(0)
}

// Close stops receiving inbound messages.
func (s *Session) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Session) publish(snapshot []protocol.Message) {
	s.notifier.SendLogUpdated(snapshot)
}
