package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bjarneo/peerchat/internal/crypto"
	"github.com/bjarneo/peerchat/internal/protocol"
)

// maxFrameSize bounds a single encrypted frame. A full chunk is ~240 KiB
// after base64 and JSON, so this leaves ample headroom.
const maxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a peer announces a frame above maxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// ProgressFunc is called after every chunk frame written for a file message.
type ProgressFunc func(name string, sent, total int)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithProgress registers a callback for outbound file progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Channel) { c.progress = fn }
}

type subscription struct {
	id      uint64
	handler func(protocol.Message)
}

// Channel is an encrypted, framed message channel to a single peer.
type Channel struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	key    []byte
	logger *zap.Logger

	progress ProgressFunc

	writeMu sync.Mutex

	subMu   sync.Mutex
	sub     *subscription
	nextSub uint64

	nickname        string
	peerNickname    string
	fingerprint     string
	peerFingerprint string

	closed atomic.Bool
}

// wire payload of a TypeFileChunk frame
type chunkFrame struct {
	MessageID string `json:"messageId"`
	protocol.Chunk
}

type hello struct {
	Nickname string `json:"nickname"`
}

// Handshake performs the key exchange and nickname hello over rwc and returns
// a ready Channel. Cancelling ctx during the handshake closes rwc.
func Handshake(ctx context.Context, rwc io.ReadWriteCloser, isInitiator bool, nickname string, opts ...Option) (*Channel, error) {
	c := &Channel{
		rwc:      rwc,
		reader:   bufio.NewReader(rwc),
		logger:   zap.NewNop(),
		nickname: nickname,
	}
	for _, opt := range opts {
		opt(c)
	}

	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	kx, err := crypto.PerformKeyExchange(readWriter{c.reader, rwc}, isInitiator)
	if err != nil {
		rwc.Close()
		return nil, wrapCtx(ctx, err)
	}
	c.key = kx.SessionKey
	c.fingerprint = crypto.Fingerprint(kx.PublicKey)
	c.peerFingerprint = crypto.Fingerprint(kx.PeerPublicKey)

	if err := c.exchangeHello(isInitiator); err != nil {
		rwc.Close()
		return nil, wrapCtx(ctx, err)
	}

	c.logger.Info("peer connected",
		zap.String("peer", c.peerNickname),
		zap.String("fingerprint", c.peerFingerprint))
	return c, nil
}

func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("handshake: %w", ctxErr)
	}
	return fmt.Errorf("handshake: %w", err)
}

func (c *Channel) exchangeHello(isInitiator bool) error {
	ours, err := json.Marshal(hello{Nickname: c.nickname})
	if err != nil {
		return err
	}
	send := func() error { return c.writeFrame(protocol.TypeHello, ours) }
	recv := func() error {
		msgType, payload, err := c.readFrame()
		if err != nil {
			return err
		}
		if msgType != protocol.TypeHello {
			return fmt.Errorf("expected hello, got frame type %d", msgType)
		}
		var theirs hello
		if err := json.Unmarshal(payload, &theirs); err != nil {
			return fmt.Errorf("failed to decode hello: %w", err)
		}
		c.peerNickname = theirs.Nickname
		return nil
	}
	if isInitiator {
		if err := send(); err != nil {
			return err
		}
		return recv()
	}
	if err := recv(); err != nil {
		return err
	}
	return send()
}

// PeerNickname is the nickname the peer announced in its hello.
func (c *Channel) PeerNickname() string { return c.peerNickname }

// Fingerprint is the short digest of our public key.
func (c *Channel) Fingerprint() string { return c.fingerprint }

// PeerFingerprint is the short digest of the peer public key.
func (c *Channel) PeerFingerprint() string { return c.peerFingerprint }

// Subscribe installs handler as the single inbound subscriber, replacing any
// previous one. The returned func only removes this registration.
func (c *Channel) Subscribe(handler func(protocol.Message)) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.sub = &subscription{id: id, handler: handler}
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if c.sub != nil && c.sub.id == id {
			c.sub = nil
		}
	}
}

func (c *Channel) deliver(msg protocol.Message) {
	c.subMu.Lock()
	sub := c.sub
	c.subMu.Unlock()
	if sub == nil {
		c.logger.Warn("dropping inbound message without subscriber", zap.String("id", msg.ID))
		return
	}
	sub.handler(msg)
}

// Send writes msg to the peer. Frames of one message are never interleaved
// with another message.
func (c *Channel) Send(ctx context.Context, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if c.closed.Load() {
		return net.ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	switch msg.Kind {
	case protocol.KindText:
		data, err := msg.ToJSON()
		if err != nil {
			return fmt.Errorf("could not encode message: %w", err)
		}
		if err := c.writeFrame(protocol.TypeText, data); err != nil {
			return fmt.Errorf("could not send text: %w", err)
		}
		return nil

	case protocol.KindFile:
		return c.sendFile(ctx, msg)
	}
	return fmt.Errorf("%w: kind %q", protocol.ErrInvalidMessage, msg.Kind)
}

func (c *Channel) sendFile(ctx context.Context, msg protocol.Message) error {
	chunks := msg.File.Chunks
	if len(chunks) == 0 {
		return fmt.Errorf("%w: file message %s has no chunks to send", protocol.ErrInvalidMessage, msg.ID)
	}

	offer := msg.Stripped()
	offerBytes, err := offer.ToJSON()
	if err != nil {
		return fmt.Errorf("could not create file offer: %w", err)
	}
	if err := c.writeFrame(protocol.TypeFileOffer, offerBytes); err != nil {
		return fmt.Errorf("could not send file offer: %w", err)
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(chunkFrame{MessageID: msg.ID, Chunk: chunk})
		if err != nil {
			return fmt.Errorf("could not encode file chunk: %w", err)
		}
		if err := c.writeFrame(protocol.TypeFileChunk, data); err != nil {
			return fmt.Errorf("could not send file chunk: %w", err)
		}
		if c.progress != nil {
			c.progress(msg.File.Name, i+1, len(chunks))
		}
	}

	if err := c.writeFrame(protocol.TypeFileDone, []byte(msg.ID)); err != nil {
		return fmt.Errorf("could not send file done message: %w", err)
	}
	c.logger.Debug("file sent",
		zap.String("id", msg.ID),
		zap.String("name", msg.File.Name),
		zap.Int("chunks", len(chunks)))
	return nil
}

type pendingFile struct {
	msg      protocol.Message
	chunks   []protocol.Chunk
	overflow bool
}

// Run reads frames until the peer disconnects, the channel is closed or ctx
// is cancelled. File offers are reassembled and delivered once their done
// frame arrives. A clean shutdown returns nil.
func (c *Channel) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	var pending *pendingFile

	for {
		msgType, payload, err := c.readFrame()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || ctx.Err() != nil {
				if pending != nil {
					c.logger.Warn("channel closed during file transfer", zap.String("id", pending.msg.ID))
					c.abandon(pending)
				}
				c.logger.Info("peer channel closed")
				return nil
			}
			if errors.Is(err, errDecrypt) {
				c.logger.Warn("dropping undecryptable frame", zap.Error(err))
				continue
			}
			return fmt.Errorf("connection closed by peer: %w", err)
		}

		switch msgType {
		case protocol.TypeText:
			var msg protocol.Message
			if err := msg.FromJSON(payload); err != nil {
				c.logger.Warn("failed to decode text", zap.Error(err))
				continue
			}
			if err := msg.Validate(); err != nil || msg.Kind != protocol.KindText {
				c.logger.Warn("dropping invalid text message", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			c.deliver(msg)

		case protocol.TypeFileOffer:
			var msg protocol.Message
			if err := msg.FromJSON(payload); err != nil {
				c.logger.Warn("failed to decode file offer", zap.Error(err))
				continue
			}
			if err := msg.Validate(); err != nil || msg.Kind != protocol.KindFile {
				c.logger.Warn("dropping invalid file offer", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			if msg.File.ChunkCount > protocol.MaxChunkCount {
				c.logger.Warn("dropping oversized file offer",
					zap.String("id", msg.ID),
					zap.Int("chunks", msg.File.ChunkCount))
				continue
			}
			if pending != nil {
				c.logger.Warn("file offer superseded before completion", zap.String("id", pending.msg.ID))
				c.abandon(pending)
			}
			msg.File.Chunks = nil
			pending = &pendingFile{msg: msg, chunks: make([]protocol.Chunk, 0, msg.File.ChunkCount)}

		case protocol.TypeFileChunk:
			var frame chunkFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				c.logger.Warn("failed to decode file chunk", zap.Error(err))
				continue
			}
			if pending == nil || pending.msg.ID != frame.MessageID {
				c.logger.Warn("dropping chunk for unknown transfer", zap.String("id", frame.MessageID))
				continue
			}
			if len(pending.chunks) >= pending.msg.File.ChunkCount {
				pending.overflow = true
				continue
			}
			pending.chunks = append(pending.chunks, frame.Chunk)

		case protocol.TypeFileDone:
			id := string(payload)
			if pending == nil || pending.msg.ID != id {
				c.logger.Warn("file done for unknown transfer", zap.String("id", id))
				continue
			}
			msg := pending.msg
			msg.File.Chunks = pending.chunks
			if pending.overflow {
				c.logger.Warn("file transfer carried more chunks than announced", zap.String("id", id))
				msg.File.Failed = true
			}
			pending = nil
			c.deliver(msg)

		default:
			c.logger.Warn("received unknown message type", zap.Uint8("type", msgType))
		}
	}
}

// abandon delivers an unfinished transfer marked as failed.
func (c *Channel) abandon(p *pendingFile) {
	msg := p.msg
	msg.File.Chunks = p.chunks
	msg.File.Failed = true
	c.deliver(msg)
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rwc.Close()
}

var errDecrypt = errors.New("decryption failed")

// writeFrame encrypts and writes a single frame: type, big endian length, payload.
func (c *Channel) writeFrame(msgType byte, data []byte) error {
	encrypted, err := crypto.Encrypt(data, c.key)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	if len(encrypted) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(encrypted))
	}

	msg := make([]byte, 0, 5+len(encrypted))
	msg = append(msg, msgType)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(encrypted)))
	msg = append(msg, encrypted...)

	_, err = c.rwc.Write(msg)
	return err
}

func (c *Channel) readFrame() (byte, []byte, error) {
	msgType, err := c.reader.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	var length uint32
	if err := binary.Read(c.reader, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("failed to read length: %w", err)
	}
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	encryptedMsg := make([]byte, length)
	if _, err := io.ReadFull(c.reader, encryptedMsg); err != nil {
		return 0, nil, fmt.Errorf("failed to read message body: %w", err)
	}

	decrypted, err := crypto.Decrypt(encryptedMsg, c.key)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errDecrypt, err)
	}
	return msgType, decrypted, nil
}

// readWriter reads through the buffered reader so no handshake bytes are lost.
type readWriter struct {
	io.Reader
	io.Writer
}

// Dial connects to a hosting peer over TCP and performs the handshake as initiator.
func Dial(ctx context.Context, addr, nickname string, opts ...Option) (*Channel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}
	return Handshake(ctx, conn, true, nickname, opts...)
}

// Accept waits for the first peer on ln and performs the handshake as responder.
func Accept(ctx context.Context, ln net.Listener, nickname string, opts ...Option) (*Channel, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept connection: %w", err)
	}

	// Bound the handshake so a silent peer cannot hold the host.
	hsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return Handshake(hsCtx, conn, false, nickname, opts...)
}
