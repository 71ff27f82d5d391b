package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxFrameSize = maxFrameSize + 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// peers are not browsers; there is no origin to check
		return true
	},
}

// wsStream presents a websocket connection as a byte stream. Every Write is
// sent as one binary message; reads span message boundaries.
type wsStream struct {
	conn    *websocket.Conn
	current io.Reader
	readMu  sync.Mutex
	writeMu sync.Mutex
}

func newWSStream(conn *websocket.Conn) *wsStream {
	conn.SetReadLimit(wsMaxFrameSize)
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	for {
		if s.current == nil {
			msgType, r, err := s.conn.NextReader()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			s.current = r
		}
		n, err := s.current.Read(p)
		if errors.Is(err, io.EOF) {
			s.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// DialWebSocket connects to a hosting peer's websocket URL and performs the
// handshake as initiator.
func DialWebSocket(ctx context.Context, url, nickname string, opts ...Option) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}
	return Handshake(ctx, newWSStream(conn), true, nickname, opts...)
}

// WebSocketAcceptor is an http.Handler that hands the first upgraded peer to Accept.
type WebSocketAcceptor struct {
	logger *zap.Logger
	conns  chan *websocket.Conn
	taken  atomic.Bool
}

// NewWebSocketAcceptor returns an acceptor that holds at most one pending peer.
func NewWebSocketAcceptor(logger *zap.Logger) *WebSocketAcceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketAcceptor{logger: logger, conns: make(chan *websocket.Conn, 1)}
}

func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.taken.Load() {
		http.Error(w, "session full", http.StatusConflict)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("upgrade error", zap.Error(err))
		return
	}
	select {
	case a.conns <- conn:
	default:
		a.logger.Info("rejecting extra peer", zap.String("remote", r.RemoteAddr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session full"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// Accept waits for an upgraded peer and performs the handshake as responder.
func (a *WebSocketAcceptor) Accept(ctx context.Context, nickname string, opts ...Option) (*Channel, error) {
	select {
	case conn := <-a.conns:
		a.taken.Store(true)
		hsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return Handshake(hsCtx, newWSStream(conn), false, nickname, opts...)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
