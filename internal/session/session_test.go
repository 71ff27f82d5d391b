package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/bjarneo/peerchat/internal/core"
	"github.com/bjarneo/peerchat/internal/filetransfer"
	"github.com/bjarneo/peerchat/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memFile struct {
	name string
	mime string
	data []byte
	size int64 // overrides len(data) when set
}

func (f *memFile) Name() string       { return f.name }
func (f *memFile) MimeType() string   { return f.mime }
func (f *memFile) PreviewURL() string { return "mem://" + f.name }

func (f *memFile) Size() int64 {
	if f.size > 0 {
		return f.size
	}
	return int64(len(f.data))
}

func (f *memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []protocol.Message
	handler func(protocol.Message)
	subs    int
	send    func(ctx context.Context, msg protocol.Message) error
}

func (t *fakeTransport) Send(ctx context.Context, msg protocol.Message) error {
	if t.send != nil {
		if err := t.send(ctx, msg); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Subscribe(handler func(protocol.Message)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs++
	id := t.subs
	t.handler = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.subs == id {
			t.handler = nil
		}
	}
}

func (t *fakeTransport) deliver(msg protocol.Message) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (t *fakeTransport) sentMessages() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Message(nil), t.sent...)
}

type memSink struct {
	stored map[string][]byte
}

func (s *memSink) Store(_ context.Context, info *protocol.FileInfo, data []byte) (string, error) {
	if s.stored == nil {
		s.stored = make(map[string][]byte)
	}
	s.stored[info.Name] = data
	return "file:///downloads/" + info.Name, nil
}

func newSession(t *testing.T, tr *fakeTransport, sink FileSink) *Session {
	t.Helper()
	s, err := New(Options{
		Username:  "alice",
		Transport: tr,
		Sink:      sink,
		Logger:    zaptest.NewLogger(t),
		ChunkSize: 8,
	})
	require.NoError(t, err)
	return s
}

func summary(msgs []protocol.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Kind == protocol.KindText {
			out = append(out, "text:"+m.Text)
		} else {
			out = append(out, "file:"+m.File.Name)
		}
	}
	return out
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSendTextLengthLimit(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)

	require.NoError(t, s.Send(context.Background(), strings.Repeat("a", 100)))
	assert.Len(t, tr.sentMessages(), 1)
	assert.Len(t, s.Snapshot(), 1)

	_, err := s.AddAttachment(&memFile{name: "a.txt", mime: "text/plain", data: []byte("x")})
	require.NoError(t, err)

	err = s.Send(context.Background(), strings.Repeat("b", 101))
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.Len(t, tr.sentMessages(), 1, "nothing is sent")
	assert.Len(t, s.Snapshot(), 1, "nothing is appended")
	assert.Len(t, s.Pending(), 1, "attachments stay pending")
}

func TestSendCountsUTF16Units(t *testing.T) {
	s := newSession(t, &fakeTransport{}, nil)
	// Each emoji is a surrogate pair.
	assert.NoError(t, s.Send(context.Background(), strings.Repeat("😀", 50)))
	assert.ErrorIs(t, s.Send(context.Background(), strings.Repeat("😀", 50)+"a"), ErrTextTooLong)
}

func TestSendSkipsBlankText(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)
	require.NoError(t, s.Send(context.Background(), "  \n\t "))
	assert.Empty(t, tr.sentMessages())
	assert.Empty(t, s.Snapshot())
}

func TestSendTextThenAttachmentsInOrder(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)

	first := &memFile{name: "one.bin", mime: "application/octet-stream", data: []byte("0123456789abcdef!")}
	second := &memFile{name: "two.png", mime: "image/png", data: []byte("png")}
	_, err := s.AddAttachment(first)
	require.NoError(t, err)
	_, err = s.AddAttachment(second)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "  hello  "))

	want := []string{"text:hello", "file:one.bin", "file:two.png"}
	sent := tr.sentMessages()
	if diff := cmp.Diff(want, summary(sent)); diff != "" {
		t.Errorf("sent order mismatch (-want +got):\n%s", diff)
	}
	logged := s.Snapshot()
	if diff := cmp.Diff(want, summary(logged)); diff != "" {
		t.Errorf("log order mismatch (-want +got):\n%s", diff)
	}
	for i, m := range logged {
		assert.True(t, m.IsSelf)
		assert.Equal(t, sent[i].ID, m.ID)
		assert.Equal(t, "alice", m.Username)
	}

	// The wire copy carries chunks, the logged copy does not.
	assert.Len(t, sent[1].File.Chunks, 3)
	assert.Equal(t, 3, logged[1].File.ChunkCount)
	assert.Nil(t, logged[1].File.Chunks)
	assert.Equal(t, "mem://one.bin", logged[1].File.PreviewURL)
	assert.Equal(t, int64(17), logged[1].File.Size)

	data, err := filetransfer.Decode(sent[1].File.Chunks)
	require.NoError(t, err)
	assert.Equal(t, first.data, data)

	assert.Empty(t, s.Pending())
}

type progressRecorder struct {
	core.Discard
	mu        sync.Mutex
	names     []string
	fractions []float64
}

func (r *progressRecorder) SendProgress(name string, fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.fractions = append(r.fractions, fraction)
}

func TestSendReportsEncodeProgress(t *testing.T) {
	rec := &progressRecorder{}
	s, err := New(Options{
		Username:  "alice",
		Transport: &fakeTransport{},
		Notifier:  rec,
		Logger:    zaptest.NewLogger(t),
		ChunkSize: 8,
	})
	require.NoError(t, err)

	_, err = s.AddAttachment(&memFile{name: "one.bin", mime: "application/octet-stream", data: []byte("0123456789abcdef!")})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), ""))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.fractions, 3)
	for i, f := range rec.fractions {
		assert.Equal(t, "one.bin", rec.names[i])
		assert.LessOrEqual(t, f, EncodeProgressShare)
		if i > 0 {
			assert.Greater(t, f, rec.fractions[i-1])
		}
	}
	assert.InDelta(t, EncodeProgressShare, rec.fractions[2], 1e-9)
}

func TestReentrantSendIsNoop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	tr := &fakeTransport{}
	tr.send = func(ctx context.Context, msg protocol.Message) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}
	s := newSession(t, tr, nil)
	for _, name := range []string{"a", "b"} {
		_, err := s.AddAttachment(&memFile{name: name, mime: "text/plain", data: []byte(name)})
		require.NoError(t, err)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Send(context.Background(), "") }()
	<-started

	assert.ErrorIs(t, s.Send(context.Background(), "again"), ErrSendInFlight)
	close(release)
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"file:a", "file:b"}, summary(tr.sentMessages()))
	assert.Equal(t, []string{"file:a", "file:b"}, summary(s.Snapshot()))
	assert.Empty(t, s.Pending())
}

func TestSendFailureKeepsLogConsistent(t *testing.T) {
	boom := errors.New("channel closed")
	fail := true
	tr := &fakeTransport{}
	tr.send = func(ctx context.Context, msg protocol.Message) error {
		if fail && msg.Kind == protocol.KindFile {
			return boom
		}
		return nil
	}
	s := newSession(t, tr, nil)
	for _, name := range []string{"a", "b"} {
		_, err := s.AddAttachment(&memFile{name: name, mime: "text/plain", data: []byte("payload " + name)})
		require.NoError(t, err)
	}

	err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailure)
	assert.ErrorIs(t, err, boom)
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "a", sendErr.Name)

	assert.Equal(t, []string{"text:hi"}, summary(s.Snapshot()), "failed file is not appended")
	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].File.Name())
	assert.Equal(t, "b", pending[1].File.Name())

	// The guard was released and chunks are rebuilt from the retained handle.
	fail = false
	require.NoError(t, s.Send(context.Background(), ""))
	assert.Equal(t, []string{"text:hi", "file:a", "file:b"}, summary(s.Snapshot()))
	assert.Empty(t, s.Pending())
}

type brokenFile struct{ memFile }

func (f *brokenFile) Open() (io.ReadCloser, error) { return nil, errors.New("permission denied") }

func TestSendEncodeFailureReleasesGuard(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)
	_, err := s.AddAttachment(&brokenFile{memFile{name: "locked", mime: "text/plain", data: []byte("x")}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Send(context.Background(), ""), ErrSendFailure)
	assert.Empty(t, tr.sentMessages())
	assert.Empty(t, s.Snapshot())

	_, err = s.RemoveAttachment(0)
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), "next"))
	assert.Len(t, s.Snapshot(), 1)
}

func TestReceiveForcesNotSelf(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)
	s.Listen(context.Background())
	defer s.Close()

	spoofed := protocol.NewText("bob", "trust me", time.Now())
	require.True(t, spoofed.IsSelf)
	tr.deliver(spoofed)
	tr.deliver(protocol.NewText("bob", "second", time.Now()))

	log := s.Snapshot()
	require.Len(t, log, 2)
	assert.False(t, log[0].IsSelf)
	assert.False(t, log[1].IsSelf)
	assert.Equal(t, []string{"text:trust me", "text:second"}, summary(log))
}

func TestListenReplacesSubscription(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)
	s.Listen(context.Background())
	s.Listen(context.Background())
	defer s.Close()

	tr.deliver(protocol.NewText("bob", "once", time.Now()))
	assert.Len(t, s.Snapshot(), 1)

	s.Close()
	tr.deliver(protocol.NewText("bob", "ignored", time.Now()))
	assert.Len(t, s.Snapshot(), 1)
}

func TestReceiveFile(t *testing.T) {
	sink := &memSink{}
	s := newSession(t, &fakeTransport{}, sink)

	src := []byte("some file content that spans chunks")
	chunks, err := filetransfer.Encode(bytes.NewReader(src), 8)
	require.NoError(t, err)
	info := &protocol.FileInfo{
		Name:       "notes.txt",
		MimeType:   "text/plain",
		Size:       999,
		ChunkCount: len(chunks),
		Chunks:     chunks,
		PreviewURL: "file:///home/bob/notes.txt",
	}
	s.Receive(context.Background(), protocol.NewFile("bob", info, time.Now()))

	log := s.Snapshot()
	require.Len(t, log, 1)
	got := log[0].File
	assert.False(t, got.Failed)
	assert.Nil(t, got.Chunks)
	assert.Equal(t, int64(len(src)), got.Size)
	assert.Equal(t, "file:///downloads/notes.txt", got.PreviewURL)
	assert.Equal(t, src, sink.stored["notes.txt"])
	assert.Len(t, info.Chunks, len(chunks), "the inbound value is not mutated")
}

func TestReceiveMalformedFileIsMarkedFailed(t *testing.T) {
	sink := &memSink{}
	s := newSession(t, &fakeTransport{}, sink)

	chunks, err := filetransfer.Encode(bytes.NewReader([]byte("0123456789abcdefXYZ")), 8)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	chunks[2].Sequence = 1

	info := &protocol.FileInfo{Name: "broken.bin", ChunkCount: 3, Chunks: chunks, PreviewURL: "file:///x"}
	s.Receive(context.Background(), protocol.NewFile("bob", info, time.Now()))
	s.Receive(context.Background(), protocol.NewText("bob", "still here", time.Now()))

	log := s.Snapshot()
	require.Len(t, log, 2)
	assert.True(t, log[0].File.Failed)
	assert.Nil(t, log[0].File.Chunks)
	assert.Empty(t, log[0].File.PreviewURL)
	assert.Empty(t, sink.stored)
	assert.Equal(t, "still here", log[1].Text)
}

func TestClearThenReceive(t *testing.T) {
	tr := &fakeTransport{}
	s := newSession(t, tr, nil)
	s.Listen(context.Background())
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "before"))
	_, err := s.AddAttachment(&memFile{name: "a", mime: "text/plain", data: []byte("a")})
	require.NoError(t, err)
	old := s.Snapshot()

	s.Clear()
	assert.Empty(t, s.Snapshot())
	assert.Empty(t, s.Pending())
	assert.Len(t, old, 1, "earlier snapshots are unaffected")

	tr.deliver(protocol.NewText("bob", "after", time.Now()))
	assert.Equal(t, []string{"text:after"}, summary(s.Snapshot()))
}

func TestSessionsAreIndependent(t *testing.T) {
	a := newSession(t, &fakeTransport{}, nil)
	b := newSession(t, &fakeTransport{}, nil)
	require.NoError(t, a.Send(context.Background(), "only a"))
	assert.Len(t, a.Snapshot(), 1)
	assert.Empty(t, b.Snapshot())
}
