package filetransfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bjarneo/peerchat/internal/protocol"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenLocal(t *testing.T) {
	path := writeTempFile(t, "notes.txt", []byte("hello world"))

	h, err := OpenLocal(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", h.Name())
	assert.Equal(t, int64(11), h.Size())
	assert.True(t, strings.HasPrefix(h.MimeType(), "text/plain"))
	assert.True(t, strings.HasPrefix(h.PreviewURL(), "file://"))
	assert.False(t, IsImage(h))
}

func TestOpenLocalSniffsUnknownExtension(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	h, err := OpenLocal(writeTempFile(t, "picture.unknownext", png))
	require.NoError(t, err)
	assert.Equal(t, "image/png", h.MimeType())
	assert.True(t, IsImage(h))
}

func TestOpenLocalErrors(t *testing.T) {
	_, err := OpenLocal(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = OpenLocal(t.TempDir())
	assert.Error(t, err)
}

func TestBuildFileInfo(t *testing.T) {
	data := randomBytes(t, 2*protocol.ChunkSize+10)
	h, err := OpenLocal(writeTempFile(t, "blob.bin", data))
	require.NoError(t, err)

	var last int64
	info, err := BuildFileInfo(h, protocol.ChunkSize, func(read, total int64) {
		assert.GreaterOrEqual(t, read, last)
		assert.Equal(t, int64(len(data)), total)
		last = read
	})
	require.NoError(t, err)

	assert.Equal(t, "blob.bin", info.Name)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, 3, info.ChunkCount)
	assert.Len(t, info.Chunks, 3)
	assert.Equal(t, protocol.FormatSize(int64(len(data))), info.DisplaySize)
	assert.Equal(t, int64(len(data)), last)

	got, err := Decode(info.Chunks)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDirSinkStore(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	info := &protocol.FileInfo{Name: "../../etc/report.pdf"}
	first, err := sink.Store(context.Background(), info, []byte("one"))
	require.NoError(t, err)
	second, err := sink.Store(context.Background(), info, []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	data, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "report (1).pdf"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a.txt", sanitizeFileName("a.txt"))
	assert.Equal(t, "b.txt", sanitizeFileName(`..\dir\b.txt`))
	assert.Equal(t, "unnamed", sanitizeFileName(".."))
	assert.Equal(t, "unnamed", sanitizeFileName(""))
	assert.Equal(t, "ab", sanitizeFileName("a\x00b"))
}
