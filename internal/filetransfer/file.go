package filetransfer

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// FileHandle is a selected file that can be read more than once.
type FileHandle interface {
	Name() string
	Size() int64
	MimeType() string
	PreviewURL() string
	Open() (io.ReadCloser, error)
}

// LocalFile is a FileHandle backed by a path on disk.
type LocalFile struct {
	path     string
	size     int64
	mimeType string
}

// OpenLocal stats path and returns a handle for it.
func OpenLocal(path string) (*LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("could not get file info: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &LocalFile{path: abs, size: info.Size(), mimeType: detectMimeType(abs)}, nil
}

func (f *LocalFile) Name() string     { return filepath.Base(f.path) }
func (f *LocalFile) Size() int64      { return f.size }
func (f *LocalFile) MimeType() string { return f.mimeType }

func (f *LocalFile) PreviewURL() string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(f.path)}).String()
}

func (f *LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// IsImage reports whether the handle carries an image MIME type.
func IsImage(h FileHandle) bool {
	return strings.HasPrefix(h.MimeType(), "image/")
}

func detectMimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	file, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	return http.DetectContentType(head[:n])
}

// BuildFileInfo reads h through an Encoder and returns its FileInfo with
// chunks populated. progress, if set, receives the bytes read so far.
func BuildFileInfo(h FileHandle, chunkSize int, progress func(read, total int64)) (*protocol.FileInfo, error) {
	file, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	if chunkSize <= 0 {
		chunkSize = protocol.ChunkSize
	}
	enc := NewEncoder(file, chunkSize)
	var read int64
	total := h.Size()
	enc.onRead = func(n int) {
		read += int64(n)
		if progress != nil {
			progress(read, total)
		}
	}

	chunks := make([]protocol.Chunk, 0, ChunkCount(total, chunkSize))
	for {
		chunk, err := enc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	return &protocol.FileInfo{
		Name:        h.Name(),
		MimeType:    h.MimeType(),
		Size:        read,
		DisplaySize: protocol.FormatSize(read),
		ChunkCount:  len(chunks),
		Chunks:      chunks,
		PreviewURL:  h.PreviewURL(),
	}, nil
}
