package filetransfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// DirSink writes reassembled files into a download directory.
type DirSink struct {
	dir    string
	logger *zap.Logger
}

// NewDirSink creates the directory if needed.
func NewDirSink(dir string, logger *zap.Logger) (*DirSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	return &DirSink{dir: dir, logger: logger}, nil
}

// Store writes data under a name derived from info.Name and returns a file
// URL for the stored copy. Existing files are never overwritten.
func (s *DirSink) Store(ctx context.Context, info *protocol.FileInfo, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := sanitizeFileName(info.Name)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	var (
		file *os.File
		path string
		err  error
	)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path = filepath.Join(s.dir, candidate)
		file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("could not create file: %w", err)
		}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return "", fmt.Errorf("could not write file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("could not close file: %w", err)
	}

	sum := sha256.Sum256(data)
	s.logger.Info("stored received file",
		zap.String("path", path),
		zap.Int("bytes", len(data)),
		zap.String("sha256", hex.EncodeToString(sum[:])))

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

// sanitizeFileName strips directory components and control bytes from a peer-supplied name.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "unnamed"
	}
	return name
}
