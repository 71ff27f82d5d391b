package filetransfer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/bjarneo/peerchat/internal/protocol"
)

// ErrMalformedChunk is matched by every *MalformedChunkError.
var ErrMalformedChunk = errors.New("malformed chunk sequence")

// MalformedChunkError reports a chunk sequence that cannot be reassembled.
type MalformedChunkError struct {
	Sequence int
	Reason   string
}

func (e *MalformedChunkError) Error() string {
	return fmt.Sprintf("malformed chunk %d: %s", e.Sequence, e.Reason)
}

func (e *MalformedChunkError) Is(target error) bool {
	return target == ErrMalformedChunk
}

// ChunkCount returns the number of chunks Encode produces for size bytes.
func ChunkCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 1
	}
	cs := int64(chunkSize)
	return int((size + cs - 1) / cs)
}

// Encoder reads a stream in fixed size slices and emits base64 chunks.
type Encoder struct {
	r      io.Reader
	buf    []byte
	seq    int
	done   bool
	onRead func(n int)
}

// NewEncoder returns an Encoder reading at most chunkSize bytes per chunk.
func NewEncoder(r io.Reader, chunkSize int) *Encoder {
	if chunkSize <= 0 {
		chunkSize = protocol.ChunkSize
	}
	return &Encoder{r: r, buf: make([]byte, chunkSize)}
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// An empty stream yields a single empty chunk.
func (e *Encoder) Next() (protocol.Chunk, error) {
	if e.done {
		return protocol.Chunk{}, io.EOF
	}
	n, err := io.ReadFull(e.r, e.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		e.done = true
		if n == 0 && e.seq > 0 {
			return protocol.Chunk{}, io.EOF
		}
	default:
		return protocol.Chunk{}, fmt.Errorf("could not read file chunk %d: %w", e.seq, err)
	}

	chunk := protocol.Chunk{
		Data:     base64.StdEncoding.EncodeToString(e.buf[:n]),
		Sequence: e.seq,
	}
	e.seq++
	if e.onRead != nil {
		e.onRead(n)
	}
	return chunk, nil
}

// Encode drains r into an ordered chunk sequence.
func Encode(r io.Reader, chunkSize int) ([]protocol.Chunk, error) {
	enc := NewEncoder(r, chunkSize)
	var chunks []protocol.Chunk
	for {
		chunk, err := enc.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}

// Decode reassembles chunks in ascending sequence order. The sequence must be
// exactly 0..n-1; nothing is returned otherwise.
func Decode(chunks []protocol.Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, &MalformedChunkError{Sequence: 0, Reason: "no chunks"}
	}

	ordered := make([]protocol.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	for i, c := range ordered {
		if c.Sequence < 0 || c.Sequence >= len(ordered) {
			return nil, &MalformedChunkError{Sequence: c.Sequence, Reason: fmt.Sprintf("out of range [0, %d]", len(ordered)-1)}
		}
		if c.Sequence != i {
			if i > 0 && ordered[i-1].Sequence == c.Sequence {
				return nil, &MalformedChunkError{Sequence: c.Sequence, Reason: "duplicated"}
			}
			return nil, &MalformedChunkError{Sequence: i, Reason: "missing"}
		}
	}

	var out bytes.Buffer
	for _, c := range ordered {
		raw, err := base64.StdEncoding.DecodeString(c.Data)
		if err != nil {
			return nil, &MalformedChunkError{Sequence: c.Sequence, Reason: "invalid base64: " + err.Error()}
		}
		out.Write(raw)
	}
	return out.Bytes(), nil
}

// DecodeFile reassembles the chunks carried by info. A transfer that arrived
// with fewer or more chunks than announced is malformed.
func DecodeFile(info *protocol.FileInfo) ([]byte, error) {
	if info == nil {
		return nil, &MalformedChunkError{Sequence: 0, Reason: "no file"}
	}
	if len(info.Chunks) != info.ChunkCount {
		return nil, &MalformedChunkError{
			Sequence: len(info.Chunks),
			Reason:   fmt.Sprintf("got %d of %d chunks", len(info.Chunks), info.ChunkCount),
		}
	}
	return Decode(info.Chunks)
}
