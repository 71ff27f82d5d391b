package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
)

// --- Protocol Definition ---

// Frame types written on the wire by the transfer channel.
const (
	TypeHello     byte = 0x00
	TypeText      byte = 0x01
	TypeFileOffer byte = 0x02
	TypeFileChunk byte = 0x05
	TypeFileDone  byte = 0x06
)

const (
	ChunkSize     = 180 << 10 // raw bytes per chunk, before base64
	MaxTextLength = 100       // UTF-16 code units
	MaxImageBytes = 10 << 20
	MaxFileBytes  = 1 << 30
	MaxChunkCount = (MaxFileBytes + ChunkSize - 1) / ChunkSize
)

// ClockFormat is how SentAt is rendered in the transcript.
const ClockFormat = "15:04"

// Kind tags the payload carried by a Message.
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Message is a single chat event, either text or a file.
type Message struct {
	ID       string    `json:"id"`
	IsSelf   bool      `json:"isSelf"`
	Username string    `json:"username"`
	SentAt   time.Time `json:"sentAt"`
	Kind     Kind      `json:"kind"`
	Text     string    `json:"text,omitempty"`
	File     *FileInfo `json:"fileInfo,omitempty"`
}

// FileInfo describes a file carried by a Message. Chunks is only populated
// while the file is in transit.
type FileInfo struct {
	Name        string  `json:"name"`
	MimeType    string  `json:"mimeType"`
	Size        int64   `json:"size"`
	DisplaySize string  `json:"displaySize"`
	ChunkCount  int     `json:"chunkCount"`
	Chunks      []Chunk `json:"chunks,omitempty"`
	PreviewURL  string  `json:"previewUrl,omitempty"`
	Failed      bool    `json:"failed,omitempty"`
}

// Chunk is a base64 encoded slice of a file.
type Chunk struct {
	Data     string `json:"data"`
	Sequence int    `json:"sequence"`
}

var ErrInvalidMessage = errors.New("invalid message")

// NewText builds a locally authored text message.
func NewText(username, text string, now time.Time) Message {
	return Message{
		ID:       uuid.NewString(),
		IsSelf:   true,
		Username: username,
		SentAt:   now,
		Kind:     KindText,
		Text:     text,
	}
}

// NewFile builds a locally authored file message.
func NewFile(username string, info *FileInfo, now time.Time) Message {
	return Message{
		ID:       uuid.NewString(),
		IsSelf:   true,
		Username: username,
		SentAt:   now,
		Kind:     KindFile,
		File:     info,
	}
}

// Clock renders SentAt as a wall clock string.
func (m Message) Clock() string {
	return m.SentAt.Local().Format(ClockFormat)
}

// Validate checks that exactly one payload is populated and that it matches Kind.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindText:
		if m.File != nil {
			return fmt.Errorf("%w: text message %s carries file info", ErrInvalidMessage, m.ID)
		}
	case KindFile:
		if m.File == nil {
			return fmt.Errorf("%w: file message %s has no file info", ErrInvalidMessage, m.ID)
		}
		if m.Text != "" {
			return fmt.Errorf("%w: file message %s carries text", ErrInvalidMessage, m.ID)
		}
		if m.File.ChunkCount < 1 {
			return fmt.Errorf("%w: file message %s has chunk count %d", ErrInvalidMessage, m.ID, m.File.ChunkCount)
		}
		if m.File.Chunks != nil && len(m.File.Chunks) != m.File.ChunkCount {
			return fmt.Errorf("%w: file message %s has %d chunks, expected %d", ErrInvalidMessage, m.ID, len(m.File.Chunks), m.File.ChunkCount)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Stripped returns a copy of the message without in-transit chunk data.
func (m Message) Stripped() Message {
	if m.File != nil {
		m.File = m.File.Stripped()
	}
	return m
}

// Stripped returns a copy of the file info without chunk data.
func (fi *FileInfo) Stripped() *FileInfo {
	if fi == nil {
		return nil
	}
	cp := *fi
	cp.Chunks = nil
	return &cp
}

// ToJSON marshals the Message to JSON.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON unmarshals JSON into Message.
func (m *Message) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// TextLength counts s in UTF-16 code units.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

const (
	kib = 1 << 10
	mib = 1 << 20
	gib = 1 << 30
)

// FormatSize renders a byte count as KB below 1 MB, MB below 512 MB and GB above.
func FormatSize(bytes int64) string {
	switch {
	case bytes < mib:
		return fmt.Sprintf("%.2fKB", roundHalfUp(float64(bytes)/kib))
	case bytes < 512*mib:
		return fmt.Sprintf("%.2fMB", roundHalfUp(float64(bytes)/mib))
	default:
		return fmt.Sprintf("%.2fGB", roundHalfUp(float64(bytes)/gib))
	}
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
