package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bjarneo/peerchat/internal/filetransfer"
	"github.com/bjarneo/peerchat/internal/protocol"
)

var (
	ErrAttachmentTooLarge = errors.New("attachment exceeds selection limit")
	ErrNoSuchAttachment   = errors.New("no such attachment")
)

// Attachment is a file selected for sending but not yet folded into a message.
type Attachment struct {
	ID         string
	File       filetransfer.FileHandle
	PreviewURL string
}

// Attachments is the ordered list of pending attachments.
type Attachments struct {
	mu    sync.Mutex
	items []Attachment
}

func newAttachment(h filetransfer.FileHandle) Attachment {
	return Attachment{ID: uuid.NewString(), File: h, PreviewURL: h.PreviewURL()}
}

// Add appends h unless it would push the images or the other files past
// their total size limit.
func (a *Attachments) Add(h filetransfer.FileHandle) (Attachment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := checkLimits(a.items, -1, h); err != nil {
		return Attachment{}, err
	}
	att := newAttachment(h)
	a.items = append(a.items, att)
	return att, nil
}

// Replace swaps the file content at position i, keeping its place in the list.
func (a *Attachments) Replace(i int, h filetransfer.FileHandle) (Attachment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.items) {
		return Attachment{}, fmt.Errorf("%w: %d", ErrNoSuchAttachment, i)
	}
	if err := checkLimits(a.items, i, h); err != nil {
		return Attachment{}, err
	}
	att := newAttachment(h)
	a.items[i] = att
	return att, nil
}

// Remove drops the attachment at position i.
func (a *Attachments) Remove(i int) (Attachment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.items) {
		return Attachment{}, fmt.Errorf("%w: %d", ErrNoSuchAttachment, i)
	}
	att := a.items[i]
	a.items = append(a.items[:i:i], a.items[i+1:]...)
	return att, nil
}

// List returns a copy of the pending attachments in order.
func (a *Attachments) List() []Attachment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Attachment, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Attachments) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

func (a *Attachments) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
}

func (a *Attachments) pop() (Attachment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.items) == 0 {
		return Attachment{}, false
	}
	att := a.items[0]
	a.items = a.items[1:]
	return att, true
}

func (a *Attachments) pushFront(att Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append([]Attachment{att}, a.items...)
}

// checkLimits sums the list without position skip and reports whether adding
// h stays within the limit of its class.
func checkLimits(items []Attachment, skip int, h filetransfer.FileHandle) error {
	image := filetransfer.IsImage(h)
	limit := int64(protocol.MaxFileBytes)
	if image {
		limit = protocol.MaxImageBytes
	}

	total := h.Size()
	for i, it := range items {
		if i == skip || filetransfer.IsImage(it.File) != image {
			continue
		}
		total += it.File.Size()
	}
	if total > limit {
		return fmt.Errorf("%w: %s would bring the total to %s (limit %s)",
			ErrAttachmentTooLarge, h.Name(), protocol.FormatSize(total), protocol.FormatSize(limit))
	}
	return nil
}
