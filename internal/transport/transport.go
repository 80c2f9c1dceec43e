// Package transport defines the chat surface the engine talks through.
//
// A transport delivers inbound turns (text, attachments, pressed buttons) and
// sends text with optional buttons ("affordances") or files back. Adapters live
// in subpackages: kafka (bridge topics), webhook (HTTP in and out) and memory
// (in-process loopback for tests and local runs).
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	id "trustdesk/pkg/domain"
)

// ErrClosed is returned by ReceiveTurn once the inbound sequence has ended.
var ErrClosed = errors.New("transport closed")

// FileKind is the media type of an attachment.
type FileKind string

const (
	FilePhoto    FileKind = "photo"
	FileDocument FileKind = "document"
	FileVideo    FileKind = "video"
	FileAudio    FileKind = "audio"
)

// filePrecedence decides which attachment is captured when a turn carries
// several kinds. Only one file is kept per turn.
var filePrecedence = []FileKind{FilePhoto, FileDocument, FileVideo, FileAudio}

func (k FileKind) IsValid() bool {
	for _, v := range filePrecedence {
		if k == v {
			return true
		}
	}
	return false
}

// FileRef points at a file held by the chat platform.
type FileRef struct {
	Kind FileKind `json:"kind"`
	ID   string   `json:"id"`
}

// Token renders the normalized "kind:fileId" form stored with submissions.
func (f FileRef) Token() string {
	return string(f.Kind) + ":" + f.ID
}

// ParseFileRef parses a "kind:fileId" token.
func ParseFileRef(token string) (FileRef, error) {
	kind, fileID, ok := strings.Cut(token, ":")
	if !ok || fileID == "" {
		return FileRef{}, fmt.Errorf("malformed file token %q", token)
	}
	ref := FileRef{Kind: FileKind(kind), ID: fileID}
	if !ref.Kind.IsValid() {
		return FileRef{}, fmt.Errorf("unknown file kind %q", kind)
	}
	return ref, nil
}

// FirstFile picks the attachment to capture by kind precedence
// (photo, document, video, audio). Returns nil when there is none.
func FirstFile(files []FileRef) *FileRef {
	for _, kind := range filePrecedence {
		for i := range files {
			if files[i].Kind == kind && files[i].ID != "" {
				f := files[i]
				return &f
			}
		}
	}
	return nil
}

// Turn is one inbound message. Action is set when the author pressed a button
// and carries that button's payload; Text and Files are then usually empty.
type Turn struct {
	SubmitterID id.SubmitterID `json:"submitter_id"`
	Handle      string         `json:"handle,omitempty"`
	Text        string         `json:"text,omitempty"`
	Files       []FileRef      `json:"files,omitempty"`
	Action      string         `json:"action,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// File returns the single attachment captured from this turn, if any.
func (t Turn) File() *FileRef {
	return FirstFile(t.Files)
}

// Affordance is a button offered with a message.
type Affordance struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// Outbound is one message to a chat participant, as serialized by adapters
// that hand delivery to another process.
type Outbound struct {
	To          id.SubmitterID `json:"to"`
	Text        string         `json:"text,omitempty"`
	Affordances []Affordance   `json:"affordances,omitempty"`
	File        *FileRef       `json:"file,omitempty"`
	Caption     string         `json:"caption,omitempty"`
}

// Receiver yields inbound turns. The sequence is lazy, unbounded and cannot be
// restarted; it ends with ErrClosed.
type Receiver interface {
	ReceiveTurn(ctx context.Context) (Turn, error)
}

// Sender delivers messages to chat participants.
type Sender interface {
	SendText(ctx context.Context, to id.SubmitterID, text string, affordances ...Affordance) error
	SendFile(ctx context.Context, to id.SubmitterID, file FileRef, caption string) error
}
