// Package message defines the wire vocabulary exchanged between clients
// and the notebook server: requests clients send, responses the server
// emits in reply, and output records streamed from cells as they run.
package message

import "github.com/google/uuid"

// Type discriminates the message variants. The set is closed: a new
// message kind requires a new constant here and a new case in every
// switch that handles Type, not open-ended polymorphism.
type Type string

const (
	CreateCell Type = "CreateCell"
	ForkCell   Type = "ForkCell"
	UpdateCell Type = "UpdateCell"
	RunCell    Type = "RunCell"

	DidCreateCell Type = "DidCreateCell"
	DidForkCell   Type = "DidForkCell"
	DidUpdateCell Type = "DidUpdateCell"
	DidRunCell    Type = "DidRunCell"

	Stdout Type = "Stdout"
)

// IsRequest reports whether t is one of the client-originated request
// variants.
func (t Type) IsRequest() bool {
	switch t {
	case CreateCell, ForkCell, UpdateCell, RunCell:
		return true
	default:
		return false
	}
}

// IsResponse reports whether t is one of the Did* acknowledgement
// variants.
func (t Type) IsResponse() bool {
	switch t {
	case DidCreateCell, DidForkCell, DidUpdateCell, DidRunCell:
		return true
	default:
		return false
	}
}

// Message is the single wire type for every request, response, and
// output. Only the fields relevant to Type are populated; JSON tags
// omit the rest so the payload stays small over the wire.
type Message struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`

	// Request fields.
	Cell   string `json:"cell,omitempty"`
	Parent string `json:"parent,omitempty"`
	Code   string `json:"code,omitempty"`

	// Response fields. Request echoes the originating request so clients
	// can correlate a Did* reply without tracking IDs themselves.
	Request *Message `json:"request,omitempty"`

	// Output fields.
	Text string `json:"text,omitempty"`
}

// NewID returns a fresh opaque identifier for messages that arrive
// without a client-supplied id.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a copy of m stamped with a fresh id if m.ID is empty.
func WithID(m Message) Message {
	if m.ID == "" {
		m.ID = NewID()
	}
	return m
}

// DidCreateCellFor builds the response to a CreateCell/ForkCell request.
// kind must be DidCreateCell or DidForkCell.
func DidCreateCellFor(kind Type, req Message) Message {
	return Message{ID: NewID(), Type: kind, Request: &req}
}

// DidUpdateCellFor builds the response to an UpdateCell request.
func DidUpdateCellFor(req Message) Message {
	return Message{ID: NewID(), Type: DidUpdateCell, Request: &req}
}

// DidRunCellFor builds the response to a RunCell request.
func DidRunCellFor(req Message) Message {
	return Message{ID: NewID(), Type: DidRunCell, Request: &req}
}

// StdoutFor builds an output record carrying text produced while running
// cell. The server fills in Cell once it has resolved which cell the
// originating worker belongs to; workers never know their own cell name.
func StdoutFor(cell, text string) Message {
	return Message{ID: NewID(), Type: Stdout, Cell: cell, Text: text}
}
