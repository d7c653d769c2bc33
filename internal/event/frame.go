package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names emitted by the upstream feed.
const (
	NameListingUpdate = "listing-update"
	NameListingDelete = "listing-delete"
)

// FrameKind tells whether a frame carried one event or an array of them.
type FrameKind int

const (
	FrameSingle FrameKind = iota
	FrameBatch
)

func (k FrameKind) String() string {
	if k == FrameBatch {
		return "batch"
	}
	return "single"
}

// Kind is the classification of one event.
type Kind int

const (
	KindIgnored Kind = iota
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return NameListingUpdate
	case KindDelete:
		return NameListingDelete
	default:
		return "ignored"
	}
}

// Envelope is one event as sent on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Kind classifies the envelope by its event name.
func (e Envelope) Kind() Kind {
	return Classify(e.Event)
}

// Classify maps an event name to its Kind.
func Classify(name string) Kind {
	switch name {
	case NameListingUpdate:
		return KindUpdate
	case NameListingDelete:
		return KindDelete
	default:
		return KindIgnored
	}
}

// Frame is a decoded websocket text frame. The shape is decided once here
// so callers never re-inspect the raw JSON.
type Frame struct {
	Kind   FrameKind
	Events []Envelope
}

// ErrEmptyFrame is returned for frames with no JSON content.
var ErrEmptyFrame = errors.New("empty frame")

// DecodeFrame decodes a frame holding either one event object or an array of them.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	switch trimmed[0] {
	case '[':
		var events []Envelope
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return Frame{}, fmt.Errorf("failed to decode batch frame: %w", err)
		}
		return Frame{Kind: FrameBatch, Events: events}, nil
	case '{':
		var ev Envelope
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return Frame{}, fmt.Errorf("failed to decode event frame: %w", err)
		}
		return Frame{Kind: FrameSingle, Events: []Envelope{ev}}, nil
	default:
		return Frame{}, fmt.Errorf("unexpected frame start %q", trimmed[0])
	}
}
