// Package stt adapts streaming speech-recognition services to a single
// connect/send/receive contract.
package stt

import (
	"context"

	"github.com/lexiqai/voice-studio/internal/audio"
)

// EventKind tags a transcript event.
type EventKind int

const (
	// EventPartialText carries an incremental text delta.
	EventPartialText EventKind = iota
	// EventTurnComplete marks the end of a recognition turn.
	EventTurnComplete
)

func (k EventKind) String() string {
	switch k {
	case EventPartialText:
		return "partial_text"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Event is one transcript event, applied in the order it was received.
type Event struct {
	Kind EventKind
	Text string
}

// PartialText returns a text delta event.
func PartialText(s string) Event {
	return Event{Kind: EventPartialText, Text: s}
}

// TurnComplete returns a turn boundary event.
func TurnComplete() Event {
	return Event{Kind: EventTurnComplete}
}

// Backend opens streaming transcription sessions.
type Backend interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Connect returns once the service has accepted the session.
	Connect(ctx context.Context) (Stream, error)
}

// Stream is one open transcription session.
type Stream interface {
	// Send forwards one encoded unit. Units must be sent in capture order.
	Send(ctx context.Context, unit audio.EncodedUnit) error

	// Receive blocks until the next event. It returns io.EOF once the
	// service ends the stream or Close has been called.
	Receive(ctx context.Context) (Event, error)

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// StreamEnder is implemented by streams that can tell the service no more
// audio follows, so trailing results are flushed.
type StreamEnder interface {
	EndStream(ctx context.Context) error
}
