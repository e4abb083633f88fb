// Package transcription owns streaming transcription sessions: the session
// state machine, the transcript fold and the record/upload operations that
// feed a session from a capture source.
package transcription

import (
	"strings"
	"sync"

	"github.com/lexiqai/voice-studio/internal/stt"
)

// TurnSeparator is appended at every turn boundary.
const TurnSeparator = " "

// Accumulator folds transcript events into a running transcript. Text is
// only ever appended.
type Accumulator struct {
	mu sync.RWMutex
	b  strings.Builder
}

// Apply folds ev into the transcript and returns the text it appended.
func (a *Accumulator) Apply(ev stt.Event) string {
	var delta string
	switch ev.Kind {
	case stt.EventPartialText:
		delta = ev.Text
	case stt.EventTurnComplete:
		delta = TurnSeparator
	}

	a.mu.Lock()
	a.b.WriteString(delta)
	a.mu.Unlock()
	return delta
}

func (a *Accumulator) String() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.b.String()
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.b.Reset()
	a.mu.Unlock()
}

// Fold applies events in order to an empty transcript.
func Fold(events []stt.Event) string {
	var a Accumulator
	for _, ev := range events {
		a.Apply(ev)
	}
	return a.String()
}
