package api

import (
	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/transcription"
)

// Client message types on the transcription socket.
const (
	MsgRecord = "record"
	MsgUpload = "upload"
	MsgStop   = "stop"
)

// Server message types on the transcription socket.
const (
	MsgState      = "state"
	MsgTranscript = "transcript"
	MsgActivity   = "activity"
	MsgError      = "error"
	MsgDone       = "done"
)

// ClientMessage is a JSON control message from the browser. Audio arrives
// in binary frames between control messages.
type ClientMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate,omitempty"` // record: capture rate of the binary frames
	Error      string `json:"error,omitempty"`      // record: microphone was refused
	Name       string `json:"name,omitempty"`       // upload: file name, next binary message is the file
}

// ServerMessage is sent to the browser as JSON.
type ServerMessage struct {
	Type       string   `json:"type"`
	Mode       string   `json:"mode,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	State      string   `json:"state,omitempty"`
	Delta      string   `json:"delta,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Speaking   *bool    `json:"speaking,omitempty"`
	Level      *float64 `json:"level,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func stateMessage(mode, sessionID string, u transcription.Update) ServerMessage {
	return ServerMessage{
		Type:      MsgState,
		Mode:      mode,
		SessionID: sessionID,
		State:     u.State.String(),
	}
}

func transcriptMessage(mode string, u transcription.Update) ServerMessage {
	return ServerMessage{
		Type:       MsgTranscript,
		Mode:       mode,
		Delta:      u.Delta,
		Transcript: u.Transcript,
	}
}

func activityMessage(a audio.Activity) ServerMessage {
	speaking, level := a.Speaking, a.Level
	return ServerMessage{Type: MsgActivity, Mode: transcription.ModeLive, Speaking: &speaking, Level: &level}
}

func errorMessage(mode string, err error) ServerMessage {
	return ServerMessage{
		Type:    MsgError,
		Mode:    mode,
		Kind:    apperr.Kind(err),
		Message: apperr.UserMessage(err),
	}
}

func doneMessage(mode, transcript string) ServerMessage {
	return ServerMessage{Type: MsgDone, Mode: mode, Transcript: transcript}
}

// errorResponse is the body of every failed REST call.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type transcriptionResponse struct {
	Transcript string `json:"transcript"`
}

type speechRequest struct {
	Text     string `json:"text"`
	Replaces string `json:"replaces,omitempty"`
}
