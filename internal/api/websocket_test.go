package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-studio/internal/audio"
)

func dialTranscribe(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/streams/transcribe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func ofType(typ string) func(ServerMessage) bool {
	return func(m ServerMessage) bool { return m.Type == typ }
}

func inState(state string) func(ServerMessage) bool {
	return func(m ServerMessage) bool { return m.Type == MsgState && m.State == state }
}

func TestTranscribeWS_RecordAndStop(t *testing.T) {
	b := &fakeBackend{}
	conn := dialTranscribe(t, newTestServer(t, b, "key"))

	if err := conn.WriteJSON(ClientMessage{Type: MsgRecord, SampleRate: 16000}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	open := readUntil(t, conn, inState("open"))
	if open.SessionID == "" || open.Mode != "live" {
		t.Errorf("Unexpected open message %+v", open)
	}

	frame := audio.EncodeFloat32LE(make([]float32, 1024))
	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
	}
	st := b.stream(t, 0)
	waitFor(t, func() bool { return st.unitCount() == 3 })

	if err := conn.WriteJSON(ClientMessage{Type: MsgStop}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	readUntil(t, conn, ofType(MsgDone))
	if !st.isClosed() {
		t.Error("Expected backend stream to be closed after stop")
	}
}

func TestTranscribeWS_PermissionDenied(t *testing.T) {
	b := &fakeBackend{}
	conn := dialTranscribe(t, newTestServer(t, b, "key"))

	conn.WriteJSON(ClientMessage{Type: MsgRecord, Error: "NotAllowedError"})
	msg := readUntil(t, conn, ofType(MsgError))
	if msg.Kind != "permission" || msg.Message == "" {
		t.Errorf("Unexpected error message %+v", msg)
	}
	if b.connectCount() != 0 {
		t.Errorf("Expected zero connect calls for a refused microphone, got %d", b.connectCount())
	}
}

func TestTranscribeWS_MissingCredential(t *testing.T) {
	b := &fakeBackend{}
	conn := dialTranscribe(t, newTestServer(t, b, ""))

	conn.WriteJSON(ClientMessage{Type: MsgRecord, SampleRate: 48000})
	msg := readUntil(t, conn, ofType(MsgError))
	if msg.Kind != "configuration" {
		t.Errorf("Expected configuration error, got %+v", msg)
	}
	if b.connectCount() != 0 {
		t.Errorf("Expected zero connect calls, got %d", b.connectCount())
	}
}

func TestTranscribeWS_Upload(t *testing.T) {
	b := &fakeBackend{flush: helloWorld}
	conn := dialTranscribe(t, newTestServer(t, b, "key"))

	conn.WriteJSON(ClientMessage{Type: MsgUpload, Name: "clip.wav"})
	conn.WriteMessage(websocket.BinaryMessage, testWAV(t, 8000))

	var deltas []string
	done := readUntil(t, conn, func(m ServerMessage) bool {
		if m.Type == MsgTranscript {
			deltas = append(deltas, m.Delta)
		}
		return m.Type == MsgDone
	})
	if done.Transcript != "hello world" || done.Mode != "file" {
		t.Errorf("Unexpected done message %+v", done)
	}
	if strings.Join(deltas, "") != "hello world" {
		t.Errorf("Expected deltas to build the transcript, got %q", deltas)
	}
}

func TestTranscribeWS_SecondRecordingReplacesFirst(t *testing.T) {
	b := &fakeBackend{}
	conn := dialTranscribe(t, newTestServer(t, b, "key"))

	conn.WriteJSON(ClientMessage{Type: MsgRecord, SampleRate: 16000})
	first := readUntil(t, conn, inState("open")).SessionID

	conn.WriteJSON(ClientMessage{Type: MsgRecord, SampleRate: 16000})
	second := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == MsgState && m.State == "open" && m.SessionID != first
	})
	if second.SessionID == "" {
		t.Fatal("Expected a new session")
	}
	if !b.stream(t, 0).isClosed() {
		t.Error("Expected the first stream to be closed before the second opened")
	}
}

func TestTranscribeWS_CloseReleasesSession(t *testing.T) {
	b := &fakeBackend{}
	conn := dialTranscribe(t, newTestServer(t, b, "key"))

	conn.WriteJSON(ClientMessage{Type: MsgRecord, SampleRate: 16000})
	readUntil(t, conn, inState("open"))
	st := b.stream(t, 0)

	conn.Close()
	waitFor(t, st.isClosed)
}

func TestTranscribeWS_UnknownMessage(t *testing.T) {
	conn := dialTranscribe(t, newTestServer(t, &fakeBackend{}, "key"))

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	if msg := readUntil(t, conn, ofType(MsgError)); msg.Kind != "invalid_input" {
		t.Errorf("Expected invalid input, got %+v", msg)
	}
}
