package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/audio"
	"github.com/lexiqai/voice-studio/internal/capture"
	"github.com/lexiqai/voice-studio/internal/observability"
	"github.com/lexiqai/voice-studio/internal/transcription"
)

const (
	writeWait      = 10 * time.Second
	readLimitSlack = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The studio is served from the same origin in production; allow all
		// origins so the dev server on another port can connect.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// streamClient is one browser on the transcription socket. It owns at most
// one operation at a time.
type streamClient struct {
	srv    *Server
	conn   *websocket.Conn
	id     string
	logger zerolog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup

	// Owned by the read loop.
	op          transcription.Operation
	device      *capture.StreamDevice
	awaitUpload bool
	uploadName  string
}

// HandleTranscribeWS upgrades the request and serves record and upload
// operations until the socket closes. Closing the socket stops whatever
// is running and releases the microphone.
func (s *Server) HandleTranscribeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	id := observability.NewCorrelationID()
	c := &streamClient{
		srv:    s,
		conn:   conn,
		id:     id,
		logger: observability.WithCorrelationID(id).With().Str("component", "api").Logger(),
	}
	conn.SetReadLimit(s.opts.MaxUploadBytes + readLimitSlack)

	// The hijacked connection outlives the request context.
	ctx, cancel := context.WithCancel(observability.IntoContext(context.Background(), c.logger))
	defer cancel()

	c.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Transcription socket connected")
	c.serve(ctx)
}

func (c *streamClient) serve(ctx context.Context) {
	defer c.teardown()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Transcription socket closed unexpectedly")
			} else {
				c.logger.Info().Msg("Transcription socket closed")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleControl(ctx, data)
		case websocket.BinaryMessage:
			c.handleBinary(ctx, data)
		}
	}
}

func (c *streamClient) handleControl(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", fmt.Errorf("%w: malformed message: %w", apperr.ErrInvalidInput, err))
		return
	}

	switch msg.Type {
	case MsgRecord:
		c.startRecording(ctx, msg)
	case MsgUpload:
		c.awaitUpload = true
		c.uploadName = msg.Name
	case MsgStop:
		c.stop()
	default:
		c.sendError("", fmt.Errorf("%w: unknown message type %q", apperr.ErrInvalidInput, msg.Type))
	}
}

func (c *streamClient) handleBinary(ctx context.Context, data []byte) {
	if c.awaitUpload {
		c.awaitUpload = false
		c.startUpload(ctx, data)
		return
	}

	if c.device == nil {
		c.logger.Debug().Int("bytes", len(data)).Msg("Dropping audio frame without an active recording")
		return
	}
	samples, err := audio.DecodeFloat32LE(data)
	if err != nil {
		c.sendError(transcription.ModeLive, err)
		return
	}
	if !c.device.Push(samples) {
		c.logger.Debug().Int("samples", len(samples)).Msg("Capture frame dropped")
	}
}

// startRecording replaces the current operation with a live recording fed
// by the socket's binary frames.
func (c *streamClient) startRecording(ctx context.Context, msg ClientMessage) {
	c.awaitUpload = false
	c.releaseDevice()

	device := capture.NewStreamDevice(c.srv.opts.DeviceBuffer)
	var err error
	if msg.Error != "" {
		err = device.Deny(msg.Error)
	} else {
		err = device.Grant(msg.SampleRate)
	}
	if err != nil {
		c.sendError(transcription.ModeLive, err)
		return
	}

	opts := c.srv.opts.Recording
	opts.OnActivity = func(a audio.Activity) { c.send(activityMessage(a)) }

	prior := c.op
	c.op = nil
	rec, err := c.srv.transcriber.StartRecording(ctx, prior, device, opts)
	if err != nil {
		device.End()
		c.sendError(transcription.ModeLive, err)
		return
	}

	c.op = rec
	c.device = device
	c.forward(transcription.ModeLive, rec.Session(), func() (string, error) {
		<-rec.Done()
		return rec.Transcript(), rec.Err()
	})
}

// startUpload replaces the current operation with a transcription of data.
func (c *streamClient) startUpload(ctx context.Context, data []byte) {
	c.releaseDevice()

	c.logger.Info().Str("file", c.uploadName).Int("bytes", len(data)).Msg("Upload received")
	prior := c.op
	c.op = nil
	up, err := c.srv.transcriber.StartUpload(ctx, prior, data, c.srv.opts.Upload)
	if err != nil {
		c.sendError(transcription.ModeFile, err)
		return
	}

	c.op = up
	c.forward(transcription.ModeFile, up.Session(), up.Wait)
}

// forward relays session updates to the browser, then reports the outcome.
func (c *streamClient) forward(mode string, session *transcription.Session, result func() (string, error)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for u := range session.Updates() {
			if u.Delta != "" {
				c.send(transcriptMessage(mode, u))
				continue
			}
			c.send(stateMessage(mode, session.ID(), u))
		}

		transcript, err := result()
		if err != nil && !errors.Is(err, transcription.ErrStopped) {
			c.sendError(mode, err)
			return
		}
		c.send(doneMessage(mode, transcript))
	}()
}

func (c *streamClient) stop() {
	c.awaitUpload = false
	if c.op != nil {
		_ = c.op.Stop()
		<-c.op.Done()
		c.op = nil
	}
	c.releaseDevice()
}

func (c *streamClient) releaseDevice() {
	if c.device != nil {
		c.device.End()
		c.device = nil
	}
}

// teardown runs when the socket closes.
func (c *streamClient) teardown() {
	c.stop()
	c.wg.Wait()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
	c.logger.Debug().Msg("Transcription socket released")
}

func (c *streamClient) send(msg ServerMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write socket message")
	}
}

func (c *streamClient) sendError(mode string, err error) {
	observability.RecordError(apperr.Kind(err), "api")
	c.logger.Warn().Err(err).Str("mode", mode).Msg("Operation failed")
	c.send(errorMessage(mode, err))
}
