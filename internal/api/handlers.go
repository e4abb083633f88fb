package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

const (
	uploadField     = "file"
	multipartMemory = 8 << 20
	formOverhead    = 1 << 20
	maxSpeechBody   = 1 << 20
)

// upload is one multipart file read fully into memory.
type upload struct {
	name        string
	contentType string
	data        []byte
}

// readUpload reads the "file" part of a multipart request, enforcing the
// configured size limit.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, fmt.Errorf("%w: upload exceeds %d bytes", apperr.ErrInvalidInput, s.opts.MaxUploadBytes)
		}
		return upload{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return upload{}, fmt.Errorf("%w: missing %q form field", apperr.ErrInvalidInput, uploadField)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		return upload{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		return upload{}, fmt.Errorf("%w: upload exceeds %d bytes", apperr.ErrInvalidInput, s.opts.MaxUploadBytes)
	}
	if len(data) == 0 {
		return upload{}, fmt.Errorf("%w: empty upload", apperr.ErrInvalidInput)
	}

	return upload{
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, nil
}

// handleTranscription transcribes an uploaded audio file and answers with
// the final transcript.
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	op, err := s.transcriber.StartUpload(r.Context(), nil, up.data, s.opts.Upload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	transcript, err := op.Wait()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info().
		Str("file", up.name).
		Int("bytes", len(up.data)).
		Int("transcript_len", len(transcript)).
		Dur("duration", time.Since(start)).
		Msg("Upload transcribed")
	writeJSON(w, http.StatusOK, transcriptionResponse{Transcript: transcript})
}

func (s *Server) handleCreateSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeechBody))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err))
		return
	}

	handle, err := s.speech.Generate(r.Context(), req.Text, req.Replaces)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *Server) handleGetSpeech(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, ok := s.speech.Store().Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "This audio is no longer available.", Kind: "not_found"})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, p.ID+".wav", p.Created, bytes.NewReader(p.WAV))
	logRequest(s.logger, r, start, http.StatusOK)
}

func (s *Server) handleDeleteSpeech(w http.ResponseWriter, r *http.Request) {
	if !s.speech.Store().Revoke(r.PathValue("id")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "This audio is no longer available.", Kind: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDocument extracts the text of an uploaded PDF or DOCX.
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.documents.Extract(r.Context(), up.data, up.contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	logRequest(s.logger, r, start, http.StatusOK)
}
