// Package apperr defines the error taxonomy shared by the transcription and
// synthesis operations and the single user-facing message each class maps to.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrConfiguration means a required credential or setting is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrPermission means the microphone was refused or no input device exists.
	ErrPermission = errors.New("permission denied")

	// ErrDecode means uploaded audio or a document could not be decoded.
	ErrDecode = errors.New("decode error")

	// ErrUnsupportedMedia means an upload was rejected by type before any parsing.
	ErrUnsupportedMedia = errors.New("unsupported media type")

	// ErrSession means the streaming backend failed or dropped mid-stream.
	ErrSession = errors.New("session error")

	// ErrSynthesis means the text-to-speech call failed or returned no audio.
	ErrSynthesis = errors.New("synthesis error")

	// ErrInvalidInput is a caller error: empty buffers, blank text, bad rates.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind returns a short label for err suitable for metrics and log fields.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrSession):
		return "session"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// UserMessage converts err into the message shown to the user at the
// operation boundary. Internal details are never exposed.
func UserMessage(err error) string {
	switch Kind(err) {
	case "none":
		return ""
	case "configuration":
		return "The service is missing its API key. Set it and try again."
	case "permission":
		return "Microphone access was denied or no microphone was found."
	case "unsupported_media":
		return "This file type is not supported."
	case "decode":
		return "The file could not be read. It may be corrupt or use an unsupported codec."
	case "session":
		return "The transcription connection was lost. Please try again."
	case "synthesis":
		return "Audio could not be generated. Please try again."
	case "invalid_input":
		return "The request was empty or invalid."
	default:
		return "Something went wrong. Please try again."
	}
}

// HTTPStatus maps err to the status code used by the REST handlers.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "none":
		return http.StatusOK
	case "configuration":
		return http.StatusServiceUnavailable
	case "permission":
		return http.StatusForbidden
	case "unsupported_media":
		return http.StatusUnsupportedMediaType
	case "decode", "invalid_input":
		return http.StatusBadRequest
	case "session", "synthesis":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
