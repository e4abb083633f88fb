// Package document extracts plain text from uploaded PDF and DOCX files so
// it can be synthesized.
package document

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-studio/internal/apperr"
	"github.com/lexiqai/voice-studio/internal/observability"
)

// Supported document types.
const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeZip  = "application/zip"
)

// DefaultMaxBytes limits uploads when no limit is configured.
const DefaultMaxBytes = 25 << 20

// Parser extracts text from a document of one type.
type Parser func(ctx context.Context, data []byte) (string, error)

// Options configures an Extractor. Nil parsers select the built-in ones.
type Options struct {
	MaxBytes int64
	PDF      Parser
	DOCX     Parser
}

// Result is the text extracted from one document.
type Result struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Extractor validates uploads and dispatches them to a parser.
type Extractor struct {
	maxBytes int64
	parsers  map[string]Parser
	logger   zerolog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(opts Options) *Extractor {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.PDF == nil {
		opts.PDF = ParsePDF
	}
	if opts.DOCX == nil {
		opts.DOCX = ParseDOCX
	}
	return &Extractor{
		maxBytes: opts.MaxBytes,
		parsers:  map[string]Parser{TypePDF: opts.PDF, TypeDOCX: opts.DOCX},
		logger:   observability.Component("document"),
	}
}

// Classify returns the document type of data. declaredType is the MIME type
// the client sent and may be empty. Anything that is not a PDF or DOCX is
// apperr.ErrUnsupportedMedia.
func (e *Extractor) Classify(data []byte, declaredType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", apperr.ErrInvalidInput)
	}
	if int64(len(data)) > e.maxBytes {
		return "", fmt.Errorf("%w: document is %d bytes, limit is %d", apperr.ErrInvalidInput, len(data), e.maxBytes)
	}

	declared := normalizeMIME(declaredType)
	switch declared {
	case "", mimePDF, mimeDOCX, "application/octet-stream":
	default:
		return "", fmt.Errorf("%w: %s", apperr.ErrUnsupportedMedia, declared)
	}

	detected := mimetype.Detect(data)
	var docType string
	switch {
	case detected.Is(mimePDF):
		docType = TypePDF
	case detected.Is(mimeDOCX):
		docType = TypeDOCX
	case detected.Is(mimeZip) && declared == mimeDOCX:
		// Some writers order zip entries so sniffing stops at zip.
		docType = TypeDOCX
	default:
		return "", fmt.Errorf("%w: detected %s", apperr.ErrUnsupportedMedia, detected.String())
	}

	if declared == mimePDF && docType != TypePDF || declared == mimeDOCX && docType != TypeDOCX {
		return "", fmt.Errorf("%w: declared %s but content is %s", apperr.ErrUnsupportedMedia, declared, detected.String())
	}
	return docType, nil
}

// Extract classifies data and returns its text. Unsupported types are
// rejected before any parser runs.
func (e *Extractor) Extract(ctx context.Context, data []byte, declaredType string) (Result, error) {
	docType, err := e.Classify(data, declaredType)
	if err != nil {
		observability.RecordExtraction("unsupported", false)
		e.logger.Info().Err(err).Str("declared_type", declaredType).Msg("Document rejected")
		return Result{}, err
	}

	text, err := e.parsers[docType](ctx, data)
	if err != nil {
		observability.RecordExtraction(docType, false)
		e.logger.Warn().Err(err).Str("type", docType).Msg("Document extraction failed")
		return Result{}, err
	}

	text = strings.TrimSpace(text)
	observability.RecordExtraction(docType, true)
	e.logger.Debug().Str("type", docType).Int("bytes", len(data)).Int("text_len", len(text)).Msg("Document extracted")
	return Result{Type: docType, Text: text}, nil
}

func normalizeMIME(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(t)
}
