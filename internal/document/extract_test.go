package document

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/lexiqai/voice-studio/internal/apperr"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>
<w:p><w:r><w:t>Name</w:t><w:tab/><w:t>Value</w:t><w:br/><w:t>Next</w:t></w:r></w:p>
</w:body>
</w:document>`

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct{ name, content string }{
		{"[Content_Types].xml", `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`},
		{"word/document.xml", body},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(f.content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

type countingParser struct {
	calls atomic.Int32
	text  string
}

func (p *countingParser) parse(ctx context.Context, data []byte) (string, error) {
	p.calls.Add(1)
	return p.text, nil
}

func TestExtract_UnsupportedNeverParses(t *testing.T) {
	pdfParser := &countingParser{text: "pdf"}
	docxParser := &countingParser{text: "docx"}
	e := NewExtractor(Options{PDF: pdfParser.parse, DOCX: docxParser.parse})

	tests := []struct {
		name     string
		data     []byte
		declared string
	}{
		{"plain text", []byte("just some notes"), "text/plain"},
		{"png declared", []byte("%PDF-1.4\n"), "image/png"},
		{"png bytes", []byte("\x89PNG\r\n\x1a\n0000"), ""},
		{"pdf declared but text", []byte("hello there"), "application/pdf"},
		{"docx declared but pdf", []byte("%PDF-1.4\n"), mimeDOCX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), tt.data, tt.declared)
			if !errors.Is(err, apperr.ErrUnsupportedMedia) {
				t.Errorf("Expected unsupported media, got %v", err)
			}
		})
	}

	if n := pdfParser.calls.Load() + docxParser.calls.Load(); n != 0 {
		t.Errorf("Expected no parser calls, got %d", n)
	}
}

func TestExtract_InvalidInput(t *testing.T) {
	e := NewExtractor(Options{MaxBytes: 8})

	if _, err := e.Extract(context.Background(), nil, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected invalid input for empty data, got %v", err)
	}
	if _, err := e.Extract(context.Background(), []byte("%PDF-1.4 too long"), ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Expected invalid input for oversize data, got %v", err)
	}
}

func TestExtract_RoutesPDF(t *testing.T) {
	pdfParser := &countingParser{text: "  page one  "}
	docxParser := &countingParser{}
	e := NewExtractor(Options{PDF: pdfParser.parse, DOCX: docxParser.parse})

	res, err := e.Extract(context.Background(), []byte("%PDF-1.7\n%fake"), "application/pdf; name=a.pdf")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Type != TypePDF || res.Text != "page one" {
		t.Errorf("Unexpected result %+v", res)
	}
	if pdfParser.calls.Load() != 1 || docxParser.calls.Load() != 0 {
		t.Errorf("Expected one PDF parse, got pdf=%d docx=%d", pdfParser.calls.Load(), docxParser.calls.Load())
	}
}

func TestExtract_DOCX(t *testing.T) {
	e := NewExtractor(Options{})
	data := buildDOCX(t, documentXML)

	res, err := e.Extract(context.Background(), data, mimeDOCX)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if res.Type != TypeDOCX {
		t.Errorf("Expected docx, got %q", res.Type)
	}
	want := "Hello world\nName\tValue\nNext"
	if res.Text != want {
		t.Errorf("Expected %q, got %q", want, res.Text)
	}
}

func TestParseDOCX_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not a zip", []byte("PK\x03\x04broken")},
		{"missing body", func() []byte {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			w, _ := zw.Create("word/styles.xml")
			w.Write([]byte("<styles/>"))
			zw.Close()
			return buf.Bytes()
		}()},
		{"bad xml", buildDOCX(t, "<w:document><w:body><w:p>")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDOCX(context.Background(), tt.data); !errors.Is(err, apperr.ErrDecode) {
				t.Errorf("Expected decode error, got %v", err)
			}
		})
	}
}

func TestParsePDF_Corrupt(t *testing.T) {
	_, err := ParsePDF(context.Background(), []byte("%PDF-1.4\nthis is not really a pdf"))
	if !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("Expected decode error, got %v", err)
	}
}

func TestExtract_CorruptPDF(t *testing.T) {
	e := NewExtractor(Options{})
	_, err := e.Extract(context.Background(), []byte("%PDF-1.4\ngarbage"), "")
	if !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("Expected decode error, got %v", err)
	}
}
