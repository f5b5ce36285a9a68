package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docqa/internal/domain"
)

// DefaultMaxBytes caps the size of a document read into memory.
const DefaultMaxBytes int64 = 64 << 20

// pageSeparator joins page texts so page boundaries survive as blank lines.
const pageSeparator = "\n\n"

// Config configures the extractor.
type Config struct {
	MaxBytes int64
}

// Extractor dispatches on file extension: PDFs go through the PDF parser,
// everything else is treated as UTF-8 text.
type Extractor struct {
	maxBytes int64
	pdf      *PDFExtractor
	text     *TextExtractor
}

var _ domain.Extractor = (*Extractor)(nil)

// New creates an extractor with the given limits.
func New(cfg Config) *Extractor {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Extractor{
		maxBytes: cfg.MaxBytes,
		pdf:      &PDFExtractor{},
		text:     &TextExtractor{},
	}
}

// Extract returns the plain text of doc.
func (e *Extractor) Extract(ctx context.Context, doc domain.SourceDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := e.load(doc)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(doc.Path), ".pdf") {
		return e.pdf.ExtractBytes(ctx, data)
	}
	return e.text.ExtractBytes(ctx, data)
}

func (e *Extractor) load(doc domain.SourceDocument) ([]byte, error) {
	data := doc.Data
	if data == nil {
		if doc.Path == "" {
			return nil, fmt.Errorf("%w: document has neither path nor data", domain.ErrExtraction)
		}
		f, err := os.Open(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrExtraction, doc.Path, err)
		}
		defer f.Close()
		data, err = io.ReadAll(io.LimitReader(f, e.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", domain.ErrExtraction, doc.Path, err)
		}
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrExtraction, doc.Path, e.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrExtraction, doc.Path)
	}
	return data, nil
}
