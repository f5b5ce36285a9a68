package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// PDFExtractor pulls the plain text layer out of PDF documents, one page at a time.
type PDFExtractor struct{}

// ExtractBytes parses data as a PDF and joins the text of its pages.
// A PDF whose pages carry no text layer yields an empty string.
func (p *PDFExtractor) ExtractBytes(ctx context.Context, data []byte) (text string, err error) {
	// the parser panics on some malformed object graphs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", domain.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: parse pdf: %v", domain.ErrExtraction, err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", domain.ErrExtraction, i, err)
		}
		if content = strings.TrimSpace(content); content != "" {
			pages = append(pages, content)
		}
	}
	return strings.Join(pages, pageSeparator), nil
}
