package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// TextExtractor reads UTF-8 text and markdown files. Line endings are
// normalised to "\n" and form feeds become page separators.
type TextExtractor struct{}

// ExtractBytes decodes data as UTF-8 text.
func (t *TextExtractor) ExtractBytes(_ context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", domain.ErrExtraction)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", pageSeparator)
	return text, nil
}
