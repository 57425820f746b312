// Package pdf extracts plain text from paper PDFs.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

var ErrNoText = errors.New("pdf contains no extractable text")

type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the text of every page, each followed by a newline.
// Pages that fail to decode are skipped with a warning.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable pdf page", "path", path, "page", i, "error", err)
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	if strings.TrimSpace(buf.String()) == "" {
		return "", fmt.Errorf("%s: %w", path, ErrNoText)
	}
	return buf.String(), nil
}
