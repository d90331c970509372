// Package pdftext extracts per-page plain text from PDF documents.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/obscura/internal/textredact"
	"github.com/ledongthuc/pdf"
)

// Native extracts text in-process.
type Native struct{}

func (Native) Text(ctx context.Context, data []byte) (pages []string, err error) {
	// The parser panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// WithFallback tries Primary and, on error, Fallback.
type WithFallback struct {
	Primary  textredact.TextExtractor
	Fallback textredact.TextExtractor
	Logger   *slog.Logger
}

func (f WithFallback) Text(ctx context.Context, data []byte) ([]string, error) {
	pages, err := f.Primary.Text(ctx, data)
	if err == nil || f.Fallback == nil {
		return pages, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("native text extraction failed, using model worker", "error", err)
	return f.Fallback.Text(ctx, data)
}
