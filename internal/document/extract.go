package document

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/howard-nolan/docchat/internal/apperr"
)

// Extractor turns document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// PDFExtractor extracts text with github.com/ledongthuc/pdf.
type PDFExtractor struct{}

// Extract returns the plain text of every page, in page order. Corrupt,
// truncated and encrypted PDFs fail with a KindParse error.
func (PDFExtractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	const op = "document.Extract"

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The pdf package panics on some malformed inputs instead of
	// returning an error.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", apperr.Errorf(apperr.KindParse, op, "malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperr.New(apperr.KindParse, op, fmt.Errorf("opening pdf: %w", err))
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", apperr.New(apperr.KindParse, op, fmt.Errorf("extracting text: %w", err))
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", apperr.New(apperr.KindParse, op, fmt.Errorf("reading text: %w", err))
	}
	return buf.String(), nil
}
