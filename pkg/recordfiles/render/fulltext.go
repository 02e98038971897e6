package render

import (
	"context"
	"strings"
)

// FulltextExtractor extracts the text of PDFs, one page after the other
// joined by newlines.
type FulltextExtractor struct {
	pdf       PDFOpener
	preflight Preflight
}

// NewFulltextExtractor creates an extractor reading PDFs through opener.
// preflight may be nil.
func NewFulltextExtractor(opener PDFOpener, preflight Preflight) *FulltextExtractor {
	return &FulltextExtractor{pdf: opener, preflight: preflight}
}

// Supports reports whether Extract handles mimeType.
func (e *FulltextExtractor) Supports(mimeType string) bool {
	return mimeType == MimeTypePDF && e.pdf != nil
}

// Extract returns the text of data, or "" without error when the mimetype
// is not supported.
func (e *FulltextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !e.Supports(mimeType) {
		return "", nil
	}
	text, err := e.extract(ctx, data)
	if err != nil {
		return "", &Error{Op: "extract", MimeType: mimeType, Err: err}
	}
	return text, nil
}

func (e *FulltextExtractor) extract(ctx context.Context, data []byte) (string, error) {
	if e.preflight != nil {
		if err := e.preflight(data); err != nil {
			return "", err
		}
	}
	doc, err := e.pdf.OpenPDF(data)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.PageText(i)
		if err != nil {
			return "", err
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
