// Package render produces the bytes of derived artifacts: JPEG thumbnails
// of images and PDFs, and the plain text of PDFs.
//
// Rendering backends for PDFs are consumed through PDFOpener so the
// package itself stays free of cgo. See the mupdf subpackage for the
// production backend.
package render

import (
	"errors"
	"fmt"
	"image"
)

// MimeTypePDF is the only document mimetype handled.
const MimeTypePDF = "application/pdf"

var (
	// ErrRenderFailed matches every thumbnail rendering failure
	ErrRenderFailed = errors.New("thumbnail rendering failed")

	// ErrExtractFailed matches every text extraction failure
	ErrExtractFailed = errors.New("fulltext extraction failed")
)

// Error reports a failure to produce an artifact from a source of the
// given mimetype. It matches ErrRenderFailed or ErrExtractFailed.
type Error struct {
	Op       string // "render" or "extract"
	MimeType string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.MimeType, e.Err)
}

// Unwrap exposes both the sentinel of the operation and the cause.
func (e *Error) Unwrap() []error {
	sentinel := ErrRenderFailed
	if e.Op == "extract" {
		sentinel = ErrExtractFailed
	}
	return []error{sentinel, e.Err}
}

// PDFDocument is an opened PDF. Pages are numbered from 0.
type PDFDocument interface {
	NumPage() int
	// PageSize returns the page dimensions in points.
	PageSize(page int) (width, height float64, err error)
	// RenderPage rasterizes a page at scale, 1 being 72 DPI.
	RenderPage(page int, scale float64) (image.Image, error)
	PageText(page int) (string, error)
	Close() error
}

// PDFOpener opens PDF documents held in memory.
type PDFOpener interface {
	OpenPDF(data []byte) (PDFDocument, error)
}

// PDFOpenerFunc adapts a function to PDFOpener.
type PDFOpenerFunc func(data []byte) (PDFDocument, error)

// OpenPDF calls f.
func (f PDFOpenerFunc) OpenPDF(data []byte) (PDFDocument, error) {
	return f(data)
}

// Preflight checks a PDF before it reaches a rendering backend.
type Preflight func(data []byte) error
