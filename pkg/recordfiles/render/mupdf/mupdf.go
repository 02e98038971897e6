// Package mupdf opens PDFs with MuPDF through go-fitz.
package mupdf

import (
	"image"

	"github.com/gen2brain/go-fitz"

	"github.com/tendant/record-files/pkg/recordfiles/render"
)

// Opener implements render.PDFOpener.
type Opener struct{}

var _ render.PDFOpener = Opener{}

// OpenPDF opens data. The returned document must be closed.
func (Opener) OpenPDF(data []byte) (render.PDFDocument, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return &document{doc: doc}, nil
}

type document struct {
	doc *fitz.Document
}

func (d *document) NumPage() int {
	return d.doc.NumPage()
}

// PageSize returns the page bounds in points. go-fitz exposes them as an
// integer rectangle, so fractional sizes (A4 is 595.28 x 841.89) come back
// truncated; the thumbnail renderer fits the raster back into its box.
func (d *document) PageSize(page int) (float64, float64, error) {
	bounds, err := d.doc.Bound(page)
	if err != nil {
		return 0, 0, err
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

func (d *document) RenderPage(page int, scale float64) (image.Image, error) {
	return d.doc.ImageDPI(page, 72*scale)
}

func (d *document) PageText(page int) (string, error) {
	return d.doc.Text(page)
}

func (d *document) Close() error {
	return d.doc.Close()
}
