package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"
	"math"
	"strings"

	// Decoders for image.Decode
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/nfnt/resize"
)

// Thumbnail defaults.
const (
	DefaultThumbnailWidth = 200
	DefaultPDFBox         = 200
	DefaultImageQuality   = 90
	DefaultPDFQuality     = 95
)

// ThumbnailRenderer renders JPEG thumbnails. Images are flattened onto
// white and resized to a fixed width; PDFs have their first page
// rasterized to fit a square box.
type ThumbnailRenderer struct {
	width        int
	box          int
	imageQuality int
	pdfQuality   int
	pdf          PDFOpener
	preflight    Preflight
}

// ThumbnailOption configures a ThumbnailRenderer
type ThumbnailOption func(*ThumbnailRenderer)

// WithWidth sets the width of image thumbnails.
func WithWidth(width int) ThumbnailOption {
	return func(r *ThumbnailRenderer) { r.width = width }
}

// WithPDFBox sets the side of the box PDF pages are scaled into.
func WithPDFBox(box int) ThumbnailOption {
	return func(r *ThumbnailRenderer) { r.box = box }
}

// WithImageQuality sets the JPEG quality of image thumbnails.
func WithImageQuality(quality int) ThumbnailOption {
	return func(r *ThumbnailRenderer) { r.imageQuality = quality }
}

// WithPDFOpener enables PDF thumbnails.
func WithPDFOpener(opener PDFOpener) ThumbnailOption {
	return func(r *ThumbnailRenderer) { r.pdf = opener }
}

// WithPreflight checks PDFs before they are opened.
func WithPreflight(preflight Preflight) ThumbnailOption {
	return func(r *ThumbnailRenderer) { r.preflight = preflight }
}

// NewThumbnailRenderer creates a renderer. Without a PDF opener only
// images are supported.
func NewThumbnailRenderer(opts ...ThumbnailOption) *ThumbnailRenderer {
	r := &ThumbnailRenderer{
		width:        DefaultThumbnailWidth,
		box:          DefaultPDFBox,
		imageQuality: DefaultImageQuality,
		pdfQuality:   DefaultPDFQuality,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Supports reports whether Render produces a thumbnail for mimeType.
func (r *ThumbnailRenderer) Supports(mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	return mimeType == MimeTypePDF && r.pdf != nil
}

// Render returns the JPEG thumbnail of data, or nil without error when the
// mimetype is not supported.
func (r *ThumbnailRenderer) Render(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	if !r.Supports(mimeType) {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	var err error
	if mimeType == MimeTypePDF {
		out, err = r.renderPDF(data)
	} else {
		out, err = r.renderImage(data)
	}
	if err != nil {
		return nil, &Error{Op: "render", MimeType: mimeType, Err: err}
	}
	return out, nil
}

func (r *ThumbnailRenderer) renderImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := resize.Resize(uint(r.width), 0, flatten(img), resize.Lanczos3)
	return encodeJPEG(thumb, r.imageQuality)
}

func (r *ThumbnailRenderer) renderPDF(data []byte) ([]byte, error) {
	if r.preflight != nil {
		if err := r.preflight(data); err != nil {
			return nil, err
		}
	}
	doc, err := r.pdf.OpenPDF(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, errors.New("document has no pages")
	}
	width, height, err := doc.PageSize(0)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, errors.New("first page has no area")
	}
	box := float64(r.box)
	scale := math.Min(box/width, box/height)

	page, err := doc.RenderPage(0, scale)
	if err != nil {
		return nil, err
	}
	// Backends may report rounded page sizes and overshoot the box by a pixel.
	if b := page.Bounds(); b.Dx() > r.box || b.Dy() > r.box {
		page = resize.Thumbnail(uint(r.box), uint(r.box), page, resize.Lanczos3)
	}
	return encodeJPEG(flatten(page), r.pdfQuality)
}

// flatten draws img over an opaque white background, dropping alpha.
func flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
