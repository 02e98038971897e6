package render

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// Keep pdfcpu from creating a configuration directory on first use.
	api.DisableConfigDir()
}

// PageCount validates data in relaxed mode and returns its page count.
func PageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}

// PDFPreflight returns a Preflight that rejects documents pdfcpu cannot
// parse, documents without pages, and documents with more than maxPages
// pages when maxPages is positive.
func PDFPreflight(maxPages int) Preflight {
	return func(data []byte) error {
		n, err := PageCount(data)
		if err != nil {
			return fmt.Errorf("invalid pdf: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("invalid pdf: no pages")
		}
		if maxPages > 0 && n > maxPages {
			return fmt.Errorf("pdf has %d pages, limit is %d", n, maxPages)
		}
		return nil
	}
}
