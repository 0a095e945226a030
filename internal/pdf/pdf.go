// Package pdf counts pages and extracts inclusive page ranges from PDF bytes.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Document is a parsed source PDF held in memory.
type Document struct {
	data  []byte
	pages int
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open reads the page count of data.
func Open(data []byte) (*Document, error) {
	n, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return &Document{data: data, pages: n}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pages
}

// Extract returns a new PDF holding pages start through end (1-based,
// inclusive). It is safe to call concurrently.
func (d *Document) Extract(start, end int) ([]byte, error) {
	if start < 1 || end < start || end > d.pages {
		return nil, fmt.Errorf("invalid page range %d-%d for %d-page document", start, end, d.pages)
	}

	var out bytes.Buffer
	sel := []string{fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		sel = []string{fmt.Sprintf("%d", start)}
	}
	if err := api.Trim(bytes.NewReader(d.data), &out, sel, newConfig()); err != nil {
		return nil, fmt.Errorf("failed to extract pages %d-%d: %w", start, end, err)
	}
	return out.Bytes(), nil
}

// PageCount is a convenience for a one-off count.
func PageCount(data []byte) (int, error) {
	doc, err := Open(data)
	if err != nil {
		return 0, err
	}
	return doc.PageCount(), nil
}

// ExtractRange is a convenience for a one-off extraction.
func ExtractRange(data []byte, start, end int) ([]byte, error) {
	doc, err := Open(data)
	if err != nil {
		return nil, err
	}
	return doc.Extract(start, end)
}
