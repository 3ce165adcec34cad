// Package preview renders template pages as PNG images for the mapping
// editor, which needs to see the page to position coordinate fields.
package preview

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// PageRenderer converts single PDF pages to PNG.
type PageRenderer struct {
	logger *zap.Logger
}

// NewPageRenderer creates a new page renderer.
func NewPageRenderer(logger *zap.Logger) *PageRenderer {
	return &PageRenderer{logger: logger}
}

// RenderPage rasterizes the zero-based page of the given PDF bytes as PNG.
func (r *PageRenderer) RenderPage(pdfBytes []byte, page int) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range [0, %d)", page, doc.NumPage())
	}

	img, err := doc.Image(page)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize page %d: %w", page, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}

	r.logger.Debug("Page preview rendered",
		zap.Int("page", page),
		zap.Int("size_bytes", buf.Len()))
	return buf.Bytes(), nil
}
