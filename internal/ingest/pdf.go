// Package ingest turns uploaded PDF bytes into page-level text.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"pdfchat/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// PDF extracts plain text from every page of a PDF document.
type PDF struct{}

// NewPDF creates a PDF extractor.
func NewPDF() *PDF { return &PDF{} }

// ExtractFile reads the file at path and extracts its pages.
func (p *PDF) ExtractFile(ctx context.Context, path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.IngestError{Reason: "read " + path, Err: err}
	}
	return p.Extract(ctx, data)
}

// Extract returns the non-blank pages of the document in order.
func (p *PDF) Extract(ctx context.Context, data []byte) (pages []domain.Page, err error) {
	if !IsPDF(data) {
		return nil, &domain.IngestError{Reason: "input is not a PDF document"}
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &domain.IngestError{Reason: "malformed PDF", Err: fmt.Errorf("%v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &domain.IngestError{Reason: "failed to open PDF", Err: err}
	}
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, &domain.IngestError{Reason: fmt.Sprintf("failed to extract page %d", i), Err: err}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, &domain.IngestError{Reason: "document contains no extractable text"}
	}
	return pages, nil
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}
