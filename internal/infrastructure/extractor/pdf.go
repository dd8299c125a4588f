package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

const DefaultPDFMaxPages = 10

// PDF extracts plain text from the first pages of a PDF document.
// Long documents are capped at maxPages; the opening pages carry
// enough signal for classification and naming.
type PDF struct {
	files    ports.FileStore
	maxPages int
}

var _ ports.Extractor = (*PDF)(nil)

func NewPDF(files ports.FileStore, maxPages int) *PDF {
	if maxPages <= 0 {
		maxPages = DefaultPDFMaxPages
	}
	return &PDF{files: files, maxPages: maxPages}
}

func (p *PDF) Kind() domain.FileKind { return domain.KindPDF }

func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	data, err := p.files.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}

	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}

	pages := doc.NumPage()
	if pages > p.maxPages {
		pages = p.maxPages
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf %s page %d: %w", path, i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}
