package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// Spreadsheet renders workbook sheets as tab-separated text, one
// section per sheet.
type Spreadsheet struct {
	files ports.FileStore
}

var _ ports.Extractor = (*Spreadsheet)(nil)

func NewSpreadsheet(files ports.FileStore) *Spreadsheet {
	return &Spreadsheet{files: files}
}

func (s *Spreadsheet) Kind() domain.FileKind { return domain.KindSpreadsheet }

func (s *Spreadsheet) Extract(ctx context.Context, path string) (string, error) {
	data, err := s.files.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}

	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	defer book.Close()

	var sb strings.Builder
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s of %s: %w", sheet, path, err)
		}
		if len(rows) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## " + sheet + "\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
