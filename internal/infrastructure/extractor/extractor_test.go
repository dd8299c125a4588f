package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

type fileStoreStub struct {
	ports.FileStore
	texts    map[string]string
	binaries map[string][]byte
}

func (f *fileStoreStub) ReadText(_ context.Context, path string) (string, error) {
	content, ok := f.texts[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (f *fileStoreStub) ReadBinary(_ context.Context, path string) ([]byte, error) {
	data, ok := f.binaries[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

type aiStub struct {
	ports.AIService
	visionText     string
	transcript     string
	gotImage       []byte
	gotAudioFormat string
}

func (a *aiStub) ExtractImageText(_ context.Context, image []byte) (string, error) {
	a.gotImage = image
	return a.visionText, nil
}

func (a *aiStub) Transcribe(_ context.Context, _ []byte, format string, _ ports.StreamHandler) (string, error) {
	a.gotAudioFormat = format
	return a.transcript, nil
}

func TestMarkdownReadsFileVerbatim(t *testing.T) {
	files := &fileStoreStub{texts: map[string]string{"inbox/note.md": "# hello\n"}}
	ex := NewMarkdown(files)
	if ex.Kind() != domain.KindMarkdown {
		t.Fatalf("kind = %s", ex.Kind())
	}
	got, err := ex.Extract(context.Background(), "inbox/note.md")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "# hello\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestImageDelegatesToVision(t *testing.T) {
	files := &fileStoreStub{binaries: map[string][]byte{"inbox/scan.png": {0x89, 0x50}}}
	ai := &aiStub{visionText: "receipt total 12.50"}
	ex := NewImage(files, ai)
	got, err := ex.Extract(context.Background(), "inbox/scan.png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "receipt total 12.50" {
		t.Fatalf("content = %q", got)
	}
	if !bytes.Equal(ai.gotImage, []byte{0x89, 0x50}) {
		t.Fatalf("image bytes not forwarded: %v", ai.gotImage)
	}
}

func TestAudioPassesFormatFromExtension(t *testing.T) {
	files := &fileStoreStub{binaries: map[string][]byte{"inbox/memo.M4A": {1, 2, 3}}}
	ai := &aiStub{transcript: "call the plumber"}
	ex := NewAudio(files, ai)
	got, err := ex.Extract(context.Background(), "inbox/memo.M4A")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "call the plumber" {
		t.Fatalf("content = %q", got)
	}
	if ai.gotAudioFormat != "m4a" {
		t.Fatalf("format = %q, want m4a", ai.gotAudioFormat)
	}
}

func TestSpreadsheetRendersSheetsAsText(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	_ = book.SetCellValue(sheet, "A1", "item")
	_ = book.SetCellValue(sheet, "B1", "price")
	_ = book.SetCellValue(sheet, "A2", "coffee")
	_ = book.SetCellValue(sheet, "B2", 4.5)
	var buf bytes.Buffer
	if err := book.Write(&buf); err != nil {
		t.Fatalf("build workbook: %v", err)
	}

	files := &fileStoreStub{binaries: map[string][]byte{"inbox/costs.xlsx": buf.Bytes()}}
	ex := NewSpreadsheet(files)
	got, err := ex.Extract(context.Background(), "inbox/costs.xlsx")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(got, "## "+sheet) {
		t.Fatalf("missing sheet heading: %q", got)
	}
	if !strings.Contains(got, "item\tprice") || !strings.Contains(got, "coffee\t4.5") {
		t.Fatalf("missing rows: %q", got)
	}
}
