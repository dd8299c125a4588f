package domain

import (
	"path/filepath"
	"strings"
)

// FileKind is the closed set of content-extraction variants.
type FileKind string

const (
	KindMarkdown    FileKind = "markdown"
	KindPDF         FileKind = "pdf"
	KindImage       FileKind = "image"
	KindAudio       FileKind = "audio"
	KindSpreadsheet FileKind = "spreadsheet"
	KindUnsupported FileKind = "unsupported"
)

// KindOf classifies a file path by extension.
func KindOf(path string) FileKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "md", "markdown", "txt":
		return KindMarkdown
	case "pdf":
		return KindPDF
	case "png", "jpg", "jpeg", "gif", "webp", "bmp":
		return KindImage
	case "mp3", "wav", "m4a", "ogg", "webm", "flac":
		return KindAudio
	case "xlsx", "xlsm":
		return KindSpreadsheet
	default:
		return KindUnsupported
	}
}

// Media reports whether the kind keeps its original binary as an
// attachment wrapped by a markdown container.
func (k FileKind) Media() bool {
	return k == KindImage || k == KindAudio
}
