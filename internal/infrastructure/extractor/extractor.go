// Package extractor turns vault files of each supported kind into
// plain text for the pipeline.
package extractor

import (
	"context"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// Markdown reads text files verbatim.
type Markdown struct {
	files ports.FileStore
}

var _ ports.Extractor = (*Markdown)(nil)

func NewMarkdown(files ports.FileStore) *Markdown {
	return &Markdown{files: files}
}

func (m *Markdown) Kind() domain.FileKind { return domain.KindMarkdown }

func (m *Markdown) Extract(ctx context.Context, path string) (string, error) {
	return m.files.ReadText(ctx, path)
}
