package vault

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// Templates reads classification templates from a vault folder. Each
// markdown file is one template: its basename is the classification
// label and its content the formatting instruction.
type Templates struct {
	store  *Store
	folder string
}

var _ ports.TemplateSource = (*Templates)(nil)

func NewTemplates(store *Store, folder string) *Templates {
	return &Templates{store: store, folder: folder}
}

func (t *Templates) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	files, err := t.store.ListFiles(ctx, t.folder)
	if err != nil {
		return nil, err
	}

	var templates []domain.Template
	for _, path := range files {
		name := filepath.Base(path)
		ext := filepath.Ext(name)
		if !strings.EqualFold(ext, ".md") {
			continue
		}
		content, err := t.store.ReadText(ctx, path)
		if err != nil {
			return nil, err
		}
		templates = append(templates, domain.Template{
			Name:        strings.TrimSuffix(name, ext),
			Instruction: strings.TrimSpace(content),
		})
	}
	return templates, nil
}
