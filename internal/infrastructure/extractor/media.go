package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// Image extracts text from images through the AI vision endpoint.
type Image struct {
	files ports.FileStore
	ai    ports.AIService
}

var _ ports.Extractor = (*Image)(nil)

func NewImage(files ports.FileStore, ai ports.AIService) *Image {
	return &Image{files: files, ai: ai}
}

func (i *Image) Kind() domain.FileKind { return domain.KindImage }

func (i *Image) Extract(ctx context.Context, path string) (string, error) {
	data, err := i.files.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}
	return i.ai.ExtractImageText(ctx, data)
}

// Audio transcribes recordings through the AI transcription endpoint.
// The stream handler is nil: the pipeline only needs the final text,
// attachments keep the original audio.
type Audio struct {
	files ports.FileStore
	ai    ports.AIService
}

var _ ports.Extractor = (*Audio)(nil)

func NewAudio(files ports.FileStore, ai ports.AIService) *Audio {
	return &Audio{files: files, ai: ai}
}

func (a *Audio) Kind() domain.FileKind { return domain.KindAudio }

func (a *Audio) Extract(ctx context.Context, path string) (string, error) {
	data, err := a.files.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return a.ai.Transcribe(ctx, data, format, nil)
}
