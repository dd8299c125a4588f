package ports

import (
	"context"
	"time"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
)

// StreamHandler receives cumulative text snapshots from a streaming
// operation. Returning an error stops the stream; the consumer keeps the
// last fully-applied snapshot.
type StreamHandler func(ctx context.Context, cumulative string) error

// AIService is the remote classification/formatting/tagging API.
type AIService interface {
	Classify(ctx context.Context, content string, labels []string) (string, error)
	Format(ctx context.Context, content, instruction string) (string, error)
	FormatStream(ctx context.Context, content, instruction string, handler StreamHandler) (string, error)
	SuggestTags(ctx context.Context, content, fileName string, existing []string) ([]domain.TagSuggestion, error)
	SuggestTitle(ctx context.Context, content, fileName, instruction string) ([]domain.TitleSuggestion, error)
	SuggestFolders(ctx context.Context, content, fileName string, allowed []string) ([]domain.FolderSuggestion, error)
	ExtractImageText(ctx context.Context, image []byte) (string, error)
	Transcribe(ctx context.Context, audio []byte, format string, handler StreamHandler) (string, error)
}

// FileStore abstracts vault file operations. Paths are vault-relative.
type FileStore interface {
	ReadText(ctx context.Context, path string) (string, error)
	ReadBinary(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path, content string) error
	Append(ctx context.Context, path, content string) error
	Create(ctx context.Context, path, content string) error
	Move(ctx context.Context, oldPath, newPath string) error
	Copy(ctx context.Context, srcPath, dstPath string) error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	ListFolders(ctx context.Context) ([]string, error)
	ListFiles(ctx context.Context, folder string) ([]string, error)
	ListTags(ctx context.Context) ([]string, error)
	ReadFrontmatter(ctx context.Context, path string) (map[string]any, error)
	WriteFrontmatterKey(ctx context.Context, path, key string, value any) error
}

// TemplateSource lists the user-defined classification templates.
type TemplateSource interface {
	ListTemplates(ctx context.Context) ([]domain.Template, error)
}

// RecordStore persists FileRecord history across restarts.
type RecordStore interface {
	Save(ctx context.Context, record *domain.FileRecord) error
	LoadAll(ctx context.Context) ([]domain.FileRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	TrimToCount(ctx context.Context, max int) (int64, error)
}

// EventFeed transports file-discovered and requeue notifications
// between processes. Ordering and deduplication are the queue's
// concern, not the feed's.
type EventFeed interface {
	PublishFileDiscovered(ctx context.Context, path string) error
	SubscribeFileDiscovered(ctx context.Context, handler func(context.Context, string) error) error
	PublishRequeue(ctx context.Context, recordID string) error
	SubscribeRequeue(ctx context.Context, handler func(context.Context, string) error) error
}

// Extractor turns one file kind into plain text.
type Extractor interface {
	Kind() domain.FileKind
	Extract(ctx context.Context, path string) (string, error)
}
