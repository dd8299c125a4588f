package ports

import (
	"context"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
)

// InboxService is the process-wide coordination point external callers
// use to enqueue files and read pipeline state.
type InboxService interface {
	EnqueueFiles(ctx context.Context, paths []string) int
	Requeue(ctx context.Context, id string) error
	GetAllFiles() []domain.FileRecord
	GetAnalytics() domain.Analytics
}
