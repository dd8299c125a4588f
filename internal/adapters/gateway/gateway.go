// Package gateway backs the HTTP API in the api process, where the
// pipeline itself runs elsewhere. Reads come from the record store;
// writes travel to the daemon over the event feed.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

type Service struct {
	store  ports.RecordStore
	feed   ports.EventFeed
	logger *slog.Logger
}

var _ ports.InboxService = (*Service)(nil)

func New(store ports.RecordStore, feed ports.EventFeed, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, feed: feed, logger: logger}
}

// EnqueueFiles announces each path on the feed and reports how many
// announcements went out. The daemon owns deduplication, so a path
// already known there simply gets ignored on arrival.
func (s *Service) EnqueueFiles(ctx context.Context, paths []string) int {
	sent := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := s.feed.PublishFileDiscovered(ctx, path); err != nil {
			s.logger.Error("publish file discovered failed", "path", path, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (s *Service) Requeue(ctx context.Context, id string) error {
	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	found := false
	for _, record := range records {
		if record.ID == id {
			found = true
			break
		}
	}
	if !found {
		return domain.WrapError(domain.ErrRecordNotFound, "requeue", fmt.Errorf("id=%s", id))
	}
	return s.feed.PublishRequeue(ctx, id)
}

func (s *Service) GetAllFiles() []domain.FileRecord {
	records, err := s.store.LoadAll(context.Background())
	if err != nil {
		s.logger.Error("load records failed", "error", err)
		return nil
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

func (s *Service) GetAnalytics() domain.Analytics {
	analytics := domain.Analytics{ByStatus: map[domain.FileStatus]int{}}
	for _, record := range s.GetAllFiles() {
		analytics.ByStatus[record.Status]++
		analytics.Total++
	}
	return analytics
}
