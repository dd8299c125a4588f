package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
)

// Inbox is the process-wide coordination point owning the queue, the
// record manager and the runner for the daemon's lifetime. It is
// constructed once at startup and passed by reference; there is no
// package-level instance.
type Inbox struct {
	queue   *Queue
	records *RecordManager
	runner  *Runner
	logger  *slog.Logger

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopMu   sync.Mutex
	stop     bool
	wg       sync.WaitGroup

	workers      int
	pollInterval time.Duration
}

func NewInbox(queue *Queue, records *RecordManager, runner *Runner, workers int, logger *slog.Logger) *Inbox {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		queue:        queue,
		records:      records,
		runner:       runner,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		workers:      workers,
		pollInterval: 500 * time.Millisecond,
	}
}

// Start launches the worker pool. Workers drain the queue, then sleep
// until woken by an enqueue or the poll tick.
func (i *Inbox) Start(ctx context.Context) {
	for w := 0; w < i.workers; w++ {
		i.wg.Add(1)
		go func(worker int) {
			defer i.wg.Done()
			i.workLoop(ctx, worker)
		}(w)
	}
	i.logger.Info("inbox_started", "workers", i.workers)
}

func (i *Inbox) workLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	for {
		for i.runner.ProcessNext(ctx) {
			if ctx.Err() != nil || !i.accepting() {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-i.done:
			return
		case <-i.wake:
		case <-ticker.C:
		}
	}
}

// Stop refuses new work and waits for in-flight files to finish. It
// does not rely on the Start context being cancelled: idle workers are
// woken through the done channel.
func (i *Inbox) Stop() {
	i.stopMu.Lock()
	i.stop = true
	i.stopMu.Unlock()
	i.stopOnce.Do(func() { close(i.done) })
	i.wg.Wait()
	i.logger.Info("inbox_stopped")
}

func (i *Inbox) accepting() bool {
	i.stopMu.Lock()
	defer i.stopMu.Unlock()
	return !i.stop
}

// EnqueueFiles adds paths to the pending queue, creating queued records
// for paths seen the first time. Duplicates are no-ops. Returns how many
// paths were accepted.
func (i *Inbox) EnqueueFiles(ctx context.Context, paths []string) int {
	if !i.accepting() {
		return 0
	}
	accepted := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		rec := i.records.GetOrCreate(ctx, path)
		// Terminal records stay terminal unless explicitly requeued.
		switch rec.Status {
		case domain.StatusCompleted, domain.StatusError, domain.StatusBypassed:
			continue
		}
		if i.queue.Enqueue(path) {
			accepted++
		}
	}
	if accepted > 0 {
		i.signal()
		i.logger.Info("files_enqueued", "accepted", accepted, "offered", len(paths))
	}
	return accepted
}

// Requeue resets a terminal record for a fresh pass and puts its file
// back on the queue.
func (i *Inbox) Requeue(ctx context.Context, id string) error {
	if !i.accepting() {
		return fmt.Errorf("inbox is shutting down")
	}
	rec, ok := i.records.Get(id)
	if !ok {
		return domain.WrapError(domain.ErrRecordNotFound, "requeue", fmt.Errorf("id %s", id))
	}
	switch rec.Status {
	case domain.StatusProcessing:
		return domain.WrapError(domain.ErrInvalidInput, "requeue", fmt.Errorf("record %s is processing", id))
	case domain.StatusQueued:
		if i.queue.Contains(rec.Path) {
			return nil
		}
	}
	path, err := i.records.ResetForRequeue(ctx, id)
	if err != nil {
		return err
	}
	i.queue.Enqueue(path)
	i.signal()
	return nil
}

func (i *Inbox) signal() {
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// GetAllFiles is the read projection the UI polls; order is unspecified,
// callers sort by the timestamps they care about.
func (i *Inbox) GetAllFiles() []domain.FileRecord {
	return i.records.GetAllFiles()
}

func (i *Inbox) GetAnalytics() domain.Analytics {
	return i.records.GetAnalytics()
}

// QueueDepth is exported for the metrics gauge.
func (i *Inbox) QueueDepth() int {
	return i.queue.Len()
}
