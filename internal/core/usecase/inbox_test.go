package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

func testInbox(t *testing.T, files *fileStoreFake, ai *aiFake) (*Inbox, *Runner, *RecordManager, *Queue) {
	t.Helper()
	queue := NewQueue()
	records := NewRecordManager(newRecordStoreFake(), nil)
	cfg := defaultCfg()
	cfg.ClassifyEnabled = false
	cfg.RenameEnabled = false
	extractors := []ports.Extractor{&textExtractorFake{kind: domain.KindMarkdown, files: files}}
	runner := NewRunner(cfg, queue, records, ai, files, &templatesFake{}, extractors, nil, nil)
	inbox := NewInbox(queue, records, runner, 1, nil)
	return inbox, runner, records, queue
}

func TestInboxEnqueueFilesDeduplicates(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	inbox, _, records, queue := testInbox(t, files, &aiFake{})

	accepted := inbox.EnqueueFiles(context.Background(), []string{"inbox/a.md", "inbox/a.md", ""})
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}
	if queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", queue.Len())
	}
	if len(records.GetAllFiles()) != 1 {
		t.Fatalf("one record per file expected")
	}
}

func TestInboxEnqueueSkipsTerminalRecords(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	files.folders = []string{"notes"}
	ai := &aiFake{folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}}}
	inbox, runner, records, _ := testInbox(t, files, ai)

	inbox.EnqueueFiles(context.Background(), []string{"inbox/a.md"})
	for runner.ProcessNext(context.Background()) {
	}
	rec, _ := records.GetByPath("notes/a.md")
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("precondition: status = %s (error: %+v)", rec.Status, rec.Error)
	}

	if accepted := inbox.EnqueueFiles(context.Background(), []string{"notes/a.md"}); accepted != 0 {
		t.Fatalf("terminal record must not be re-enqueued implicitly, accepted = %d", accepted)
	}
}

func TestInboxRequeueCompletedFileRunsFreshPass(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	files.folders = []string{"notes"}
	ai := &aiFake{folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}}}
	inbox, runner, records, _ := testInbox(t, files, ai)

	inbox.EnqueueFiles(context.Background(), []string{"inbox/a.md"})
	for runner.ProcessNext(context.Background()) {
	}
	rec, _ := records.GetByPath("notes/a.md")
	firstPass := rec.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	if err := inbox.Requeue(context.Background(), rec.ID); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	requeued, _ := records.Get(rec.ID)
	if requeued.Status != domain.StatusQueued {
		t.Fatalf("status after requeue = %s, want queued", requeued.Status)
	}

	for runner.ProcessNext(context.Background()) {
	}
	final, _ := records.Get(rec.ID)
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status after second pass = %s (error: %+v)", final.Status, final.Error)
	}
	if !final.UpdatedAt.After(firstPass) {
		t.Fatalf("second pass must produce a strictly greater updatedAt")
	}
}

func TestInboxRequeueUnknownID(t *testing.T) {
	files := newFileStoreFake()
	inbox, _, _, _ := testInbox(t, files, &aiFake{})
	err := inbox.Requeue(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found, got %v", err)
	}
}

func TestInboxStopRefusesNewWork(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	inbox, _, _, _ := testInbox(t, files, &aiFake{})

	inbox.Stop()
	if accepted := inbox.EnqueueFiles(context.Background(), []string{"inbox/a.md"}); accepted != 0 {
		t.Fatalf("stopped inbox must refuse work, accepted = %d", accepted)
	}
}

func TestInboxStopReturnsWithIdleWorkers(t *testing.T) {
	files := newFileStoreFake()
	inbox, _, _, _ := testInbox(t, files, &aiFake{})

	// The context stays live; Stop alone must bring the workers down.
	inbox.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		inbox.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() blocked with idle workers on a live context")
	}
}

func TestInboxWorkersDrainQueue(t *testing.T) {
	files := newFileStoreFake()
	files.texts["inbox/a.md"] = "content"
	files.texts["inbox/b.md"] = "content"
	files.folders = []string{"notes"}
	ai := &aiFake{folderSugs: []domain.FolderSuggestion{{Folder: "notes", Score: 0.9}}}
	inbox, _, records, _ := testInbox(t, files, ai)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox.Start(ctx)
	inbox.EnqueueFiles(ctx, []string{"inbox/a.md", "inbox/b.md"})

	deadline := time.After(5 * time.Second)
	for {
		analytics := records.GetAnalytics()
		if analytics.ByStatus[domain.StatusCompleted] == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline did not drain: %+v", analytics)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	inbox.Stop()
}
