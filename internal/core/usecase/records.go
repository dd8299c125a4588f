package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

// StepOutcome is what the runner reports for one action attempt.
type StepOutcome struct {
	Completed bool
	Bypassed  bool
	Reason    string
	Err       error
}

// RecordManager is the single source of truth for FileRecord state.
// Every mutation goes through one status recomputation path and is
// written through to the record store; a persistence failure is logged
// but never stops the pipeline.
type RecordManager struct {
	mu      sync.Mutex
	records map[string]*domain.FileRecord
	byPath  map[string]string
	held    map[string]struct{}

	store  ports.RecordStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRecordManager(store ports.RecordStore, logger *slog.Logger) *RecordManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordManager{
		records: make(map[string]*domain.FileRecord),
		byPath:  make(map[string]string),
		held:    make(map[string]struct{}),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// Load restores persisted records and reconciles them against the vault:
// records whose file no longer exists are flagged missing, never purged.
func (m *RecordManager) Load(ctx context.Context, files ports.FileStore) error {
	if m.store == nil {
		return nil
	}
	restored, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range restored {
		rec := restored[i]
		if rec.Logs == nil {
			rec.Logs = make(map[domain.Action]domain.LogEntry)
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		exists, checkErr := files.Exists(ctx, rec.Path)
		if checkErr == nil && !exists {
			rec.Missing = true
		}
		rec.Status = domain.DeriveStatus(rec.Logs, false)
		m.records[rec.ID] = &rec
		m.byPath[rec.Path] = rec.ID
	}
	m.logger.Info("records_loaded", "count", len(restored))
	return nil
}

// GetOrCreate returns the record tracking a path, creating a queued one
// on first sight.
func (m *RecordManager) GetOrCreate(ctx context.Context, path string) domain.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[path]; ok {
		return snapshot(m.records[id])
	}

	now := m.now().UTC()
	rec := &domain.FileRecord{
		ID:        uuid.NewString(),
		Path:      path,
		Logs:      make(map[domain.Action]domain.LogEntry),
		Status:    domain.StatusQueued,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records[rec.ID] = rec
	m.byPath[path] = rec.ID
	m.persistLocked(ctx, rec)
	return snapshot(rec)
}

// LogStep writes or overwrites the LogEntry for one action and
// recomputes the derived status.
func (m *RecordManager) LogStep(ctx context.Context, id string, action domain.Action, outcome StepOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return domain.WrapError(domain.ErrRecordNotFound, "log step", fmt.Errorf("id %s", id))
	}

	now := m.now().UTC()
	entry := domain.LogEntry{
		Timestamp: now,
		Completed: outcome.Completed,
		Bypassed:  outcome.Bypassed,
		Reason:    outcome.Reason,
	}
	if outcome.Err != nil {
		entry.Error = &domain.StepError{Message: outcome.Err.Error(), Timestamp: now}
		rec.Error = &domain.FailureDetail{Action: action, Message: outcome.Err.Error(), Timestamp: now}
	}
	rec.Logs[action] = entry
	m.touchLocked(ctx, rec)
	return nil
}

func (m *RecordManager) SetClassification(ctx context.Context, id, value string) {
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		rec.Classification = value
	})
}

// AddTag appends a tag once; re-adding an existing tag is a no-op.
func (m *RecordManager) AddTag(ctx context.Context, id, tag string) bool {
	added := false
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		for _, existing := range rec.Tags {
			if existing == tag {
				return
			}
		}
		rec.Tags = append(rec.Tags, tag)
		added = true
	})
	return added
}

func (m *RecordManager) SetDestination(ctx context.Context, id, newName, newPath string) {
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		rec.NewName = newName
		rec.NewPath = newPath
	})
}

// SetPath retargets the record after the underlying file moved.
func (m *RecordManager) SetPath(ctx context.Context, id, path string) {
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		delete(m.byPath, rec.Path)
		rec.Path = path
		m.byPath[path] = rec.ID
	})
}

func (m *RecordManager) MarkMissing(ctx context.Context, id string) {
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		rec.Missing = true
	})
}

// IncAttempts bumps the pass counter and returns the new value.
func (m *RecordManager) IncAttempts(ctx context.Context, id string) int {
	attempts := 0
	m.mutate(ctx, id, func(rec *domain.FileRecord) {
		rec.Attempts++
		attempts = rec.Attempts
	})
	return attempts
}

// ResetForRequeue prepares a terminal record for a fresh pass: status
// falls back to queued, old logs stay for history and get overwritten
// per action key by the new attempts.
func (m *RecordManager) ResetForRequeue(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return "", domain.WrapError(domain.ErrRecordNotFound, "requeue", fmt.Errorf("id %s", id))
	}
	rec.Attempts = 0
	// Wipe terminal markers so the derived status is queued again.
	delete(rec.Logs, domain.ActionCompleted)
	for action, entry := range rec.Logs {
		if entry.Bypassed || entry.Error != nil {
			delete(rec.Logs, action)
		}
	}
	m.touchLocked(ctx, rec)
	return rec.Path, nil
}

func (m *RecordManager) MarkHeld(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		m.held[id] = struct{}{}
		m.touchLocked(ctx, rec)
	}
}

func (m *RecordManager) ReleaseHeld(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		delete(m.held, id)
		m.touchLocked(ctx, rec)
	}
}

func (m *RecordManager) Get(id string) (domain.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.FileRecord{}, false
	}
	return snapshot(rec), true
}

func (m *RecordManager) GetByPath(path string) (domain.FileRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPath[path]
	if !ok {
		return domain.FileRecord{}, false
	}
	return snapshot(m.records[id]), true
}

// GetAllFiles returns copies of every record in no guaranteed order;
// callers sort as needed.
func (m *RecordManager) GetAllFiles() []domain.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.FileRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, snapshot(rec))
	}
	return out
}

// GetAnalytics counts records by status with a full scan; record count
// is bounded by vault size, not request rate.
func (m *RecordManager) GetAnalytics() domain.Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := map[domain.FileStatus]int{
		domain.StatusQueued:     0,
		domain.StatusProcessing: 0,
		domain.StatusCompleted:  0,
		domain.StatusError:      0,
		domain.StatusBypassed:   0,
	}
	for _, rec := range m.records {
		byStatus[rec.Status]++
	}
	return domain.Analytics{ByStatus: byStatus, Total: len(m.records)}
}

func (m *RecordManager) mutate(ctx context.Context, id string, fn func(*domain.FileRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return
	}
	fn(rec)
	m.touchLocked(ctx, rec)
}

func (m *RecordManager) touchLocked(ctx context.Context, rec *domain.FileRecord) {
	_, held := m.held[rec.ID]
	rec.Status = domain.DeriveStatus(rec.Logs, held)
	rec.UpdatedAt = m.now().UTC()
	m.persistLocked(ctx, rec)
}

func (m *RecordManager) persistLocked(ctx context.Context, rec *domain.FileRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("record_persist_failed", "id", rec.ID, "path", rec.Path, "error", err)
	}
}

func snapshot(rec *domain.FileRecord) domain.FileRecord {
	out := *rec
	out.Logs = make(map[domain.Action]domain.LogEntry, len(rec.Logs))
	for action, entry := range rec.Logs {
		out.Logs[action] = entry
	}
	out.Tags = append([]string(nil), rec.Tags...)
	if rec.Error != nil {
		errCopy := *rec.Error
		out.Error = &errCopy
	}
	return out
}
