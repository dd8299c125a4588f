package domain

import "time"

type FileStatus string

const (
	StatusQueued     FileStatus = "queued"
	StatusProcessing FileStatus = "processing"
	StatusCompleted  FileStatus = "completed"
	StatusError      FileStatus = "error"
	StatusBypassed   FileStatus = "bypassed"
)

// StepError is the failure detail of one action attempt.
type StepError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is the outcome of the last attempt of one action on one file.
// Re-attempts overwrite the entry for the same action key.
type LogEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Completed bool       `json:"completed"`
	Bypassed  bool       `json:"bypassed,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     *StepError `json:"error,omitempty"`
}

// FailureDetail records the last failure of a record.
type FailureDetail struct {
	Action    Action    `json:"action"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// FileRecord tracks one file's journey through the pipeline. Path follows
// the file as it is renamed and moved; the record never owns the file.
type FileRecord struct {
	ID             string              `json:"id"`
	Path           string              `json:"path"`
	Logs           map[Action]LogEntry `json:"logs"`
	Status         FileStatus          `json:"status"`
	Classification string              `json:"classification,omitempty"`
	Tags           []string            `json:"tags"`
	NewName        string              `json:"new_name,omitempty"`
	NewPath        string              `json:"new_path,omitempty"`
	Attempts       int                 `json:"attempts"`
	Missing        bool                `json:"missing,omitempty"`
	Error          *FailureDetail      `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Analytics is the status breakdown over all known records.
type Analytics struct {
	ByStatus map[FileStatus]int `json:"by_status"`
	Total    int                `json:"total"`
}

// DeriveStatus computes a record's status purely from its log map and
// the runner-held flag. All mutators recompute through this one path so
// the stored status can never diverge from the logs.
func DeriveStatus(logs map[Action]LogEntry, held bool) FileStatus {
	if held {
		return StatusProcessing
	}

	latest, ok := latestEntry(logs)
	if !ok {
		return StatusQueued
	}
	switch {
	case latest.Bypassed:
		return StatusBypassed
	case !latest.Completed && latest.Error != nil:
		return StatusError
	}
	if done, ok := logs[ActionCompleted]; ok && done.Completed {
		return StatusCompleted
	}
	return StatusQueued
}

func latestEntry(logs map[Action]LogEntry) (LogEntry, bool) {
	var (
		best      LogEntry
		bestOrder int
		found     bool
	)
	for action, entry := range logs {
		order := OrderIndex(action)
		if !found || entry.Timestamp.After(best.Timestamp) ||
			(entry.Timestamp.Equal(best.Timestamp) && order > bestOrder) {
			best = entry
			bestOrder = order
			found = true
		}
	}
	return best, found
}
