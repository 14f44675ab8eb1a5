package content

import (
	"encoding/json"
	"time"
)

// Category classifies a sync event for the remote service.
type Category string

const (
	CategoryProgress   Category = "progress"
	CategoryCompletion Category = "completion"
	CategoryNote       Category = "note"
	CategoryBookmark   Category = "bookmark"
	CategoryQuizResult Category = "quiz_result"
)

// Categories lists every valid category.
var Categories = []Category{CategoryProgress, CategoryCompletion, CategoryNote, CategoryBookmark, CategoryQuizResult}

// Operation is the mutation a sync event asks the remote service to apply.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Operations lists every valid operation.
var Operations = []Operation{OperationCreate, OperationUpdate, OperationDelete}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ValidOperation reports whether o is a known operation.
func ValidOperation(o Operation) bool {
	for _, known := range Operations {
		if o == known {
			return true
		}
	}
	return false
}

// SyncEntry is a local mutation not yet acknowledged by the remote service.
type SyncEntry struct {
	// ID is a ULID generated at enqueue time.
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Category   Category        `json:"category"`
	Operation  Operation       `json:"operation"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// DeadLetter is a sync entry set aside after exhausting its retries.
type DeadLetter struct {
	SyncEntry
	FailedAt time.Time `json:"failedAt"`
}

// ProgressEvent is the data carried by progress and completion sync entries.
type ProgressEvent struct {
	ContentID     string        `json:"contentId"`
	ProgressDelta ProgressPatch `json:"progressDelta"`
}
