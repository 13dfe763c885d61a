package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is the persisted mirror of a workflow run.
type Run struct {
	ID            string
	ProjectID     string
	Kind          string // "theme", "plan"
	Status        string // "pending", "running", "suspended", "completed", "failed"
	SuspendReason string // set only while suspended
	StartedAt     time.Time
	FinishedAt    time.Time // zero unless completed/failed
}

// Result is an intermediate or final artifact checkpointed by a run.
// Payload is JSON stored as text.
type Result struct {
	ID        string
	RunID     string
	Type      string // "candidates", "selection", "diff"
	Payload   string
	CreatedAt time.Time
}

// PlanSnapshot is one immutable revision of a research plan document.
type PlanSnapshot struct {
	ID        string
	RunID     string
	ProjectID string
	Status    string // "pending", "final"
	Document  string // PlanDraft JSON stored as text
	CreatedAt time.Time
}

// LibraryDocument is an ingested source document.
type LibraryDocument struct {
	ID          string
	Title       string
	Source      string // "text", "url", "pdf"
	ContentHash string
	Chunks      int
	CreatedAt   time.Time
}

// LibraryVector is one embedded chunk of a library document.
type LibraryVector struct {
	ID         string
	DocumentID string
	Seq        int
	Content    string
	Embedding  []float32 // empty when embedding was unavailable at ingest
}
