// Package run sequences workflow steps, streams progress events and
// implements durable suspend/resume over the persistent store.
package run

import (
	"errors"
	"time"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/theme"
)

// Workflow kinds.
const (
	KindTheme = "theme"
	KindPlan  = "plan"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSuspended = "suspended"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Suspend reasons.
const (
	ReasonSelectCandidate = "select_candidate"
	ReasonReviewPlan      = "review_plan"
)

var (
	// ErrInvalidInput is returned when a start or resume payload has the
	// wrong shape for the pending step.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRunNotResumable is returned when the referenced run is unknown,
	// not suspended, or already claimed by a concurrent resume.
	ErrRunNotResumable = errors.New("run not resumable")
)

// Event is one message on a run's output stream. Exactly one terminal
// event closes each stream: a suspend or a final.
type Event struct {
	Type       string            `json:"type"`
	At         int64             `json:"at,omitempty"`
	RunID      string            `json:"runId,omitempty"`
	Message    string            `json:"message,omitempty"`
	Candidates []theme.Candidate `json:"items,omitempty"`
	Plan       *plan.Draft       `json:"plan,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Event types.
const (
	EventStarted    = "started"
	EventProgress   = "progress"
	EventCandidates = "candidates"
	EventReview     = "review"
	EventSuspend    = "suspend"
)

// EmitFunc receives stream events in order. Implementations must not
// block indefinitely; a slow consumer stalls the run.
type EmitFunc func(Event)

// StartInput carries the free-form discovery fields for a new run.
type StartInput struct {
	Query     string `json:"query,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Keywords  string `json:"keywords,omitempty"`
	Title     string `json:"title,omitempty"`
	RQ        string `json:"rq,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
}

// Selection identifies the candidate chosen on resume.
type Selection struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ResumeInput is the answer payload for a suspended run. Exactly one of
// Selected or Review must match the run's pending suspend reason.
type ResumeInput struct {
	Selected *Selection `json:"selected,omitempty"`
	Review   string     `json:"review,omitempty"`
}

// ResumeResult is the outcome of a successful resume.
type ResumeResult struct {
	Plan     plan.Draft         `json:"plan"`
	Selected *theme.Candidate   `json:"selected,omitempty"`
	Diff     []plan.FieldChange `json:"diff,omitempty"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
