package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/evidence"
	"github.com/planforge/planforge/internal/library"
	"github.com/planforge/planforge/internal/llm"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/storage"
	"github.com/planforge/planforge/internal/theme"
)

// Result payload types persisted per run.
const (
	resultCandidates = "candidates"
	resultSelection  = "selection"
	resultDiff       = "diff"
)

const (
	evidenceLimit = 5
	insightLimit  = 3
	libraryLimit  = 3
)

// Store is the persistence surface the orchestrator needs. All writes are
// best-effort from the stream's point of view except the suspend
// transition, which must land for the run to be resumable.
type Store interface {
	CreateRun(r storage.Run) error
	GetRun(id string) (storage.Run, error)
	UpdateRunStatus(id, status, suspendReason string) error
	UpdateRunStatusIf(id, expected, status, suspendReason string) (bool, error)
	SaveResult(r storage.Result) error
	LatestResult(runID, resultType string) (storage.Result, error)
	SavePlanSnapshot(p storage.PlanSnapshot) error
	LatestPlanSnapshot(runID, status string) (storage.PlanSnapshot, error)
}

// EvidenceSearcher is the retrieval surface (satisfied by evidence.Cache).
type EvidenceSearcher interface {
	Search(ctx context.Context, query string, limit int) evidence.Result
}

// LibrarySearcher surfaces the reference library to the theme step
// (satisfied by library.Library).
type LibrarySearcher interface {
	Search(ctx context.Context, query string, topK int) ([]library.Hit, error)
}

// Orchestrator runs theme and plan workflows.
type Orchestrator struct {
	store    Store
	provider llm.Provider
	evidence EvidenceSearcher
	insights evidence.InsightProvider
	library  LibrarySearcher
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOrchestrator wires an orchestrator. Evidence and insights may be nil;
// the theme step then runs without grounding. The provider may be nil; the
// theme step falls back to built-in candidates and the plan step fails.
func NewOrchestrator(store Store, provider llm.Provider, ev EvidenceSearcher, ins evidence.InsightProvider, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{
		store:    store,
		provider: provider,
		evidence: ev,
		insights: ins,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// WithLibrary adds reference-library grounding to the theme step and
// returns the orchestrator.
func (o *Orchestrator) WithLibrary(lib LibrarySearcher) *Orchestrator {
	o.library = lib
	return o
}

// Start creates a run of the given kind and executes its steps, pushing
// events to emit in strict order. It returns the run id. The stream always
// ends with exactly one suspend or final event, or with a progress error
// marker when the run failed.
func (o *Orchestrator) Start(ctx context.Context, kind string, input StartInput, emit EmitFunc) (string, error) {
	if kind != KindTheme && kind != KindPlan {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}

	runID := uuid.NewString()
	if err := o.store.CreateRun(storage.Run{
		ID:        runID,
		ProjectID: input.ProjectID,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}

	emit(Event{Type: EventStarted, At: nowMillis(), RunID: runID})

	var err error
	switch kind {
	case KindTheme:
		err = o.themeStep(ctx, runID, input, emit)
	case KindPlan:
		err = o.planStep(ctx, runID, input, emit)
	}
	if err != nil {
		o.fail(runID, kind, err, emit)
	}
	return runID, nil
}

// themeStep retrieves evidence, generates candidates, aggregates them and
// suspends for selection.
func (o *Orchestrator) themeStep(ctx context.Context, runID string, input StartInput, emit EmitFunc) error {
	query := combineQuery(input)

	emit(Event{Type: EventProgress, Message: "searching literature..."})

	// Evidence, insights and library lookup run in parallel; each degrades
	// to empty on its own.
	var ev evidence.Result
	var insights []string
	var libHits []library.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if o.evidence != nil {
			ev = o.evidence.Search(gctx, query, evidenceLimit)
		}
		return nil
	})
	g.Go(func() error {
		if o.insights != nil {
			insights = o.insights.Insights(gctx, query, insightLimit)
		}
		return nil
	})
	g.Go(func() error {
		if o.library == nil {
			return nil
		}
		hits, err := o.library.Search(gctx, query, libraryLimit)
		if err != nil {
			o.logger.Debug("library search failed", "run", runID, "error", err)
			return nil
		}
		libHits = hits
		return nil
	})
	g.Wait()

	emit(Event{Type: EventProgress, Message: fmt.Sprintf("evidence: %d items (source=%s)", len(ev.Items), ev.Source)})

	emit(Event{Type: EventProgress, Message: "generating theme candidates..."})
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	raw, err := theme.Generate(genCtx, o.provider, theme.GenerateInput{
		Query:    input.Query,
		Domain:   input.Domain,
		Keywords: input.Keywords,
		Evidence: append(scholarTitles(ev), librarySnippets(libHits)...),
	})
	if err != nil {
		o.logger.Warn("candidate generation failed, using fallback set", "run", runID, "error", err)
		emit(Event{Type: EventProgress, Message: "generation unavailable, using fallback candidates"})
		raw = theme.Fallback()
	}

	candidates := theme.Aggregate(theme.AggregateInput{
		Candidates: raw,
		Scholar:    ev.Items,
		Insights:   insights,
	})

	o.saveResult(runID, resultCandidates, candidates)
	if err := o.store.UpdateRunStatus(runID, StatusSuspended, ReasonSelectCandidate); err != nil {
		return fmt.Errorf("suspending run: %w", err)
	}

	emit(Event{Type: EventCandidates, Candidates: candidates})
	emit(Event{Type: EventSuspend, RunID: runID, Reason: ReasonSelectCandidate})
	return nil
}

// planStep drafts a plan document and suspends for review. There is no
// synthetic fallback plan; generation failure fails the run.
func (o *Orchestrator) planStep(ctx context.Context, runID string, input StartInput, emit EmitFunc) error {
	title := input.Title
	if strings.TrimSpace(title) == "" {
		title = input.RQ
	}

	emit(Event{Type: EventProgress, Message: "drafting research plan..."})
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	draft, err := plan.GenerateDraft(genCtx, o.provider, title)
	if err != nil {
		return err
	}

	o.savePlanSnapshot(runID, input.ProjectID, "pending", draft)
	if err := o.store.UpdateRunStatus(runID, StatusSuspended, ReasonReviewPlan); err != nil {
		return fmt.Errorf("suspending run: %w", err)
	}

	emit(Event{Type: EventReview, Plan: &draft})
	emit(Event{Type: EventSuspend, RunID: runID, Reason: ReasonReviewPlan})
	return nil
}

// Resume continues a suspended run with the caller's answer. The run must
// be suspended and the answer shape must match the pending suspend reason.
// A concurrent resume loses the store-side guard and gets ErrRunNotResumable.
func (o *Orchestrator) Resume(ctx context.Context, runID string, input ResumeInput) (*ResumeResult, error) {
	r, err := o.store.GetRun(runID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, fmt.Errorf("%w: unknown run %s", ErrRunNotResumable, runID)
		}
		return nil, fmt.Errorf("loading run: %w", err)
	}
	if r.Status != StatusSuspended {
		return nil, fmt.Errorf("%w: run is %s", ErrRunNotResumable, r.Status)
	}

	switch r.SuspendReason {
	case ReasonSelectCandidate:
		if input.Selected == nil {
			return nil, fmt.Errorf("%w: step requires a selected candidate", ErrInvalidInput)
		}
	case ReasonReviewPlan:
		if strings.TrimSpace(input.Review) == "" {
			return nil, fmt.Errorf("%w: step requires review comments", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unexpected suspend reason %q", ErrRunNotResumable, r.SuspendReason)
	}

	// For a plan review the prior snapshot must be rehydratable before any
	// mutation happens.
	var prior plan.Draft
	if r.SuspendReason == ReasonReviewPlan {
		snap, err := o.store.LatestPlanSnapshot(runID, "pending")
		if err != nil {
			if err == storage.ErrNotFound {
				return nil, fmt.Errorf("%w: no pending draft snapshot", ErrRunNotResumable)
			}
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(snap.Document), &fields); err != nil {
			return nil, fmt.Errorf("%w: corrupt draft snapshot", ErrRunNotResumable)
		}
		prior = plan.Normalize(fields)
	}

	ok, err := o.store.UpdateRunStatusIf(runID, StatusSuspended, StatusRunning, "")
	if err != nil {
		return nil, fmt.Errorf("claiming run: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: run already claimed", ErrRunNotResumable)
	}

	switch r.SuspendReason {
	case ReasonSelectCandidate:
		return o.resumeSelection(runID, r.ProjectID, *input.Selected)
	default:
		return o.resumeReview(ctx, runID, r.ProjectID, prior, input.Review)
	}
}

// resumeSelection drafts the plan from the chosen candidate and completes
// the run.
func (o *Orchestrator) resumeSelection(runID, projectID string, sel Selection) (*ResumeResult, error) {
	selected := o.lookupCandidate(runID, sel)

	draft := plan.DraftFromCandidate(selected)
	o.savePlanSnapshot(runID, projectID, "final", draft)
	o.saveResult(runID, resultSelection, sel)

	if err := o.store.UpdateRunStatus(runID, StatusCompleted, ""); err != nil {
		o.logger.Error("completing run failed", "run", runID, "error", err)
	}
	return &ResumeResult{Plan: draft, Selected: selected}, nil
}

// resumeReview refines the prior draft with the review comments, diffs the
// two revisions and completes the run.
func (o *Orchestrator) resumeReview(ctx context.Context, runID, projectID string, prior plan.Draft, review string) (*ResumeResult, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	refined, err := plan.Refine(genCtx, o.provider, prior, review)
	if err != nil {
		if uerr := o.store.UpdateRunStatus(runID, StatusFailed, ""); uerr != nil {
			o.logger.Error("failing run failed", "run", runID, "error", uerr)
		}
		return nil, err
	}

	diff := plan.Diff(prior, refined)
	o.savePlanSnapshot(runID, projectID, "final", refined)
	o.saveResult(runID, resultDiff, diff)

	if err := o.store.UpdateRunStatus(runID, StatusCompleted, ""); err != nil {
		o.logger.Error("completing run failed", "run", runID, "error", err)
	}
	return &ResumeResult{Plan: refined, Diff: diff}, nil
}

// lookupCandidate rehydrates the selected candidate from the persisted
// candidates checkpoint. When the checkpoint is missing or the id is
// unknown, a minimal candidate is synthesized from the selection itself so
// resume still succeeds after partial persistence.
func (o *Orchestrator) lookupCandidate(runID string, sel Selection) *theme.Candidate {
	res, err := o.store.LatestResult(runID, resultCandidates)
	if err == nil {
		var candidates []theme.Candidate
		if err := json.Unmarshal([]byte(res.Payload), &candidates); err == nil {
			for i := range candidates {
				if candidates[i].ID == sel.ID {
					return &candidates[i]
				}
			}
		}
	}
	o.logger.Warn("selected candidate not found in checkpoint", "run", runID, "id", sel.ID)
	if strings.TrimSpace(sel.Title) == "" && strings.TrimSpace(sel.ID) == "" {
		return nil
	}
	return &theme.Candidate{ID: sel.ID, Title: sel.Title}
}

// fail marks the run failed and pushes the error marker as the last event.
func (o *Orchestrator) fail(runID, kind string, cause error, emit EmitFunc) {
	o.logger.Error("workflow failed", "run", runID, "kind", kind, "error", cause)
	if err := o.store.UpdateRunStatus(runID, StatusFailed, ""); err != nil {
		o.logger.Error("failing run failed", "run", runID, "error", err)
	}
	emit(Event{Type: EventProgress, Message: fmt.Sprintf("%s_workflow_error=%v", kind, cause)})
}

func (o *Orchestrator) saveResult(runID, resultType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("encoding result failed", "run", runID, "type", resultType, "error", err)
		return
	}
	err = o.store.SaveResult(storage.Result{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      resultType,
		Payload:   string(data),
		CreatedAt: time.Now(),
	})
	if err != nil {
		o.logger.Error("persisting result failed", "run", runID, "type", resultType, "error", err)
	}
}

func (o *Orchestrator) savePlanSnapshot(runID, projectID, status string, draft plan.Draft) {
	data, err := json.Marshal(draft)
	if err != nil {
		o.logger.Error("encoding snapshot failed", "run", runID, "error", err)
		return
	}
	err = o.store.SavePlanSnapshot(storage.PlanSnapshot{
		ID:        uuid.NewString(),
		RunID:     runID,
		ProjectID: projectID,
		Status:    status,
		Document:  string(data),
		CreatedAt: time.Now(),
	})
	if err != nil {
		o.logger.Error("persisting snapshot failed", "run", runID, "error", err)
	}
}

func combineQuery(input StartInput) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{input.Query, input.Domain, input.Keywords} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func scholarTitles(ev evidence.Result) []string {
	titles := make([]string, 0, len(ev.Items))
	for _, item := range ev.Items {
		titles = append(titles, item.Title)
	}
	return titles
}

// librarySnippets trims library hits to short grounding lines for the
// candidate prompt.
func librarySnippets(hits []library.Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		text := strings.TrimSpace(h.Content)
		if text == "" {
			continue
		}
		if len(text) > 200 {
			text = text[:200]
		}
		out = append(out, text)
	}
	return out
}
