// Package orchestrator drives a task through its phase pipeline (§4.5):
// Planning, Analysis, Developer, TestGeneration, Merge, then GlobalScan
// unconditionally. It implements queue.TaskExecutor, so a worker pool only
// ever deals with claiming a task and handing it to Execute — resume,
// checkpointing, and the terminal status transition all happen here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/schema"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/events"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/planning"
	"github.com/agentpipe/core/pkg/queue"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
)

// Canonical phase order (§4.5 step 3). GlobalScan is last and always runs,
// even when an earlier phase in this slice failed.
const (
	PhasePlanning   = "planning"
	PhaseAnalysis   = "analysis"
	PhaseDeveloper  = "developer"
	PhaseTestGen    = "test_generation"
	PhaseMerge      = "merge"
	PhaseGlobalScan = "global_scan"
)

var phaseOrder = []string{PhasePlanning, PhaseAnalysis, PhaseDeveloper, PhaseTestGen, PhaseMerge, PhaseGlobalScan}

// CredentialVault resolves the git/GitHub credential a task's phases use to
// push branches and open pull requests (§6 CredentialVault). The
// orchestrator depends on this narrow interface rather than a concrete
// secrets backend, the same way Merge depends only on its own Merger.
type CredentialVault interface {
	CredentialFor(ctx context.Context, t *ent.Task) (workspace.Credential, error)
}

// Phases bundles one instance of each pipeline stage. Every field must be
// non-nil; Orchestrator.Execute indexes into it by canonical phase name.
type Phases struct {
	Planning       phases.Phase
	Analysis       phases.Phase
	Developer      phases.Phase
	TestGeneration phases.Phase
	Merge          phases.Phase
	GlobalScan     phases.Phase
}

func (p Phases) byName(name string) phases.Phase {
	switch name {
	case PhasePlanning:
		return p.Planning
	case PhaseAnalysis:
		return p.Analysis
	case PhaseDeveloper:
		return p.Developer
	case PhaseTestGen:
		return p.TestGeneration
	case PhaseMerge:
		return p.Merge
	case PhaseGlobalScan:
		return p.GlobalScan
	default:
		return nil
	}
}

// Orchestrator drives tasks through Phases and satisfies queue.TaskExecutor.
type Orchestrator struct {
	store       *store.Store
	broker      *approval.Broker
	coordinator *workspace.Coordinator
	events      *events.Manager
	client      agentclient.Client
	vault       CredentialVault
	phases      Phases

	pauseMu sync.Mutex
	paused  map[string]chan struct{} // taskID -> closed by Continue
}

// New builds an Orchestrator over one instance of every phase.
func New(st *store.Store, broker *approval.Broker, coordinator *workspace.Coordinator, mgr *events.Manager, client agentclient.Client, vault CredentialVault, ph Phases) *Orchestrator {
	return &Orchestrator{
		store:       st,
		broker:      broker,
		coordinator: coordinator,
		events:      mgr,
		client:      client,
		vault:       vault,
		phases:      ph,
		paused:      make(map[string]chan struct{}),
	}
}

// RequestPause marks taskID to pause at its next phase boundary (the
// manual "paused" state of §3's status lifecycle, distinct from the
// automatic waiting_for_approval suspension). A pause already pending for
// taskID is a no-op.
func (o *Orchestrator) RequestPause(taskID string) {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	if _, ok := o.paused[taskID]; !ok {
		o.paused[taskID] = make(chan struct{})
	}
}

// Continue releases a paused task, letting Execute resume at the next
// phase boundary. A taskID with no pending pause is a no-op.
func (o *Orchestrator) Continue(taskID string) {
	o.pauseMu.Lock()
	defer o.pauseMu.Unlock()
	if ch, ok := o.paused[taskID]; ok {
		close(ch)
		delete(o.paused, taskID)
	}
}

// waitIfPaused blocks at a phase boundary if a pause is pending for
// taskID, flipping task status to paused for the duration and back to
// running once Continue (or cancellation) releases it.
func (o *Orchestrator) waitIfPaused(ctx context.Context, taskID string) {
	o.pauseMu.Lock()
	ch, ok := o.paused[taskID]
	o.pauseMu.Unlock()
	if !ok {
		return
	}

	if _, err := o.store.SetTaskStatus(ctx, taskID, task.StatusPaused); err != nil {
		slog.With("task_id", taskID).Warn("orchestrator: recording paused status", "error", err)
	} else {
		o.events.PublishTaskStatus(ctx, taskID, string(task.StatusPaused))
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return
	}

	if _, err := o.store.SetTaskStatus(ctx, taskID, task.StatusRunning); err != nil {
		slog.With("task_id", taskID).Warn("orchestrator: recording resumed status", "error", err)
		return
	}
	o.events.PublishTaskStatus(ctx, taskID, string(task.StatusRunning))
}

var _ queue.TaskExecutor = (*Orchestrator)(nil)

// Execute runs t's phase pipeline to a terminal outcome (§4.5 steps 1-6).
func (o *Orchestrator) Execute(ctx context.Context, t *ent.Task) *queue.ExecutionResult {
	logger := slog.With("task_id", t.ID)

	cred, err := o.vault.CredentialFor(ctx, t)
	if err != nil {
		return o.finish(ctx, t.ID, task.StatusFailed, wrapInfra(fmt.Errorf("resolving credential: %w", err)))
	}

	repos := t.Repositories
	workspacePaths, err := o.coordinator.PrepareWorkspace(ctx, t.ID, repos, cred, nil)
	if err != nil {
		return o.finish(ctx, t.ID, task.StatusFailed, wrapInfra(fmt.Errorf("preparing workspace: %w", err)))
	}

	if _, err := o.store.SetTaskStatus(ctx, t.ID, task.StatusRunning); err != nil {
		return o.finish(ctx, t.ID, task.StatusFailed, wrapInfra(fmt.Errorf("marking task running: %w", err)))
	}
	o.events.PublishTaskStatus(ctx, t.ID, string(task.StatusRunning))

	var activeSessionID string
	pctx := phases.Context{
		Task:                 t,
		Approved:             approvedPayloads(t),
		Branch:               branchOf(t),
		Repositories:         repos,
		WorkspacePaths:       workspacePaths,
		ResumeFromStoryIndex: resumeFromStoryIndex(t),
		Credential:           cred,
		OnStoryComplete: func(ctx context.Context, storyIndex int) error {
			_, err := o.store.SetLastCompletedStoryIndex(ctx, t.ID, storyIndex)
			return err
		},
		OnSessionStarted: func(_ context.Context, sessionID string) {
			activeSessionID = sessionID
		},
		OnApprovalWaiting: func(ctx context.Context, waiting bool) {
			status := task.StatusRunning
			if waiting {
				status = task.StatusWaitingForApproval
			}
			if _, err := o.store.SetTaskStatus(ctx, t.ID, status); err != nil {
				logger.Warn("orchestrator: recording approval wait status", "status", status, "error", err)
				return
			}
			o.events.PublishTaskStatus(ctx, t.ID, string(status))
		},
	}

	start := startPhaseIndex(t)
	logger.Info("orchestrator: starting execution", "start_phase_index", start)

	var failureErr error
	var cancelledAtPhase string
	for i := start; i < len(phaseOrder)-1; i++ {
		name := phaseOrder[i]

		o.waitIfPaused(ctx, t.ID)

		if name == PhasePlanning && shouldSkipPlanning(t) {
			if _, err := o.store.AppendCompletedPhase(ctx, t.ID, skippedPhase(name)); err != nil {
				return o.finish(ctx, t.ID, task.StatusFailed, wrapInfra(fmt.Errorf("recording skipped %s: %w", name, err)))
			}
			continue
		}
		// TestGeneration self-skips (returns {"skipped": true}) when
		// SkipTestGeneration is set, so it still runs through the normal
		// path below rather than being special-cased here.

		result, err := o.runPhase(ctx, t.ID, name, pctx)
		if err != nil {
			if isCancellation(err) {
				cancelledAtPhase = name
			}
			failureErr = err
			break
		}
		pctx.Approved[name] = result.Payload
		if name == PhaseAnalysis {
			if refreshed, err := o.store.GetTask(ctx, t.ID); err == nil && refreshed.BranchName != nil {
				pctx.Branch = *refreshed.BranchName
			}
		}
	}

	// GlobalScan always runs, even after a cancellation or any other
	// phase failure (§4.5 step 5), so it is driven off a background
	// context rather than the one a cancellation just tore down.
	if startBeforeGlobalScan(t) {
		if _, err := o.runPhase(context.Background(), t.ID, PhaseGlobalScan, pctx); err != nil {
			if isCancellation(err) && cancelledAtPhase == "" {
				cancelledAtPhase = PhaseGlobalScan
			}
			if failureErr == nil {
				failureErr = err
			}
		}
	}

	if cancelledAtPhase != "" {
		return o.cancel(t, cancelledAtPhase, activeSessionID, failureErr)
	}
	if failureErr != nil {
		return o.finish(ctx, t.ID, task.StatusFailed, failureErr)
	}
	return o.finish(ctx, t.ID, task.StatusCompleted, nil)
}

// runPhase invokes one phase, publishing its lifecycle events and
// persisting current_phase / completed_phases around the call.
func (o *Orchestrator) runPhase(ctx context.Context, taskID, name string, pctx phases.Context) (phases.Result, error) {
	if _, err := o.store.SetCurrentPhase(ctx, taskID, name); err != nil {
		return phases.Result{}, wrapInfra(fmt.Errorf("setting current phase %s: %w", name, err))
	}
	o.events.PublishPhaseStarted(ctx, taskID, name, 1)

	ph := o.phases.byName(name)
	result, err := ph.Run(ctx, pctx)
	if err != nil {
		if errors.Is(err, phases.ErrRejected) || errors.Is(err, phases.ErrPolicyBlocked) {
			o.events.PublishPhaseFailed(ctx, taskID, name, 1, err)
			return phases.Result{}, err
		}
		if isCancellation(err) {
			return phases.Result{}, err
		}
		o.events.PublishPhaseFailed(ctx, taskID, name, 1, err)
		return phases.Result{}, fmt.Errorf("phase %s: %w", name, err)
	}

	if _, err := o.store.AppendCompletedPhase(ctx, taskID, schema.CompletedPhase{
		Name:      name,
		Payload:   result.Payload,
		Completed: time.Now(),
	}); err != nil {
		return phases.Result{}, wrapInfra(fmt.Errorf("recording completed phase %s: %w", name, err))
	}
	// Use background context for the completion event: a cancelled request
	// context must not suppress bookkeeping for work that already finished.
	o.events.PublishPhaseCompleted(context.Background(), taskID, name, 1, result.Payload)
	return result, nil
}

// finish transitions the task to a terminal status, clears resume fields,
// and publishes orchestration.complete, regardless of how Execute got here.
func (o *Orchestrator) finish(ctx context.Context, taskID string, status task.Status, cause error) *queue.ExecutionResult {
	o.pauseMu.Lock()
	delete(o.paused, taskID)
	o.pauseMu.Unlock()

	var reason *string
	if cause != nil {
		msg := cause.Error()
		reason = &msg
	}
	// A cancelled request context must not prevent the terminal write.
	if _, err := o.store.FinishTask(context.Background(), taskID, status, reason); err != nil {
		return &queue.ExecutionResult{Status: string(task.StatusFailed), Error: fmt.Errorf("finishing task: %w", err), Retryable: true}
	}
	o.events.PublishTaskStatus(context.Background(), taskID, string(status))
	o.events.PublishOrchestrationComplete(context.Background(), taskID, string(status))
	return &queue.ExecutionResult{
		Status:    string(status),
		Error:     cause,
		Retryable: status == task.StatusFailed && isInfraErr(cause),
	}
}

// infraErr marks a failure as transient infrastructure trouble (a durable
// store write, workspace preparation, or credential resolution call that
// returned an error) rather than something a phase's own Run reported, so
// the queue's attempt policy (§4.8) knows it is eligible for a retry. A
// phase-reported error is never wrapped this way.
type infraErr struct{ err error }

func (e *infraErr) Error() string { return e.err.Error() }
func (e *infraErr) Unwrap() error { return e.err }

func wrapInfra(err error) error {
	if err == nil {
		return nil
	}
	return &infraErr{err: err}
}

func isInfraErr(err error) bool {
	var e *infraErr
	return errors.As(err, &e)
}

// cancel implements the cancellation contract (§4.5): resolve every
// pending approval for the task with a rejection, abort the in-flight
// agent session if one is known, and transition to cancelled.
func (o *Orchestrator) cancel(t *ent.Task, atPhase, sessionID string, cause error) *queue.ExecutionResult {
	o.broker.CancelTask(t.ID)
	if sessionID != "" && o.client != nil {
		if err := o.client.AbortSession(context.Background(), sessionID); err != nil {
			slog.With("task_id", t.ID).Warn("orchestrator: aborting agent session", "session_id", sessionID, "error", err)
		}
	}
	if cause == nil {
		cause = fmt.Errorf("cancelled during %s", atPhase)
	}
	return o.finish(context.Background(), t.ID, task.StatusCancelled, cause)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// shouldSkipPlanning applies §4.5's Planning-skip rule: both the task's own
// opt-in flag and Planning's own complexity rubric must agree the task is
// simple. The rubric stays Planning's concern; the decision whether to run
// the phase at all belongs to the orchestrator.
func shouldSkipPlanning(t *ent.Task) bool {
	return t.SkipPlanningForSimpleTasks && planning.IsSimple(t.Description)
}

func skippedPhase(name string) schema.CompletedPhase {
	return schema.CompletedPhase{
		Name:      name,
		Payload:   map[string]interface{}{"skipped": true},
		Completed: time.Now(),
	}
}

// startPhaseIndex computes §4.5 step 3: the largest i such that every
// phase in phaseOrder[:i] is already in completed_phases, or the index of
// start_from_phase when the caller supplied an explicit override.
func startPhaseIndex(t *ent.Task) int {
	if t.StartFromPhase != nil {
		for i, name := range phaseOrder {
			if name == *t.StartFromPhase {
				return i
			}
		}
	}
	completed := make(map[string]bool, len(t.CompletedPhases))
	for _, cp := range t.CompletedPhases {
		completed[cp.Name] = true
	}
	i := 0
	for i < len(phaseOrder) && completed[phaseOrder[i]] {
		i++
	}
	return i
}

// startBeforeGlobalScan reports whether GlobalScan still needs to run, so
// a fully-resumed task (invariant: idempotent resume is a no-op) doesn't
// scan a second time.
func startBeforeGlobalScan(t *ent.Task) bool {
	for _, cp := range t.CompletedPhases {
		if cp.Name == PhaseGlobalScan {
			return false
		}
	}
	return true
}

// resumeFromStoryIndex computes Developer's resume cursor: the story after
// the last one recorded complete, or the first story when none is set.
func resumeFromStoryIndex(t *ent.Task) int {
	if t.LastCompletedStoryIndex != nil {
		return *t.LastCompletedStoryIndex + 1
	}
	return 0
}

func branchOf(t *ent.Task) string {
	if t.BranchName != nil {
		return *t.BranchName
	}
	return ""
}

// approvedPayloads replays completed_phases into the Approved map every
// phase reads from, so a resumed task sees exactly what a non-resumed one
// would have accumulated by this point.
func approvedPayloads(t *ent.Task) map[string]map[string]any {
	approved := make(map[string]map[string]any, len(t.CompletedPhases))
	for _, cp := range t.CompletedPhases {
		payload := make(map[string]any, len(cp.Payload))
		for k, v := range cp.Payload {
			payload[k] = v
		}
		approved[cp.Name] = payload
	}
	return approved
}
