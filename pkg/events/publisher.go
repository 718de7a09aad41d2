package events

import (
	"context"
	"time"
)

// Typed convenience methods over Manager.Publish — each wraps a payload
// struct from payloads.go so callers never hand-assemble a bare map.

// PublishTaskStatus announces a task lifecycle transition.
func (m *Manager) PublishTaskStatus(ctx context.Context, taskID, status string) {
	m.Publish(ctx, taskID, EventTypeTaskStatus, TaskStatusPayload{
		TaskID: taskID, Status: status, Timestamp: now(),
	})
}

// PublishPhaseStarted announces a phase beginning its attempt-th run.
func (m *Manager) PublishPhaseStarted(ctx context.Context, taskID, phase string, attempt int) {
	m.Publish(ctx, taskID, EventTypePhaseStarted, PhaseEventPayload{
		TaskID: taskID, Phase: phase, Attempt: attempt, Timestamp: now(),
	})
}

// PublishPhaseCompleted announces a phase finishing successfully.
func (m *Manager) PublishPhaseCompleted(ctx context.Context, taskID, phase string, attempt int, payload map[string]any) {
	m.Publish(ctx, taskID, EventTypePhaseCompleted, PhaseEventPayload{
		TaskID: taskID, Phase: phase, Attempt: attempt, Payload: payload, Timestamp: now(),
	})
}

// PublishPhaseFailed announces a phase failing.
func (m *Manager) PublishPhaseFailed(ctx context.Context, taskID, phase string, attempt int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.Publish(ctx, taskID, EventTypePhaseFailed, PhaseEventPayload{
		TaskID: taskID, Phase: phase, Attempt: attempt, Error: msg, Timestamp: now(),
	})
}

// PublishStoryStatus announces a story's verdict transition.
func (m *Manager) PublishStoryStatus(ctx context.Context, taskID, storyID string, storyIndex int, verdict string) {
	m.Publish(ctx, taskID, EventTypeStoryStatus, StoryStatusPayload{
		TaskID: taskID, StoryID: storyID, StoryIndex: storyIndex, Verdict: verdict, Timestamp: now(),
	})
}

// PublishToolCall announces a completed tool invocation.
func (m *Manager) PublishToolCall(ctx context.Context, taskID, executionID, toolName, filePath string, success bool) {
	m.Publish(ctx, taskID, EventTypeToolCall, ToolCallPayload{
		TaskID: taskID, ExecutionID: executionID, ToolName: toolName, FilePath: filePath, Success: success, Timestamp: now(),
	})
}

// PublishVulnerability announces a security observer finding.
func (m *Manager) PublishVulnerability(ctx context.Context, taskID, severity, category string, blocked bool) {
	m.Publish(ctx, taskID, EventTypeVulnerability, VulnerabilityPayload{
		TaskID: taskID, Severity: severity, Category: category, Blocked: blocked, Timestamp: now(),
	})
}

// PublishApprovalRequested announces that a phase is now blocked on approval.
func (m *Manager) PublishApprovalRequested(ctx context.Context, taskID, checkpoint string, attempt int) {
	m.Publish(ctx, taskID, EventTypeApprovalRequested, ApprovalEventPayload{
		TaskID: taskID, CheckpointName: checkpoint, Attempt: attempt, Timestamp: now(),
	})
}

// PublishApprovalResolved announces the decision recorded for a checkpoint.
func (m *Manager) PublishApprovalResolved(ctx context.Context, taskID, checkpoint, action string, attempt int) {
	m.Publish(ctx, taskID, EventTypeApprovalResolved, ApprovalEventPayload{
		TaskID: taskID, CheckpointName: checkpoint, Action: action, Attempt: attempt, Timestamp: now(),
	})
}

// PublishAgentOutputChunk streams a delta of in-flight agent output. Subject
// to throttling — see Manager.Publish.
func (m *Manager) PublishAgentOutputChunk(ctx context.Context, taskID, executionID, delta string) {
	m.Publish(ctx, taskID, EventTypeAgentOutputChunk, AgentOutputChunkPayload{
		TaskID: taskID, ExecutionID: executionID, Delta: delta, Timestamp: now(),
	})
}

// PublishLogLine surfaces a free-form narration line. Subject to throttling.
func (m *Manager) PublishLogLine(ctx context.Context, taskID, message string) {
	m.Publish(ctx, taskID, EventTypeLogLine, LogLinePayload{
		TaskID: taskID, Message: message, Timestamp: now(),
	})
}

// PublishOrchestrationComplete announces a task reaching a terminal status.
func (m *Manager) PublishOrchestrationComplete(ctx context.Context, taskID, status string) {
	m.Publish(ctx, taskID, EventTypeOrchestrationComplete, OrchestrationCompletePayload{
		TaskID: taskID, Status: status, Timestamp: now(),
	})
}

func now() string {
	return time.Now().Format(time.RFC3339Nano)
}
