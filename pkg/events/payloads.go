package events

// TaskStatusPayload is the payload for task.status events.
type TaskStatusPayload struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// PhaseEventPayload is the payload for phase.started/completed/failed events.
type PhaseEventPayload struct {
	TaskID    string         `json:"task_id"`
	Phase     string         `json:"phase"`
	Attempt   int            `json:"attempt"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// StoryStatusPayload is the payload for story.status events.
type StoryStatusPayload struct {
	TaskID     string `json:"task_id"`
	StoryID    string `json:"story_id"`
	StoryIndex int    `json:"story_index"`
	Verdict    string `json:"verdict"`
	Timestamp  string `json:"timestamp"`
}

// ToolCallPayload is the payload for tool_call events, published as each
// tool invocation completes during an agent execution.
type ToolCallPayload struct {
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
	ToolName    string `json:"tool_name"`
	FilePath    string `json:"file_path,omitempty"`
	Success     bool   `json:"success"`
	Timestamp   string `json:"timestamp"`
}

// VulnerabilityPayload is the payload for vulnerability.detected events.
type VulnerabilityPayload struct {
	TaskID    string `json:"task_id"`
	Severity  string `json:"severity"`
	Category  string `json:"category"`
	Blocked   bool   `json:"blocked"`
	Timestamp string `json:"timestamp"`
}

// ApprovalEventPayload is the payload for approval.requested/resolved events.
type ApprovalEventPayload struct {
	TaskID         string `json:"task_id"`
	CheckpointName string `json:"checkpoint_name"`
	Action         string `json:"action,omitempty"` // set on resolved
	Attempt        int    `json:"attempt"`
	Timestamp      string `json:"timestamp"`
}

// AgentOutputChunkPayload is the payload for agent.output_chunk events,
// high-frequency and throttled by Manager before reaching subscribers.
type AgentOutputChunkPayload struct {
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
	Delta       string `json:"delta"`
	Timestamp   string `json:"timestamp"`
}

// LogLinePayload is the payload for log.line events — free-form narration
// surfaced to an operator watching a task live.
type LogLinePayload struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// OrchestrationCompletePayload is the payload for orchestration.complete,
// published once a task reaches a terminal state (succeeded, failed, or
// cancelled) and every phase including GlobalScan has finished.
type OrchestrationCompletePayload struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
