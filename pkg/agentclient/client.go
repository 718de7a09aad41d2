// Package agentclient defines the narrow interface phases use to drive a
// code-editing agent session, and a scripted stub implementation for tests.
// The real transport (subprocess, gRPC, HTTP) is out of scope for the core —
// phases only ever see the Client interface.
package agentclient

import "context"

// Event types the agent session emits, mirroring the Security Observer's
// AgentEvent shape so an observer can subscribe to the same stream a phase
// is consuming.
const (
	EventToolExecuteBefore  = "tool.execute.before"
	EventToolExecuteAfter   = "tool.execute.after"
	EventMessagePartUpdated = "message.part.updated"
)

// Event is one item off a session's event stream.
type Event struct {
	Type       string
	Tool       string
	Args       map[string]any
	Result     string
	ToolUseID  string
	TurnNumber int
	Part       string // message.part.updated content
	FilePath   string
}

// SessionOptions configures a new agent session.
type SessionOptions struct {
	Title       string
	Directory   string
	AutoApprove bool
}

// PromptOptions configures one prompt turn. Empty for now; present so the
// interface can grow without breaking callers.
type PromptOptions struct{}

// WaitOptions bounds how long WaitForIdle blocks before returning a timeout
// error.
type WaitOptions struct {
	// IdleTimeoutMs is the outer safety timeout (§5); zero means the
	// client's own default.
	IdleTimeoutMs int
}

// Client is the CodeAgentClient collaborator (§6): connect once, open a
// session per story/phase, drive it with prompts, and read back the event
// stream once it settles to idle.
type Client interface {
	Connect(ctx context.Context) error
	CreateSession(ctx context.Context, opts SessionOptions) (sessionID string, err error)
	SendPrompt(ctx context.Context, sessionID, text string, opts PromptOptions) error
	WaitForIdle(ctx context.Context, sessionID string, opts WaitOptions) ([]Event, error)
	AbortSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// LastMessageText concatenates every message.part.updated event's content,
// in arrival order — the text a judge-parsing phase inspects.
func LastMessageText(events []Event) string {
	var text string
	for _, ev := range events {
		if ev.Type == EventMessagePartUpdated {
			text += ev.Part
		}
	}
	return text
}
