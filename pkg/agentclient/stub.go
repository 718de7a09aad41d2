package agentclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Turn is one scripted reply a StubClient hands back from WaitForIdle, in
// the order sessions consume them.
type Turn struct {
	Events []Event
}

// TextTurn builds a single-turn scripted reply carrying only a final
// message, the common case in phase tests (judge verdicts, summaries).
func TextTurn(text string) Turn {
	return Turn{Events: []Event{{Type: EventMessagePartUpdated, Part: text}}}
}

// StubClient returns canned per-session turns instead of driving a real
// code agent. Tests script it by pushing Turns onto a session's queue
// before the phase under test calls WaitForIdle.
type StubClient struct {
	mu       sync.Mutex
	turns    map[string][]Turn // sessionID -> queued turns
	sessions map[string]SessionOptions
	aborted  map[string]bool
	anonSeq  int64
}

// NewStubClient creates an empty StubClient.
func NewStubClient() *StubClient {
	return &StubClient{
		turns:    make(map[string][]Turn),
		sessions: make(map[string]SessionOptions),
		aborted:  make(map[string]bool),
	}
}

// Script queues turns to be returned, in order, by successive WaitForIdle
// calls on sessionID.
func (c *StubClient) Script(sessionID string, turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns[sessionID] = append(c.turns[sessionID], turns...)
}

func (c *StubClient) Connect(_ context.Context) error { return nil }

// CreateSession returns opts.Title as the session id when set, so tests can
// script a session's turns by title before the phase under test ever runs.
// Callers that need uniqueness across same-titled sessions (e.g. per-story
// sessions) should make the title unique themselves.
func (c *StubClient) CreateSession(_ context.Context, opts SessionOptions) (string, error) {
	id := opts.Title
	if id == "" {
		id = fmt.Sprintf("stub-session-%d", atomic.AddInt64(&c.anonSeq, 1))
	}
	c.mu.Lock()
	c.sessions[id] = opts
	c.mu.Unlock()
	return id, nil
}

func (c *StubClient) SendPrompt(_ context.Context, sessionID, _ string, _ PromptOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return fmt.Errorf("agentclient: unknown session %s", sessionID)
	}
	return nil
}

// WaitForIdle pops the next scripted turn for sessionID. A session with no
// remaining turns returns a single empty idle event, never blocks, and
// never errors — stub sessions are deterministic by construction.
func (c *StubClient) WaitForIdle(_ context.Context, sessionID string, _ WaitOptions) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.turns[sessionID]
	if len(queue) == 0 {
		return nil, nil
	}
	next := queue[0]
	c.turns[sessionID] = queue[1:]
	return next.Events, nil
}

func (c *StubClient) AbortSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted[sessionID] = true
	return nil
}

func (c *StubClient) DeleteSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	delete(c.turns, sessionID)
	return nil
}

// Aborted reports whether AbortSession was called for sessionID, for test
// assertions on the cancellation contract.
func (c *StubClient) Aborted(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted[sessionID]
}
