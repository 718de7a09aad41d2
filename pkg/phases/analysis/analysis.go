// Package analysis implements the Analysis phase (§4.6): create the task's
// working branch, derive a Story breakdown and a risk summary, and gate the
// result behind user approval.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/common"
	"github.com/agentpipe/core/pkg/security"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
	"github.com/google/uuid"
)

const checkpointName = "analysis"

// storyDraft is the structured shape the agent is prompted to reply with —
// a closed variant, not an open dictionary (§9).
type storyDraft struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	FilesToModify      []string `json:"filesToModify"`
	FilesToCreate      []string `json:"filesToCreate"`
	FilesToRead        []string `json:"filesToRead"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

type analysisDraft struct {
	Summary  string       `json:"summary"`
	Approach string       `json:"approach"`
	Risks    []string     `json:"risks"`
	Stories  []storyDraft `json:"stories"`
}

// Phase drives Analysis.
type Phase struct {
	client      agentclient.Client
	broker      *approval.Broker
	observer    *security.Observer
	store       *store.Store
	coordinator *workspace.Coordinator
	phaseCfg    *config.PhaseConfig
}

// New builds an Analysis phase.
func New(client agentclient.Client, broker *approval.Broker, observer *security.Observer, st *store.Store, coordinator *workspace.Coordinator, phaseCfg *config.PhaseConfig) *Phase {
	return &Phase{client: client, broker: broker, observer: observer, store: st, coordinator: coordinator, phaseCfg: phaseCfg}
}

func (p *Phase) Name() string { return "analysis" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	branch := branchNameFor(in.Task.ID)
	if err := p.coordinator.CreateBranch(ctx, in.WorkspacePaths, branch); err != nil {
		return phases.Result{}, fmt.Errorf("analysis: creating branch: %w", err)
	}
	if _, err := p.store.SetBranchName(ctx, in.Task.ID, branch); err != nil {
		return phases.Result{}, fmt.Errorf("analysis: recording branch name: %w", err)
	}

	sessionID, err := p.client.CreateSession(ctx, agentclient.SessionOptions{
		Title:       fmt.Sprintf("analysis: %s", in.Task.ID),
		AutoApprove: in.Task.Mode == "automatic",
	})
	if err != nil {
		return phases.Result{}, fmt.Errorf("analysis: creating session: %w", err)
	}
	defer func() { _ = p.client.DeleteSession(context.Background(), sessionID) }()
	if in.OnSessionStarted != nil {
		in.OnSessionStarted(ctx, sessionID)
	}

	observe := func(ev agentclient.Event) {
		_, _ = p.observer.Observe(ctx, security.ObserveInput{
			TaskID:    in.Task.ID,
			SessionID: sessionID,
			PhaseName: p.Name(),
			Event:     toObserverEvent(ev),
		})
	}

	draft, err := p.draftAnalysis(ctx, sessionID, in, observe, "")
	if err != nil {
		return phases.Result{}, err
	}

	payload := payloadOf(branch, draft)
	if in.OnApprovalWaiting != nil {
		in.OnApprovalWaiting(ctx, true)
	}
	resp, err := common.RequestApproval(ctx, p.broker, in.Task.ID, checkpointName, payload, 0, func(feedback string) (map[string]any, error) {
		refined, err := p.draftAnalysis(ctx, sessionID, in, observe, feedback)
		if err != nil {
			return nil, err
		}
		draft = refined
		return payloadOf(branch, draft), nil
	})
	if in.OnApprovalWaiting != nil {
		in.OnApprovalWaiting(ctx, false)
	}
	if err != nil {
		return phases.Result{}, err
	}
	if resp.Action != approval.ActionApprove {
		return phases.Result{}, phases.ErrRejected
	}

	if err := p.persistStories(ctx, in.Task.ID, draft.Stories); err != nil {
		return phases.Result{}, err
	}

	return phases.Result{Payload: payloadOf(branch, draft)}, nil
}

func (p *Phase) draftAnalysis(ctx context.Context, sessionID string, in phases.Context, observe common.Observe, feedback string) (analysisDraft, error) {
	prompt := buildAnalysisPrompt(in, feedback)
	text, _, err := common.RunTurn(ctx, p.client, sessionID, prompt, agentclient.WaitOptions{IdleTimeoutMs: p.phaseCfg.IdleTimeoutMs}, observe)
	if err != nil {
		return analysisDraft{}, fmt.Errorf("analysis: %w", err)
	}

	var draft analysisDraft
	if err := json.Unmarshal([]byte(text), &draft); err != nil {
		return analysisDraft{}, fmt.Errorf("analysis: parsing story breakdown: %w", err)
	}
	return draft, nil
}

func (p *Phase) persistStories(ctx context.Context, taskID string, stories []storyDraft) error {
	for i, s := range stories {
		if _, err := p.store.PutStory(ctx, store.NewStory{
			ID:                 uuid.NewString(),
			TaskID:             taskID,
			StoryIndex:         i,
			Title:              s.Title,
			Description:        s.Description,
			FilesToModify:      s.FilesToModify,
			FilesToCreate:      s.FilesToCreate,
			FilesToRead:        s.FilesToRead,
			AcceptanceCriteria: s.AcceptanceCriteria,
		}); err != nil {
			return fmt.Errorf("analysis: persisting story %d: %w", i, err)
		}
	}
	return nil
}

func branchNameFor(taskID string) string {
	return "agentpipe/" + taskID
}

func payloadOf(branch string, draft analysisDraft) map[string]any {
	stories := make([]map[string]any, len(draft.Stories))
	for i, s := range draft.Stories {
		stories[i] = map[string]any{
			"title":              s.Title,
			"description":        s.Description,
			"filesToModify":      s.FilesToModify,
			"filesToCreate":      s.FilesToCreate,
			"filesToRead":        s.FilesToRead,
			"acceptanceCriteria": s.AcceptanceCriteria,
		}
	}
	return map[string]any{
		"branchName": branch,
		"stories":    stories,
		"analysis": map[string]any{
			"summary":  draft.Summary,
			"approach": draft.Approach,
			"risks":    draft.Risks,
		},
	}
}

func buildAnalysisPrompt(in phases.Context, feedback string) string {
	var b strings.Builder
	b.WriteString("Analyze the following task and reply with exactly one JSON object matching ")
	b.WriteString(`{"summary":"","approach":"","risks":[""],"stories":[{"title":"","description":"","filesToModify":[],"filesToCreate":[],"filesToRead":[],"acceptanceCriteria":[]}]}.`)
	b.WriteString("\n\nTask: ")
	b.WriteString(in.Task.Description)
	if enriched, ok := in.Approved["planning"]["enrichedPrompt"].(string); ok && enriched != "" {
		b.WriteString("\n\nEnriched prompt from Planning: ")
		b.WriteString(enriched)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\n\nAddress this feedback: %s", feedback)
	}
	return b.String()
}

func toObserverEvent(ev agentclient.Event) security.AgentEvent {
	return security.AgentEvent{
		Type:       ev.Type,
		Tool:       ev.Tool,
		Args:       ev.Args,
		Result:     ev.Result,
		ToolUseID:  ev.ToolUseID,
		TurnNumber: ev.TurnNumber,
		Content:    ev.Part,
		FilePath:   ev.FilePath,
	}
}
