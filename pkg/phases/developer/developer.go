// Package developer implements the Developer phase (§4.6): for each story,
// starting at the resume cursor, drive a bounded DEV -> JUDGE -> OBSERVE ->
// FIX loop over the code agent, then commit or roll back per the judge's
// final verdict.
package developer

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/story"
	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/common"
	"github.com/agentpipe/core/pkg/security"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
)

const checkpointName = "developer"

// Phase drives Developer.
type Phase struct {
	client      agentclient.Client
	broker      *approval.Broker
	observer    *security.Observer
	store       *store.Store
	coordinator *workspace.Coordinator
	devCfg      *config.DeveloperConfig
	phaseCfg    *config.PhaseConfig
}

// New builds a Developer phase.
func New(client agentclient.Client, broker *approval.Broker, observer *security.Observer, st *store.Store, coordinator *workspace.Coordinator, devCfg *config.DeveloperConfig, phaseCfg *config.PhaseConfig) *Phase {
	return &Phase{client: client, broker: broker, observer: observer, store: st, coordinator: coordinator, devCfg: devCfg, phaseCfg: phaseCfg}
}

func (p *Phase) Name() string { return "developer" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	stories, err := p.store.ListStories(ctx, in.Task.ID)
	if err != nil {
		return phases.Result{}, fmt.Errorf("developer: listing stories: %w", err)
	}

	totalCommits := 0
	summaries := make([]map[string]any, 0, len(stories))
	for _, s := range stories {
		if s.StoryIndex < in.ResumeFromStoryIndex {
			summaries = append(summaries, map[string]any{
				"storyIndex": s.StoryIndex,
				"title":      s.Title,
				"verdict":    string(s.Verdict),
				"commitHash": s.CommitHash,
				"resumed":    true,
			})
			continue
		}

		outcome, err := p.runStory(ctx, in, s)
		if err != nil {
			return phases.Result{}, err
		}
		if outcome.committed {
			totalCommits++
		}
		summaries = append(summaries, outcome.summary)

		if in.OnStoryComplete != nil {
			if err := in.OnStoryComplete(ctx, s.StoryIndex); err != nil {
				return phases.Result{}, fmt.Errorf("developer: recording story %d complete: %w", s.StoryIndex, err)
			}
		}
	}

	return phases.Result{Payload: map[string]any{
		"stories":      summaries,
		"totalCommits": totalCommits,
	}}, nil
}

type storyOutcome struct {
	committed bool
	summary   map[string]any
}

// runStory executes the bounded DEV/JUDGE/OBSERVE/FIX loop for one story
// and applies the rollback invariant (§8 invariant 3): a story whose final
// verdict is not approved leaves every workspace clean.
func (p *Phase) runStory(ctx context.Context, in phases.Context, s *ent.Story) (storyOutcome, error) {
	if _, err := p.store.RecordStoryStarted(ctx, s.ID); err != nil {
		return storyOutcome{}, fmt.Errorf("developer: recording story %d start: %w", s.StoryIndex, err)
	}

	sessionID, err := p.client.CreateSession(ctx, agentclient.SessionOptions{
		Title:       fmt.Sprintf("developer: %s story %d", in.Task.ID, s.StoryIndex),
		AutoApprove: in.Task.Mode == "automatic",
	})
	if err != nil {
		return storyOutcome{}, fmt.Errorf("developer: creating session for story %d: %w", s.StoryIndex, err)
	}
	defer func() { _ = p.client.DeleteSession(context.Background(), sessionID) }()
	if in.OnSessionStarted != nil {
		in.OnSessionStarted(ctx, sessionID)
	}

	storyID := s.ID
	observe := func(ev agentclient.Event) {
		_, _ = p.observer.Observe(ctx, security.ObserveInput{
			TaskID:    in.Task.ID,
			SessionID: sessionID,
			PhaseName: p.Name(),
			StoryID:   &storyID,
			Event:     toObserverEvent(ev),
		})
	}

	var verdict common.JudgeVerdict
	feedback := ""
	maxIter := p.devCfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}

	for iter := 1; iter <= maxIter; iter++ {
		if _, err := common.RunTurn(ctx, p.client, sessionID, implementPrompt(s, feedback), p.waitOptions(), observe); err != nil {
			return storyOutcome{}, fmt.Errorf("developer: story %d implement turn: %w", s.StoryIndex, err)
		}

		for _, path := range in.WorkspacePaths {
			if _, _, err := p.observer.ScanWorkspace(ctx, in.Task.ID, sessionID, p.Name(), path, security.ScanOptions{}); err != nil {
				return storyOutcome{}, fmt.Errorf("developer: story %d workspace scan: %w", s.StoryIndex, err)
			}
		}

		text, _, err := common.RunTurn(ctx, p.client, sessionID, judgePrompt(s), p.waitOptions(), observe)
		if err != nil {
			return storyOutcome{}, fmt.Errorf("developer: story %d judge turn: %w", s.StoryIndex, err)
		}
		verdict, err = common.ParseJudgeVerdict(text)
		if err != nil {
			return storyOutcome{}, fmt.Errorf("developer: story %d: %w", s.StoryIndex, err)
		}
		if verdict.Approved() || verdict.Rejected() {
			break
		}
		feedback = verdict.Feedback
	}

	return p.resolveVerdict(ctx, in, s, sessionID, verdict)
}

func (p *Phase) resolveVerdict(ctx context.Context, in phases.Context, s *ent.Story, sessionID string, verdict common.JudgeVerdict) (storyOutcome, error) {
	if !verdict.Approved() {
		if err := p.discardAll(ctx, in); err != nil {
			return storyOutcome{}, err
		}
		if _, err := p.store.RecordStoryVerdict(ctx, s.ID, story.VerdictRejected, nil); err != nil {
			return storyOutcome{}, fmt.Errorf("developer: recording story %d rejected: %w", s.StoryIndex, err)
		}
		return storyOutcome{summary: map[string]any{
			"storyIndex": s.StoryIndex, "title": s.Title, "verdict": "rejected",
		}}, nil
	}

	dirty, err := p.anyDirty(ctx, in)
	if err != nil {
		return storyOutcome{}, err
	}
	if !dirty {
		if _, err := p.store.RecordStoryVerdict(ctx, s.ID, story.VerdictApproved, nil); err != nil {
			return storyOutcome{}, fmt.Errorf("developer: recording story %d approved (no changes): %w", s.StoryIndex, err)
		}
		return storyOutcome{summary: map[string]any{
			"storyIndex": s.StoryIndex, "title": s.Title, "verdict": "approved", "commitHash": nil,
		}}, nil
	}

	payload := map[string]any{
		"storyIndex": s.StoryIndex,
		"title":      s.Title,
		"verdict":    "approved",
	}
	if in.OnApprovalWaiting != nil {
		in.OnApprovalWaiting(ctx, true)
	}
	resp, err := common.RequestApproval(ctx, p.broker, in.Task.ID, checkpointName, payload, 0, func(feedback string) (map[string]any, error) {
		if _, err := common.RunTurn(ctx, p.client, sessionID, fmt.Sprintf("Revise story %q per this feedback: %s", s.Title, feedback), p.waitOptions(), nil); err != nil {
			return nil, fmt.Errorf("developer: story %d revision turn: %w", s.StoryIndex, err)
		}
		return payload, nil
	})
	if in.OnApprovalWaiting != nil {
		in.OnApprovalWaiting(ctx, false)
	}
	if err != nil {
		return storyOutcome{}, err
	}
	if resp.Action != approval.ActionApprove {
		if err := p.discardAll(ctx, in); err != nil {
			return storyOutcome{}, err
		}
		if _, err := p.store.RecordStoryVerdict(ctx, s.ID, story.VerdictRejected, nil); err != nil {
			return storyOutcome{}, fmt.Errorf("developer: recording story %d rejected at checkpoint: %w", s.StoryIndex, err)
		}
		return storyOutcome{summary: map[string]any{
			"storyIndex": s.StoryIndex, "title": s.Title, "verdict": "rejected",
		}}, nil
	}

	hash, err := p.commitAll(ctx, in, s)
	if err != nil {
		return storyOutcome{}, err
	}
	if _, err := p.store.RecordStoryVerdict(ctx, s.ID, story.VerdictApproved, hash); err != nil {
		return storyOutcome{}, fmt.Errorf("developer: recording story %d approved: %w", s.StoryIndex, err)
	}
	return storyOutcome{committed: hash != nil, summary: map[string]any{
		"storyIndex": s.StoryIndex, "title": s.Title, "verdict": "approved", "commitHash": hash,
	}}, nil
}

func (p *Phase) anyDirty(ctx context.Context, in phases.Context) (bool, error) {
	for _, path := range in.WorkspacePaths {
		dirty, err := p.coordinator.HasChanges(ctx, path)
		if err != nil {
			return false, fmt.Errorf("developer: checking workspace changes: %w", err)
		}
		if dirty {
			return true, nil
		}
	}
	return false, nil
}

func (p *Phase) discardAll(ctx context.Context, in phases.Context) error {
	for _, path := range in.WorkspacePaths {
		if err := p.coordinator.DiscardChanges(ctx, path); err != nil {
			return fmt.Errorf("developer: discarding changes: %w", err)
		}
	}
	return nil
}

func (p *Phase) commitAll(ctx context.Context, in phases.Context, s *ent.Story) (*string, error) {
	var hash string
	for repoRef, path := range in.WorkspacePaths {
		dirty, err := p.coordinator.HasChanges(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("developer: checking %s for changes: %w", repoRef, err)
		}
		if !dirty {
			continue
		}
		if err := p.coordinator.StageAll(ctx, path); err != nil {
			return nil, fmt.Errorf("developer: staging %s: %w", repoRef, err)
		}
		h, err := p.coordinator.Commit(ctx, path, fmt.Sprintf("%s\n\n%s", s.Title, s.Description))
		if err != nil {
			return nil, fmt.Errorf("developer: committing %s: %w", repoRef, err)
		}
		if err := p.coordinator.Push(ctx, path, repoRef, in.Branch, in.Credential); err != nil {
			return nil, fmt.Errorf("developer: pushing %s: %w", repoRef, err)
		}
		hash = h
	}
	if hash == "" {
		return nil, nil
	}
	return &hash, nil
}

func (p *Phase) waitOptions() agentclient.WaitOptions {
	return agentclient.WaitOptions{IdleTimeoutMs: p.phaseCfg.IdleTimeoutMs}
}

func implementPrompt(s *ent.Story, feedback string) string {
	prompt := fmt.Sprintf("Implement story %q: %s\nFiles to modify: %v\nFiles to create: %v\nAcceptance criteria: %v",
		s.Title, s.Description, s.FilesToModify, s.FilesToCreate, s.AcceptanceCriteria)
	if feedback != "" {
		prompt += "\nAddress this judge feedback: " + feedback
	}
	return prompt
}

func judgePrompt(s *ent.Story) string {
	return fmt.Sprintf(`Judge whether story %q satisfies its acceptance criteria %v. `+
		`Reply with exactly one JSON object {"verdict":"approved|needs_revision|rejected","feedback":""}.`,
		s.Title, s.AcceptanceCriteria)
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
