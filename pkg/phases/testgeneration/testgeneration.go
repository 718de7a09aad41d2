// Package testgeneration implements the TestGeneration phase (§4.6):
// generate tests for the stories Developer committed, run them, and
// iterate on coverage up to a bounded number of rounds.
package testgeneration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/common"
	"github.com/agentpipe/core/pkg/security"
)

// roundReport is the structured shape the agent reports after each
// generate-and-run round.
type roundReport struct {
	TestsGenerated    int     `json:"testsGenerated"`
	EdgeCasesDetected int     `json:"edgeCasesDetected"`
	CoveragePercent   float64 `json:"coveragePercent"`
	TestsPassed       bool    `json:"testsPassed"`
	Done              bool    `json:"done"`
}

// Phase drives TestGeneration.
type Phase struct {
	client   agentclient.Client
	observer *security.Observer
	cfg      *config.TestGenConfig
	phaseCfg *config.PhaseConfig
}

// New builds a TestGeneration phase.
func New(client agentclient.Client, observer *security.Observer, cfg *config.TestGenConfig, phaseCfg *config.PhaseConfig) *Phase {
	return &Phase{client: client, observer: observer, cfg: cfg, phaseCfg: phaseCfg}
}

func (p *Phase) Name() string { return "test_generation" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	if in.Task.SkipTestGeneration {
		return phases.Result{Payload: map[string]any{
			"skipped":           true,
			"testsGenerated":    0,
			"edgeCasesDetected": 0,
			"coverageBefore":    0.0,
			"coverageAfter":     0.0,
			"testsPassed":       true,
		}}, nil
	}

	sessionID, err := p.client.CreateSession(ctx, agentclient.SessionOptions{
		Title:       fmt.Sprintf("test_generation: %s", in.Task.ID),
		AutoApprove: in.Task.Mode == "automatic",
	})
	if err != nil {
		return phases.Result{}, fmt.Errorf("test_generation: creating session: %w", err)
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

	maxIter := p.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}

	var (
		coverageBefore float64
		report         roundReport
		totalGenerated int
		totalEdgeCases int
	)

	for iter := 1; iter <= maxIter; iter++ {
		text, _, err := common.RunTurn(ctx, p.client, sessionID, buildPrompt(in, iter, report), p.waitOptions(), observe)
		if err != nil {
			return phases.Result{}, fmt.Errorf("test_generation: round %d: %w", iter, err)
		}

		var round roundReport
		if err := json.Unmarshal([]byte(text), &round); err != nil {
			return phases.Result{}, fmt.Errorf("test_generation: parsing round %d report: %w", iter, err)
		}

		if iter == 1 {
			coverageBefore = round.CoveragePercent
		}
		totalGenerated += round.TestsGenerated
		totalEdgeCases += round.EdgeCasesDetected
		report = round

		if round.Done || !round.TestsPassed {
			break
		}
	}

	return phases.Result{Payload: map[string]any{
		"testsGenerated":    totalGenerated,
		"edgeCasesDetected": totalEdgeCases,
		"coverageBefore":    coverageBefore,
		"coverageAfter":     report.CoveragePercent,
		"testsPassed":       report.TestsPassed,
	}}, nil
}

func (p *Phase) waitOptions() agentclient.WaitOptions {
	return agentclient.WaitOptions{IdleTimeoutMs: p.phaseCfg.IdleTimeoutMs}
}

func buildPrompt(in phases.Context, iteration int, prior roundReport) string {
	prompt := fmt.Sprintf("Generate tests for the committed changes on branch %q covering the acceptance criteria "+
		"of every story, then run them. Reply with exactly one JSON object matching "+
		`{"testsGenerated":0,"edgeCasesDetected":0,"coveragePercent":0,"testsPassed":true,"done":true}.`, in.Branch)
	if iteration > 1 {
		prompt += fmt.Sprintf("\n\nPrevious round reached %.1f%% coverage with testsPassed=%v. "+
			"Add edge-case tests to improve coverage, or set done=true if no further improvement is possible.",
			prior.CoveragePercent, prior.TestsPassed)
	}
	return prompt
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
