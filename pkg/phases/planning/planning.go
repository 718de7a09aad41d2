// Package planning implements the Planning phase (§4.6): assess task
// complexity, resolve clarifying questions, and produce an enriched prompt
// and task breakdown behind a judge-and-fix loop, gated by user approval.
package planning

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/common"
	"github.com/agentpipe/core/pkg/security"
)

const checkpointName = "planning"

// complexityWordThreshold is the phase's own rubric (§9 Open Question 2):
// a description naming more than this many distinct action verbs/clauses
// is treated as complex enough to warrant clarifying questions.
const complexityWordThreshold = 40

// IsSimple applies Planning's complexity rubric to a task description. The
// orchestrator calls this before deciding whether to include Planning in
// the phase sequence at all (subject to the task's own skip flag); the
// rubric itself stays a Planning-phase concern.
func IsSimple(description string) bool {
	return len(strings.Fields(description)) <= complexityWordThreshold
}

// Phase drives Planning.
type Phase struct {
	client   agentclient.Client
	broker   *approval.Broker
	observer *security.Observer
	cfg      *config.PlanningConfig
	phaseCfg *config.PhaseConfig
}

// New builds a Planning phase.
func New(client agentclient.Client, broker *approval.Broker, observer *security.Observer, cfg *config.PlanningConfig, phaseCfg *config.PhaseConfig) *Phase {
	return &Phase{client: client, broker: broker, observer: observer, cfg: cfg, phaseCfg: phaseCfg}
}

func (p *Phase) Name() string { return "planning" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	automatic := in.Task.Mode == "automatic"
	complex := !IsSimple(in.Task.Description)

	clarifications := map[string]string{}
	if complex {
		questions := p.generateClarifyingQuestions(in.Task.Description)
		if automatic {
			for _, q := range questions {
				clarifications[q] = p.selfAnswer(q)
			}
		} else {
			answers, err := p.awaitClarificationAnswers(ctx, in.Task.ID, questions, in.OnApprovalWaiting)
			if err != nil {
				return phases.Result{}, err
			}
			clarifications = answers
		}
	}

	sessionID, err := p.client.CreateSession(ctx, agentclient.SessionOptions{
		Title:       fmt.Sprintf("planning: %s", in.Task.Title),
		AutoApprove: automatic,
	})
	if err != nil {
		return phases.Result{}, fmt.Errorf("planning: creating session: %w", err)
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

	payload, err := p.judgeAndFixLoop(ctx, sessionID, in.Task.Description, clarifications, observe)
	if err != nil {
		return phases.Result{}, err
	}

	if in.OnApprovalWaiting != nil {
		in.OnApprovalWaiting(ctx, true)
	}
	resp, err := common.RequestApproval(ctx, p.broker, in.Task.ID, checkpointName, payload, 0, func(feedback string) (map[string]any, error) {
		payload["feedback"] = feedback
		refined, err := p.judgeAndFixLoop(ctx, sessionID, in.Task.Description, clarifications, observe)
		if err != nil {
			return nil, err
		}
		return refined, nil
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

	return phases.Result{Payload: payload}, nil
}

// judgeAndFixLoop runs DEV (produce a plan) then JUDGE (critique it) up to
// MaxJudgeIterations times, returning the last plan produced once the judge
// approves or the bound is hit.
func (p *Phase) judgeAndFixLoop(ctx context.Context, sessionID, description string, clarifications map[string]string, observe common.Observe) (map[string]any, error) {
	maxIterations := p.cfg.MaxJudgeIterations
	if maxIterations <= 0 {
		maxIterations = 3
	}

	var lastPayload map[string]any
	feedback := ""
	for i := 0; i < maxIterations; i++ {
		prompt := buildPlanPrompt(description, clarifications, feedback)
		planText, _, err := common.RunTurn(ctx, p.client, sessionID, prompt, p.waitOptions(), observe)
		if err != nil {
			return nil, fmt.Errorf("planning: dev turn: %w", err)
		}

		judgeText, _, err := common.RunTurn(ctx, p.client, sessionID, judgePrompt, p.waitOptions(), observe)
		if err != nil {
			return nil, fmt.Errorf("planning: judge turn: %w", err)
		}

		verdict, err := common.ParseJudgeVerdict(judgeText)
		if err != nil {
			return nil, fmt.Errorf("planning: %w", err)
		}

		lastPayload = map[string]any{
			"clarifications": clarifications,
			"uxFlows":        extractSection(planText, "UX_FLOWS"),
			"plannedTasks":   extractSection(planText, "PLANNED_TASKS"),
			"enrichedPrompt": extractSection(planText, "ENRICHED_PROMPT"),
		}

		if verdict.Approved() {
			return lastPayload, nil
		}
		feedback = verdict.Feedback
	}
	return lastPayload, nil
}

func (p *Phase) generateClarifyingQuestions(description string) []string {
	return []string{fmt.Sprintf("Please confirm the intended scope of: %q", description)}
}

func (p *Phase) selfAnswer(question string) string {
	return "proceed with the most conservative reading of: " + question
}

// awaitClarificationAnswers suspends on the approval checkpoint carrying the
// generated questions, reusing the broker rendezvous as the user-answer
// channel: the resolving payload's feedback string is the combined answer.
func (p *Phase) awaitClarificationAnswers(ctx context.Context, taskID string, questions []string, onWaiting func(context.Context, bool)) (map[string]string, error) {
	if onWaiting != nil {
		onWaiting(ctx, true)
	}
	resp, err := p.broker.Request(ctx, taskID, "planning:clarifications", map[string]any{"questions": questions}, 1, 0)
	if onWaiting != nil {
		onWaiting(ctx, false)
	}
	if err != nil {
		return nil, fmt.Errorf("planning: awaiting clarifications: %w", err)
	}
	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q] = resp.Feedback
	}
	return answers, nil
}

func (p *Phase) waitOptions() agentclient.WaitOptions {
	return agentclient.WaitOptions{IdleTimeoutMs: p.phaseCfg.IdleTimeoutMs}
}

const judgePrompt = `Review the plan you just produced. Reply with exactly one JSON object: {"verdict": "approved"|"needs_revision"|"rejected", "feedback": "..."}.`

func buildPlanPrompt(description string, clarifications map[string]string, feedback string) string {
	var b strings.Builder
	b.WriteString("Produce a plan for the following task:\n")
	b.WriteString(description)
	b.WriteString("\n\n")
	for q, a := range clarifications {
		fmt.Fprintf(&b, "Clarification: %s -> %s\n", q, a)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nAddress this feedback: %s\n", feedback)
	}
	b.WriteString("\nReply with sections UX_FLOWS:, PLANNED_TASKS:, and ENRICHED_PROMPT:.")
	return b.String()
}

// extractSection pulls the text following "NAME:" up to the next blank
// line or section header, a plain-text convention the agent is prompted to
// follow rather than a structured format the core must validate.
func extractSection(text, name string) string {
	marker := name + ":"
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(marker):]
	if end := strings.Index(rest, "\n\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
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
