// Package common holds the agent-session and judge-loop plumbing shared by
// Planning, Developer, and TestGeneration — every phase that runs a bounded
// DEV/JUDGE/FIX style loop over a code-agent session.
package common

import (
	"encoding/json"
	"fmt"
)

// JudgeVerdict is the parsed structured output of a judge turn. Phases
// prompt the agent to reply with exactly this shape on its final message.
type JudgeVerdict struct {
	Verdict  string `json:"verdict"` // "approved", "needs_revision", "rejected"
	Feedback string `json:"feedback"`
}

// ParseJudgeVerdict extracts a JudgeVerdict from a judge turn's final
// message text. An agent that returns unparseable judge output is an Agent
// error (§7); the caller decides whether to retry the iteration.
func ParseJudgeVerdict(text string) (JudgeVerdict, error) {
	var v JudgeVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return JudgeVerdict{}, fmt.Errorf("parsing judge verdict: %w", err)
	}
	switch v.Verdict {
	case "approved", "needs_revision", "rejected":
	default:
		return JudgeVerdict{}, fmt.Errorf("judge verdict has unrecognized value %q", v.Verdict)
	}
	return v, nil
}

// Approved reports whether the judge signed off.
func (v JudgeVerdict) Approved() bool { return v.Verdict == "approved" }

// Rejected reports whether the judge gave up on this iteration entirely.
func (v JudgeVerdict) Rejected() bool { return v.Verdict == "rejected" }
