// Package phases defines the common Phase contract every stage of the
// orchestrator's pipeline implements (§4.6), and the sentinel errors that
// let the orchestrator distinguish user rejection and policy blocks from
// fatal phase failures without inspecting phase-specific content.
package phases

import (
	"context"
	"errors"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/pkg/workspace"
)

// ErrRejected is returned when a checkpoint's final verdict (after
// exhausting the feedback-round cap) is a rejection. The orchestrator
// records the phase as failed and still runs GlobalScan.
var ErrRejected = errors.New("phases: rejected at checkpoint")

// ErrPolicyBlocked is returned when the Security Observer raised a
// blocked=true vulnerability and the phase's own policy treats that as
// fatal (§9 Open Question 1: blocked is advisory except where a phase
// chooses to hard-block).
var ErrPolicyBlocked = errors.New("phases: blocked by security policy")

// Context is the accumulated state a phase runs against: prior phases'
// approved payloads, the working branch and repository checkouts, and the
// Developer resume cursor.
type Context struct {
	Task *ent.Task

	// Approved holds every earlier phase's approved payload, keyed by
	// phase name, so a later phase never re-reads raw Task JSON.
	Approved map[string]map[string]any

	Branch               string
	Repositories         []string
	WorkspacePaths       map[string]string // repo ref -> on-disk path
	ResumeFromStoryIndex int

	// Credential authenticates git pushes and GitHub API calls for this
	// task's repositories, obtained by the orchestrator from the
	// Credential Vault before a phase runs.
	Credential workspace.Credential

	// OnStoryComplete is invoked by Developer after each story's inner
	// loop concludes, so the orchestrator can persist
	// last_completed_story_index without Developer depending on the
	// store directly (§9: callback soup collapses to structured
	// returns, this is the one callback the resume contract still
	// needs because it must happen *during* Developer, not after).
	OnStoryComplete func(ctx context.Context, storyIndex int) error

	// OnSessionStarted is invoked by any phase right after it opens an
	// agent session, so the orchestrator always knows the session a
	// cancellation needs to abort without every phase depending on the
	// Agent Client's cancel path itself.
	OnSessionStarted func(ctx context.Context, sessionID string)

	// OnApprovalWaiting is invoked by any phase immediately before it
	// suspends on an approval checkpoint (waiting=true) and again once the
	// checkpoint resolves (waiting=false), so the orchestrator can flip the
	// task's status to waiting_for_approval and back to running around the
	// suspension without the phase touching task status itself.
	OnApprovalWaiting func(ctx context.Context, waiting bool)
}

// Result is a phase's structured outcome: the payload recorded in
// completed_phases and PhaseCheckpoint on success.
type Result struct {
	Payload map[string]any
}

// Phase drives one stage of the pipeline against its collaborators. A non-nil
// error other than ErrRejected/ErrPolicyBlocked is treated as fatal.
type Phase interface {
	Name() string
	Run(ctx context.Context, in Context) (Result, error)
}
