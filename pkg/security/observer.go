package security

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/vulnerability"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/events"
	"github.com/agentpipe/core/pkg/store"
	"github.com/google/uuid"
)

// Agent event types, mirroring the CodeAgentClient event shape (§6).
const (
	EventToolExecuteBefore  = "tool.execute.before"
	EventToolExecuteAfter   = "tool.execute.after"
	EventMessagePartUpdated = "message.part.updated"
)

// AgentEvent is one event off a code-agent session's stream, in the shape
// the Agent Session Client delivers it.
type AgentEvent struct {
	Type       string
	Tool       string
	Args       map[string]any
	Result     string
	ToolUseID  string
	TurnNumber int
	Content    string // populated for message.part.updated
	FilePath   string // populated when extractable from Args
}

// ObserveInput names the causal context a single event is observed under.
type ObserveInput struct {
	TaskID    string
	SessionID string
	PhaseName string
	StoryID   *string
	Event     AgentEvent
}

// Observer inspects the code-agent event stream in causal order and emits
// Vulnerability records. It never mutates the stream it observes.
type Observer struct {
	catalogue *Catalogue
	store     *store.Store
	events    *events.Manager
	loops     *LoopDetector
}

// NewObserver wires a catalogue, the durable store, and the event bus into
// one observer. mgr may be nil in tests that don't care about fan-out.
func NewObserver(cat *Catalogue, st *store.Store, mgr *events.Manager, cfg *config.ObserverConfig) *Observer {
	return &Observer{
		catalogue: cat,
		store:     st,
		events:    mgr,
		loops:     NewLoopDetector(cfg.LoopThreshold, time.Duration(cfg.LoopWindowMs)*time.Millisecond),
	}
}

// Observe analyzes one event and persists every Vulnerability it raises,
// in causal order within a session (callers must serialize calls per
// session; the detector state and store writes underneath do not
// reorder). Returns every vulnerability recorded for this event.
func (o *Observer) Observe(ctx context.Context, in ObserveInput) ([]*ent.Vulnerability, error) {
	var found []*ent.Vulnerability

	if in.Event.Type == EventToolExecuteBefore {
		if lf := o.loops.Record(in.SessionID, in.Event.Tool, time.Now()); lf != nil {
			v, err := o.recordLoopFinding(ctx, in, lf)
			if err != nil {
				return found, err
			}
			found = append(found, v)
		}
	}

	content := eventContent(in.Event)
	for _, category := range categoriesForEvent(in.Event) {
		for _, sig := range o.catalogue.MatchCategory(category, content) {
			v, err := o.recordSignatureMatch(ctx, in, sig, content)
			if err != nil {
				return found, err
			}
			found = append(found, v)
		}
	}

	return found, nil
}

// categoriesForEvent decides which signature categories apply to an
// event, per the trigger-event column of the signature catalogue table.
// Not every category has a regex-driven rule for every tool; this is the
// routing the "not exhaustive" rule-shape table implies.
func categoriesForEvent(ev AgentEvent) []string {
	switch ev.Type {
	case EventMessagePartUpdated:
		return []string{CategoryPromptInjection, CategorySecretExposure}
	case EventToolExecuteBefore, EventToolExecuteAfter:
		switch ev.Tool {
		case "bash", "shell", "exec":
			return []string{
				CategoryDangerousCommand, CategoryNetworkAttack, CategoryCodeInjection,
				CategorySupplyChain, CategoryPersistence, CategorySecretExposure,
			}
		case "write", "edit", "read":
			return []string{CategoryPathTraversal, CategoryCodeInjection, CategorySecretExposure}
		default:
			return []string{CategorySecretExposure}
		}
	default:
		return nil
	}
}

func eventContent(ev AgentEvent) string {
	if ev.Content != "" {
		return ev.Content
	}
	if ev.Type == EventToolExecuteAfter {
		return ev.Result
	}
	return fmt.Sprintf("%v", ev.Args)
}

func (o *Observer) recordSignatureMatch(ctx context.Context, in ObserveInput, sig *Signature, content string) (*ent.Vulnerability, error) {
	severity := sig.Severity
	if in.Event.Type == EventMessagePartUpdated && severity == SeverityCritical {
		severity = SeverityHigh
	}

	blocked := severity == SeverityCritical && categoriesBlockedOnCritical[sig.Category]

	params := store.NewVulnerability{
		ID:                uuid.NewString(),
		TaskID:            in.TaskID,
		SessionID:         in.SessionID,
		PhaseName:         in.PhaseName,
		Severity:          vulnerability.Severity(severity),
		Category:          sig.Category,
		VulnerabilityType: sig.Name,
		Description:       sig.Description,
		Evidence:          map[string]interface{}{"matched_text": truncate(content, 200)},
		MatchedPattern:    sig.Name,
		OwaspCategory:     &sig.OWASPCategory,
		CweID:             &sig.CWEID,
		Recommendation:    &sig.Recommendation,
		StoryID:           in.StoryID,
		Blocked:           blocked,
	}
	if in.Event.Type == EventToolExecuteBefore || in.Event.Type == EventToolExecuteAfter {
		if in.Event.ToolUseID != "" {
			params.ToolUseID = &in.Event.ToolUseID
		}
		turn := in.Event.TurnNumber
		params.TurnNumber = &turn
	}
	if in.Event.FilePath != "" {
		params.FilePath = &in.Event.FilePath
	}

	v, err := o.store.AppendVulnerability(ctx, params)
	if err != nil {
		return nil, err
	}
	if o.events != nil {
		o.events.PublishVulnerability(ctx, in.TaskID, severity, sig.Category, blocked)
	}
	return v, nil
}

func (o *Observer) recordLoopFinding(ctx context.Context, in ObserveInput, lf *LoopFinding) (*ent.Vulnerability, error) {
	desc := fmt.Sprintf("tool %q fired %d times in the detection window", lf.Tool, lf.Count)
	v, err := o.store.AppendVulnerability(ctx, store.NewVulnerability{
		ID:                uuid.NewString(),
		TaskID:            in.TaskID,
		SessionID:         in.SessionID,
		PhaseName:         in.PhaseName,
		Severity:          vulnerability.Severity(lf.Severity),
		Category:          CategoryResourceExhaustion,
		VulnerabilityType: "infinite_loop",
		Description:       desc,
		MatchedPattern:    "tool_call_repeat_count",
		StoryID:           in.StoryID,
		Blocked:           lf.Blocked,
	})
	if err != nil {
		return nil, err
	}
	if o.events != nil {
		o.events.PublishVulnerability(ctx, in.TaskID, lf.Severity, CategoryResourceExhaustion, lf.Blocked)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
