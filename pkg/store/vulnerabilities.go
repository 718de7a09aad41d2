package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/vulnerability"
)

// NewVulnerability is the value half of append(collection="vulnerability", ...).
type NewVulnerability struct {
	ID                string
	TaskID            string
	SessionID         string
	PhaseName         string
	Severity          vulnerability.Severity
	Category          string
	VulnerabilityType string
	Description       string
	Evidence          map[string]interface{}
	MatchedPattern    string
	ToolUseID         *string
	TurnNumber        *int
	FilePath          *string
	LineNumber        *int
	CodeSnippet       *string
	OwaspCategory     *string
	CweID             *string
	Recommendation    *string
	StoryID           *string
	Blocked           bool
}

// AppendVulnerability records one security observer finding.
func (s *Store) AppendVulnerability(ctx context.Context, in NewVulnerability) (*ent.Vulnerability, error) {
	create := s.client.Vulnerability.Create().
		SetID(in.ID).
		SetTaskID(in.TaskID).
		SetSessionID(in.SessionID).
		SetPhaseName(in.PhaseName).
		SetTimestamp(time.Now()).
		SetSeverity(in.Severity).
		SetCategory(in.Category).
		SetVulnerabilityType(in.VulnerabilityType).
		SetDescription(in.Description).
		SetMatchedPattern(in.MatchedPattern).
		SetBlocked(in.Blocked)

	if in.Evidence != nil {
		create = create.SetEvidence(in.Evidence)
	}
	if in.ToolUseID != nil {
		create = create.SetToolUseID(*in.ToolUseID)
	}
	if in.TurnNumber != nil {
		create = create.SetTurnNumber(*in.TurnNumber)
	}
	if in.FilePath != nil {
		create = create.SetFilePath(*in.FilePath)
	}
	if in.LineNumber != nil {
		create = create.SetLineNumber(*in.LineNumber)
	}
	if in.CodeSnippet != nil {
		create = create.SetCodeSnippet(*in.CodeSnippet)
	}
	if in.OwaspCategory != nil {
		create = create.SetOwaspCategory(*in.OwaspCategory)
	}
	if in.CweID != nil {
		create = create.SetCweID(*in.CweID)
	}
	if in.Recommendation != nil {
		create = create.SetRecommendation(*in.Recommendation)
	}
	if in.StoryID != nil {
		create = create.SetStoryID(*in.StoryID)
	}

	created, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("appending vulnerability %s: %w", in.ID, err)
	}
	return created, nil
}

// ListVulnerabilities returns every finding for a task, newest first.
func (s *Store) ListVulnerabilities(ctx context.Context, taskID string) ([]*ent.Vulnerability, error) {
	vulns, err := s.client.Vulnerability.Query().
		Where(vulnerability.TaskIDEQ(taskID)).
		Order(ent.Desc(vulnerability.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vulnerabilities for task %s: %w", taskID, err)
	}
	return vulns, nil
}

// ListVulnerabilitiesBySeverity filters a task's findings to a minimum
// severity, for the risk rollup that decides whether a phase must block.
func (s *Store) ListVulnerabilitiesBySeverity(ctx context.Context, taskID string, severities ...vulnerability.Severity) ([]*ent.Vulnerability, error) {
	vulns, err := s.client.Vulnerability.Query().
		Where(
			vulnerability.TaskIDEQ(taskID),
			vulnerability.SeverityIn(severities...),
		).
		Order(ent.Desc(vulnerability.FieldTimestamp)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vulnerabilities for task %s by severity: %w", taskID, err)
	}
	return vulns, nil
}
