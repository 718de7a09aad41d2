package store

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/costentry"
)

// NewCostEntry is the value half of append(collection="cost_entry", ...).
type NewCostEntry struct {
	ID               string
	TaskID           string
	PhaseName        string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// AppendCostEntry records one billed agent turn.
func (s *Store) AppendCostEntry(ctx context.Context, in NewCostEntry) (*ent.CostEntry, error) {
	created, err := s.client.CostEntry.Create().
		SetID(in.ID).
		SetTaskID(in.TaskID).
		SetPhaseName(in.PhaseName).
		SetPromptTokens(in.PromptTokens).
		SetCompletionTokens(in.CompletionTokens).
		SetCostUsd(in.CostUSD).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("appending cost entry %s: %w", in.ID, err)
	}
	return created, nil
}

// ListCostEntries returns every cost entry recorded for a task.
func (s *Store) ListCostEntries(ctx context.Context, taskID string) ([]*ent.CostEntry, error) {
	entries, err := s.client.CostEntry.Query().
		Where(costentry.TaskIDEQ(taskID)).
		Order(ent.Asc(costentry.FieldRecordedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cost entries for task %s: %w", taskID, err)
	}
	return entries, nil
}

// TaskCostTotal sums prompt/completion tokens and USD spend across every
// cost entry recorded for a task, for the cost aggregator's per-task gauge.
func (s *Store) TaskCostTotal(ctx context.Context, taskID string) (promptTokens, completionTokens int, costUSD float64, err error) {
	entries, err := s.ListCostEntries(ctx, taskID)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, e := range entries {
		promptTokens += e.PromptTokens
		completionTokens += e.CompletionTokens
		costUSD += e.CostUsd
	}
	return promptTokens, completionTokens, costUSD, nil
}
