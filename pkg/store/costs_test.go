package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCostTotal_SumsAcrossEntries(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	_, err := s.AppendCostEntry(ctx, NewCostEntry{ID: "cost-1", TaskID: "task-1", PhaseName: "planning", PromptTokens: 100, CompletionTokens: 20, CostUSD: 0.01})
	require.NoError(t, err)
	_, err = s.AppendCostEntry(ctx, NewCostEntry{ID: "cost-2", TaskID: "task-1", PhaseName: "developer", PromptTokens: 200, CompletionTokens: 80, CostUSD: 0.03})
	require.NoError(t, err)

	promptTokens, completionTokens, costUSD, err := s.TaskCostTotal(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 300, promptTokens)
	assert.Equal(t, 100, completionTokens)
	assert.InDelta(t, 0.04, costUSD, 0.0001)
}

func TestListCostEntries_ScopedToTask(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")
	seedTask(t, s, "task-2")

	_, err := s.AppendCostEntry(ctx, NewCostEntry{ID: "cost-1", TaskID: "task-1", PhaseName: "planning"})
	require.NoError(t, err)
	_, err = s.AppendCostEntry(ctx, NewCostEntry{ID: "cost-2", TaskID: "task-2", PhaseName: "planning"})
	require.NoError(t, err)

	entries, err := s.ListCostEntries(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cost-1", entries[0].ID)
}
