package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutCheckpoint_RoundTrips(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	_, err := s.PutCheckpoint(ctx, "cp-1", "task-1", "planning", map[string]any{"stories": 3})
	require.NoError(t, err)

	cp, err := s.GetCheckpoint(ctx, "task-1", "planning")
	require.NoError(t, err)
	assert.Equal(t, "cp-1", cp.ID)
	assert.Equal(t, 3, int(cp.ApprovedPayload["stories"].(float64)))
}

func TestListCheckpoints_ReturnsAllPhasesForTask(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	_, err := s.PutCheckpoint(ctx, "cp-1", "task-1", "planning", nil)
	require.NoError(t, err)
	_, err = s.PutCheckpoint(ctx, "cp-2", "task-1", "analysis", nil)
	require.NoError(t, err)

	cps, err := s.ListCheckpoints(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, cps, 2)
}
