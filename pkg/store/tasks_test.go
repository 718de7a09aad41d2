package store

import (
	"context"
	"testing"
	"time"

	"github.com/agentpipe/core/ent/schema"
	"github.com/agentpipe/core/ent/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTask_DefaultsLaneToRegular(t *testing.T) {
	s, _ := newTestStore(t)
	tk := seedTask(t, s, "task-1")
	assert.Equal(t, task.LaneRegular, tk.Lane)
	assert.Equal(t, task.StatusPending, tk.Status)
}

func TestGetTask_ExcludesSoftDeleted(t *testing.T) {
	s, client := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-deleted")

	_, err := client.Task.UpdateOneID("task-deleted").SetDeletedAt(time.Now()).Save(ctx)
	require.NoError(t, err)

	_, err = s.GetTask(ctx, "task-deleted")
	assert.Error(t, err)
}

func TestListTasks_FiltersByStatusAndLane(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seedTask(t, s, "task-a")
	seedTask(t, s, "task-b")
	_, err := s.SetTaskStatus(ctx, "task-b", task.StatusRunning)
	require.NoError(t, err)

	running := task.StatusRunning
	results, err := s.ListTasks(ctx, TaskFilter{Status: &running})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "task-b", results[0].ID)
}

func TestSetTaskStatus_Transitions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	updated, err := s.SetTaskStatus(ctx, "task-1", task.StatusQueued)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, updated.Status)
}

func TestAppendCompletedPhase_ClearsCurrentPhaseInSameWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	_, err := s.SetCurrentPhase(ctx, "task-1", "planning")
	require.NoError(t, err)

	updated, err := s.AppendCompletedPhase(ctx, "task-1", schema.CompletedPhase{
		Name:    "planning",
		Payload: map[string]interface{}{"stories": 3},
	})
	require.NoError(t, err)
	require.Len(t, updated.CompletedPhases, 1)
	assert.Equal(t, "planning", updated.CompletedPhases[0].Name)
	assert.Nil(t, updated.CurrentPhase)
}

func TestAppendCompletedPhase_AccumulatesAcrossCalls(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-1")

	_, err := s.AppendCompletedPhase(ctx, "task-1", schema.CompletedPhase{Name: "planning"})
	require.NoError(t, err)
	updated, err := s.AppendCompletedPhase(ctx, "task-1", schema.CompletedPhase{Name: "analysis"})
	require.NoError(t, err)

	require.Len(t, updated.CompletedPhases, 2)
	assert.Equal(t, "planning", updated.CompletedPhases[0].Name)
	assert.Equal(t, "analysis", updated.CompletedPhases[1].Name)
}

func TestRecoverInterruptedTask_OnlyAffectsRunningOrPaused(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-running")
	_, err := s.SetTaskStatus(ctx, "task-running", task.StatusRunning)
	require.NoError(t, err)

	changed, err := s.RecoverInterruptedTask(ctx, "task-running")
	require.NoError(t, err)
	assert.True(t, changed)

	tk, err := s.GetTask(ctx, "task-running")
	require.NoError(t, err)
	assert.Equal(t, task.StatusInterrupted, tk.Status)
}

func TestRecoverInterruptedTask_NoOpWhenAlreadyResolved(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTask(t, s, "task-done")
	_, err := s.SetTaskStatus(ctx, "task-done", task.StatusCompleted)
	require.NoError(t, err)

	changed, err := s.RecoverInterruptedTask(ctx, "task-done")
	require.NoError(t, err)
	assert.False(t, changed)
}
