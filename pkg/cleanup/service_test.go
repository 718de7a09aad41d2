package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/pkg/config"
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *ent.Client {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	return client
}

func createTask(t *testing.T, client *ent.Client, id string) *ent.Task {
	t.Helper()
	task, err := client.Task.Create().
		SetID(id).
		SetUserID("user-1").
		SetTitle("test task").
		SetDescription("test description").
		Save(context.Background())
	require.NoError(t, err)
	return task
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		SessionRetentionDays: 365,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      1 * time.Hour,
	}
}

func TestService_SoftDeletesOldCompletedTasks(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tk := createTask(t, client, "task-old-completed")
	_, err := client.Task.UpdateOneID(tk.ID).
		SetStatus("completed").
		SetUpdatedAt(time.Now().Add(-400 * 24 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client)
	svc.runAll(ctx)

	updated, err := client.Task.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.DeletedAt)
}

func TestService_SoftDeletesStalePendingTasks(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tk := createTask(t, client, "task-stale-pending")
	_, err := client.Task.UpdateOneID(tk.ID).
		SetUpdatedAt(time.Now().Add(-400 * 24 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client)
	svc.runAll(ctx)

	updated, err := client.Task.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.DeletedAt)
}

func TestService_PreservesRecentTasks(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tk := createTask(t, client, "task-recent")
	_, err := client.Task.UpdateOneID(tk.ID).
		SetStatus("completed").
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client)
	svc.runAll(ctx)

	updated, err := client.Task.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.DeletedAt)
}

func TestService_PreservesRunningTasksRegardlessOfAge(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tk := createTask(t, client, "task-running")
	_, err := client.Task.UpdateOneID(tk.ID).
		SetStatus("running").
		SetUpdatedAt(time.Now().Add(-400 * 24 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client)
	svc.runAll(ctx)

	updated, err := client.Task.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.DeletedAt, "a running task should never be auto-deleted regardless of age")
}

func TestService_CleansUpOrphanedActivityOnDeletedTasks(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	tk := createTask(t, client, "task-with-activity")
	_, err := client.ActivityEntry.Create().
		SetID("activity-old").
		SetTaskID(tk.ID).
		SetSequence(1).
		SetType("log.line").
		SetContent("old line").
		SetTimestamp(time.Now().Add(-2 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.ActivityEntry.Create().
		SetID("activity-recent").
		SetTaskID(tk.ID).
		SetSequence(2).
		SetType("log.line").
		SetContent("recent line").
		SetTimestamp(time.Now()).
		Save(ctx)
	require.NoError(t, err)

	_, err = client.Task.UpdateOneID(tk.ID).
		SetDeletedAt(time.Now()).
		Save(ctx)
	require.NoError(t, err)

	svc := NewService(retentionConfig(), client)
	svc.runAll(ctx)

	remaining, err := client.ActivityEntry.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "activity-recent", remaining[0].ID)
}
