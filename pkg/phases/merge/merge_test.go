package merge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMerger struct {
	dirty   map[string]bool
	opened  []string
	nextURL int
}

func (f *fakeMerger) HasChanges(_ context.Context, path string) (bool, error) {
	return f.dirty[path], nil
}

func (f *fakeMerger) OpenPullRequest(_ context.Context, repoRef, branch, title, body string, _ workspace.Credential) (string, error) {
	f.nextURL++
	url := fmt.Sprintf("https://github.com/%s/pull/%d", repoRef, f.nextURL)
	f.opened = append(f.opened, url)
	return url, nil
}

func newTestPhase(t *testing.T) (*Phase, *fakeMerger, *approval.Broker, *store.Store) {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	st := store.New(client)

	_, err := st.PutTask(context.Background(), store.NewTask{
		ID: "task-1", UserID: "user-1", Title: "t", Description: "fix typo", Mode: task.ModeManual,
	})
	require.NoError(t, err)

	broker := approval.New(&config.ApprovalConfig{MaxFeedbackRounds: 3}, st, nil, nil)
	merger := &fakeMerger{dirty: map[string]bool{}}
	p := New(merger, broker, st)
	return p, merger, broker, st
}

func TestRun_AutomaticModeMergesWithoutCheckpoint(t *testing.T) {
	p, _, _, st := newTestPhase(t)
	ctx := context.Background()

	result, err := p.Run(ctx, phases.Context{
		Task:           &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic},
		Branch:         "agentpipe/task-1",
		WorkspacePaths: map[string]string{"acme/widgets": "/tmp/widgets"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, result.Payload["merged"])
	assert.Len(t, result.Payload["pullRequests"], 1)

	updated, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, updated.PullRequests, 1)
}

func TestRun_ManualModeSuspendsThenMergesOnApproval(t *testing.T) {
	p, _, broker, _ := newTestPhase(t)
	ctx := context.Background()

	done := make(chan phases.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := p.Run(ctx, phases.Context{
			Task:           &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeManual},
			Branch:         "agentpipe/task-1",
			WorkspacePaths: map[string]string{"acme/widgets": "/tmp/widgets"},
		})
		done <- result
		errCh <- err
	}()

	require.Eventually(t, func() bool { return broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, broker.Resolve(ctx, "task-1", checkpointName, approval.ActionApprove, ""))

	result := <-done
	require.NoError(t, <-errCh)
	assert.Equal(t, true, result.Payload["merged"])
}

func TestRun_ManualModeRejectedAtCheckpointReturnsErrRejected(t *testing.T) {
	p, _, broker, _ := newTestPhase(t)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, phases.Context{
			Task:           &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeManual},
			Branch:         "agentpipe/task-1",
			WorkspacePaths: map[string]string{"acme/widgets": "/tmp/widgets"},
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, broker.Resolve(ctx, "task-1", checkpointName, approval.ActionReject, "not yet"))

	assert.ErrorIs(t, <-errCh, phases.ErrRejected)
}

func TestRun_RefusesToOpenPRAgainstDirtyWorkspace(t *testing.T) {
	p, merger, _, _ := newTestPhase(t)
	merger.dirty["/tmp/widgets"] = true
	ctx := context.Background()

	_, err := p.Run(ctx, phases.Context{
		Task:           &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic},
		Branch:         "agentpipe/task-1",
		WorkspacePaths: map[string]string{"acme/widgets": "/tmp/widgets"},
	})
	require.Error(t, err)
}
