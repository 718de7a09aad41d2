package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/task"
	"github.com/agentpipe/core/pkg/agentclient"
	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/security"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const analysisJSON = `{"summary":"rename the field","approach":"grep and replace","risks":["none"],` +
	`"stories":[{"title":"rename foo to bar","description":"update README.md",` +
	`"filesToModify":["README.md"],"filesToCreate":[],"filesToRead":["README.md"],` +
	`"acceptanceCriteria":["README.md says bar"]}]}`

func newTestPhase(t *testing.T) (*Phase, *agentclient.StubClient, *approval.Broker, *store.Store, string) {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	st := store.New(client)

	_, err := st.PutTask(context.Background(), store.NewTask{
		ID: "task-1", UserID: "user-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic,
	})
	require.NoError(t, err)

	stub := agentclient.NewStubClient()
	broker := approval.New(&config.ApprovalConfig{MaxFeedbackRounds: 3}, st, nil, nil)
	observer := security.NewObserver(security.DefaultCatalogue(), st, nil, config.DefaultObserverConfig())
	coordinator := workspace.New(&config.WorkspaceConfig{BaseDir: t.TempDir(), CommandTimeout: 30})

	p := New(stub, broker, observer, st, coordinator, config.DefaultPhaseConfig())
	return p, stub, broker, st, "analysis: task-1"
}

func TestRun_ApprovedOnFirstPass(t *testing.T) {
	p, stub, broker, st, sessionTitle := newTestPhase(t)
	ctx := context.Background()

	stub.Script(sessionTitle, agentclient.TextTurn(analysisJSON))

	done := make(chan phases.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := p.Run(ctx, phases.Context{
			Task: &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic},
		})
		done <- result
		errCh <- err
	}()

	require.Eventually(t, func() bool { return broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, broker.Resolve(ctx, "task-1", checkpointName, approval.ActionApprove, ""))

	result := <-done
	require.NoError(t, <-errCh)

	assert.Equal(t, "agentpipe/task-1", result.Payload["branchName"])

	stories, err := st.ListStories(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "rename foo to bar", stories[0].Title)
	assert.Equal(t, 0, stories[0].StoryIndex)

	updated, err := st.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "agentpipe/task-1", updated.BranchName)
}

func TestRun_RejectedAtCheckpointReturnsErrRejectedAndPersistsNoStories(t *testing.T) {
	p, stub, broker, st, sessionTitle := newTestPhase(t)
	ctx := context.Background()

	stub.Script(sessionTitle, agentclient.TextTurn(analysisJSON))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, phases.Context{
			Task: &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic},
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, broker.Resolve(ctx, "task-1", checkpointName, approval.ActionReject, "no"))

	assert.ErrorIs(t, <-errCh, phases.ErrRejected)

	stories, err := st.ListStories(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, stories)
}
