package planning

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
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSimple(t *testing.T) {
	assert.True(t, IsSimple("rename foo to bar in README.md"))
	assert.False(t, IsSimple(`
		Build a brand new multi-tenant billing subsystem that reconciles
		usage events from four upstream services, applies tiered pricing
		rules per customer contract, handles proration for mid-cycle plan
		changes, emits invoices through the existing PDF renderer, and
		exposes an admin API for manual credit adjustments with a full
		audit trail of every change made by support staff.
	`))
}

func newTestPhase(t *testing.T) (*Phase, *agentclient.StubClient, *approval.Broker) {
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

	p := New(stub, broker, observer, &config.PlanningConfig{MaxJudgeIterations: 3}, config.DefaultPhaseConfig())
	return p, stub, broker
}

func TestRun_ApprovedOnFirstJudgePass(t *testing.T) {
	p, stub, broker := newTestPhase(t)
	ctx := context.Background()

	sessionTitle := "planning: t"
	stub.Script(sessionTitle,
		agentclient.TextTurn("UX_FLOWS: none\nPLANNED_TASKS: rename\nENRICHED_PROMPT: rename foo to bar"),
		agentclient.TextTurn(`{"verdict":"approved","feedback":""}`),
	)

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
	assert.Equal(t, "rename foo to bar", result.Payload["enrichedPrompt"])
}

func TestRun_RejectedAtCheckpointReturnsErrRejected(t *testing.T) {
	p, stub, broker := newTestPhase(t)
	ctx := context.Background()

	sessionTitle := "planning: t"
	stub.Script(sessionTitle,
		agentclient.TextTurn("UX_FLOWS: none\nPLANNED_TASKS: rename\nENRICHED_PROMPT: rename foo to bar"),
		agentclient.TextTurn(`{"verdict":"approved","feedback":""}`),
	)

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
}
