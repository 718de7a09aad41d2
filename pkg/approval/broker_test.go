package approval

import (
	"context"
	"testing"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/pkg/config"
	"github.com/agentpipe/core/pkg/store"
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, *ent.Client) {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	st := store.New(client)

	_, err := st.PutTask(context.Background(), store.NewTask{
		ID: "task-1", UserID: "user-1", Title: "t", Description: "d",
	})
	require.NoError(t, err)

	cfg := &config.ApprovalConfig{DefaultTimeoutMs: 0, MaxFeedbackRounds: 3}
	return New(cfg, st, nil, nil), client
}

func TestRequest_BlocksUntilResolve(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	done := make(chan Response, 1)
	go func() {
		resp, err := b.Request(ctx, "task-1", "planning", map[string]any{"x": 1}, 1, 0)
		require.NoError(t, err)
		done <- resp
	}()

	require.Eventually(t, func() bool { return b.HasPending("task-1", "planning") }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Resolve(ctx, "task-1", "planning", ActionApprove, ""))

	select {
	case resp := <-done:
		assert.Equal(t, ActionApprove, resp.Action)
		assert.False(t, resp.TimedOut)
	case <-time.After(time.Second):
		t.Fatal("Request did not unblock")
	}
	assert.False(t, b.HasPending("task-1", "planning"))
}

func TestRequest_DuplicateKeyIsAnError(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	go func() { _, _ = b.Request(ctx, "task-1", "planning", nil, 1, 0) }()
	require.Eventually(t, func() bool { return b.HasPending("task-1", "planning") }, time.Second, 5*time.Millisecond)

	_, err := b.Request(ctx, "task-1", "planning", nil, 1, 0)
	assert.ErrorIs(t, err, ErrAlreadyPending)

	require.NoError(t, b.Resolve(ctx, "task-1", "planning", ActionApprove, ""))
}

func TestRequest_TimeoutResolvesWithTimedOutResponse(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()

	resp, err := b.Request(ctx, "task-1", "planning", nil, 1, 20)
	require.NoError(t, err)
	assert.True(t, resp.TimedOut)
	assert.Equal(t, ActionReject, resp.Action)

	audits, err := client.ApprovalAudit.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.EqualValues(t, "timeout", audits[0].Action)
}

func TestResolve_NoSuchPendingIsAnError(t *testing.T) {
	b, _ := newTestBroker(t)
	err := b.Resolve(context.Background(), "task-1", "nonexistent", ActionApprove, "")
	assert.ErrorIs(t, err, ErrNoSuchPending)
}

func TestCancelTask_RejectsAllPendingForTask(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	done1 := make(chan Response, 1)
	done2 := make(chan Response, 1)
	go func() {
		resp, _ := b.Request(ctx, "task-1", "planning", nil, 1, 0)
		done1 <- resp
	}()
	go func() {
		resp, _ := b.Request(ctx, "task-1", "analysis", nil, 1, 0)
		done2 <- resp
	}()

	require.Eventually(t, func() bool {
		return b.HasPending("task-1", "planning") && b.HasPending("task-1", "analysis")
	}, time.Second, 5*time.Millisecond)

	b.CancelTask("task-1")

	resp1 := <-done1
	resp2 := <-done2
	assert.Equal(t, ActionReject, resp1.Action)
	assert.Equal(t, "task_cancelled", resp1.Feedback)
	assert.Equal(t, ActionReject, resp2.Action)
	assert.Equal(t, "task_cancelled", resp2.Feedback)
}

func TestAuditRecordedBeforeResolveReturns(t *testing.T) {
	b, client := newTestBroker(t)
	ctx := context.Background()

	go func() { _, _ = b.Request(ctx, "task-1", "planning", nil, 1, 0) }()
	require.Eventually(t, func() bool { return b.HasPending("task-1", "planning") }, time.Second, 5*time.Millisecond)

	feedback := "needs more tests"
	require.NoError(t, b.Resolve(ctx, "task-1", "planning", ActionRequestChanges, feedback))

	audits, err := client.ApprovalAudit.Query().All(ctx)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.EqualValues(t, "request_changes", audits[0].Action)
	require.NotNil(t, audits[0].Feedback)
	assert.Equal(t, feedback, *audits[0].Feedback)
}

func TestMaxFeedbackRounds_ReturnsConfiguredCap(t *testing.T) {
	b, _ := newTestBroker(t)
	assert.Equal(t, 3, b.MaxFeedbackRounds())
}
