package developer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/story"
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

// preparedRepo seeds a one-commit git repository at a coordinator-managed
// path, bypassing the network clone PrepareWorkspace would otherwise do.
func preparedRepo(t *testing.T, c *workspace.Coordinator, taskID, repoRef string) string {
	t.Helper()
	path, err := c.RepoPath(taskID, repoRef)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(path, 0o755))

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = path
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("hi\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial commit")

	return path
}

// bareRemote creates a bare git repository to stand in for GitHub in tests,
// wired in place of the coordinator's real push destination via
// workspace.NewForTesting.
func bareRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-q", "--bare", dir)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git init --bare: %s", out)
	return dir
}

type fixture struct {
	phase       *Phase
	stub        *agentclient.StubClient
	broker      *approval.Broker
	store       *store.Store
	coordinator *workspace.Coordinator
	repoPath    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	st := store.New(client)

	_, err := st.PutTask(context.Background(), store.NewTask{
		ID: "task-1", UserID: "user-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic,
	})
	require.NoError(t, err)
	_, err = st.PutStory(context.Background(), store.NewStory{
		ID: "story-1", TaskID: "task-1", StoryIndex: 0, Title: "rename foo to bar",
		Description: "update README.md", AcceptanceCriteria: []string{"README.md says bar"},
	})
	require.NoError(t, err)

	stub := agentclient.NewStubClient()
	broker := approval.New(&config.ApprovalConfig{MaxFeedbackRounds: 3}, st, nil, nil)
	observer := security.NewObserver(security.DefaultCatalogue(), st, nil, config.DefaultObserverConfig())
	remote := bareRemote(t)
	coordinator := workspace.NewForTesting(&config.WorkspaceConfig{BaseDir: t.TempDir(), CommandTimeout: 10},
		func(repoRef string, _ workspace.Credential) (string, error) { return remote, nil }, nil)
	repoPath := preparedRepo(t, coordinator, "task-1", "acme/widgets")

	p := New(stub, broker, observer, st, coordinator, &config.DeveloperConfig{MaxIterations: 3}, config.DefaultPhaseConfig())
	return &fixture{phase: p, stub: stub, broker: broker, store: st, coordinator: coordinator, repoPath: repoPath}
}

func (f *fixture) runCtx() phases.Context {
	return phases.Context{
		Task:           &ent.Task{ID: "task-1", Title: "t", Description: "fix typo", Mode: task.ModeAutomatic},
		Branch:         "agentpipe/task-1",
		WorkspacePaths: map[string]string{"acme/widgets": f.repoPath},
	}
}

func TestRun_ApprovedStoryWithChangesCommitsAfterCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionTitle := "developer: task-1 story 0"
	require.NoError(t, os.WriteFile(filepath.Join(f.repoPath, "README.md"), []byte("bar\n"), 0o644))
	f.stub.Script(sessionTitle,
		agentclient.TextTurn("implemented"),
		agentclient.TextTurn(`{"verdict":"approved","feedback":""}`),
	)

	done := make(chan phases.Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := f.phase.Run(ctx, f.runCtx())
		done <- result
		errCh <- err
	}()

	require.Eventually(t, func() bool { return f.broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.broker.Resolve(ctx, "task-1", checkpointName, approval.ActionApprove, ""))

	result := <-done
	require.NoError(t, <-errCh)
	assert.EqualValues(t, 1, result.Payload["totalCommits"])

	has, err := f.coordinator.HasChanges(ctx, f.repoPath)
	require.NoError(t, err)
	assert.False(t, has, "workspace must be clean after a committed approval")

	stories, err := f.store.ListStories(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, "approved", string(stories[0].Verdict))
	require.NotNil(t, stories[0].CommitHash)
}

func TestRun_RejectedAtCheckpointDiscardsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionTitle := "developer: task-1 story 0"
	require.NoError(t, os.WriteFile(filepath.Join(f.repoPath, "README.md"), []byte("bar\n"), 0o644))
	f.stub.Script(sessionTitle,
		agentclient.TextTurn("implemented"),
		agentclient.TextTurn(`{"verdict":"approved","feedback":""}`),
	)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.phase.Run(ctx, f.runCtx())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return f.broker.HasPending("task-1", checkpointName) }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.broker.Resolve(ctx, "task-1", checkpointName, approval.ActionReject, "not good enough"))

	require.NoError(t, <-errCh)

	has, err := f.coordinator.HasChanges(ctx, f.repoPath)
	require.NoError(t, err)
	assert.False(t, has, "rollback invariant: workspace must be clean after rejection")

	stories, err := f.store.ListStories(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "rejected", string(stories[0].Verdict))
}

func TestRun_JudgeRejectsWithoutCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionTitle := "developer: task-1 story 0"
	require.NoError(t, os.WriteFile(filepath.Join(f.repoPath, "README.md"), []byte("bar\n"), 0o644))
	f.stub.Script(sessionTitle,
		agentclient.TextTurn("attempted but gave up"),
		agentclient.TextTurn(`{"verdict":"rejected","feedback":"unfixable"}`),
	)

	result, err := f.phase.Run(ctx, f.runCtx())
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Payload["totalCommits"])

	has, err := f.coordinator.HasChanges(ctx, f.repoPath)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRun_SkipsStoriesBeforeResumeCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.PutStory(ctx, store.NewStory{
		ID: "story-0", TaskID: "task-1", StoryIndex: 1, Title: "second story", Description: "d",
	})
	require.NoError(t, err)
	_, err = f.store.RecordStoryVerdict(ctx, "story-1", story.VerdictApproved, nil)
	require.NoError(t, err)

	sessionTitle := "developer: task-1 story 1"
	f.stub.Script(sessionTitle,
		agentclient.TextTurn("implemented"),
		agentclient.TextTurn(`{"verdict":"rejected","feedback":"done"}`),
	)

	in := f.runCtx()
	in.ResumeFromStoryIndex = 1
	result, err := f.phase.Run(ctx, in)
	require.NoError(t, err)

	stories := result.Payload["stories"].([]map[string]any)
	require.Len(t, stories, 2)
	assert.Equal(t, true, stories[0]["resumed"])
}
