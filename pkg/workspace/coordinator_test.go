package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/agentpipe/core/pkg/config"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return New(&config.WorkspaceConfig{BaseDir: t.TempDir(), CommandTimeout: 10})
}

func TestCoordinator_RepoPathIsScopedByTaskAndRepoName(t *testing.T) {
	c := newTestCoordinator(t)
	path, err := c.RepoPath("task-1", "acme/widgets")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(c.baseDir, "task-1", "widgets"), path)
}

func TestCoordinator_RepoPathRejectsMalformedReference(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.RepoPath("task-1", "widgets")
	require.Error(t, err)
}

// preparedRepo bypasses the network clone step PrepareWorkspace would take
// and seeds a git repo directly at the coordinator's expected path, the way
// a test double for a CredentialVault-backed clone would.
func preparedRepo(t *testing.T, c *Coordinator, taskID, repoRef string) string {
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

func TestCoordinator_StoryLifecycleCommitsOnApprove(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	path := preparedRepo(t, c, "task-1", "acme/widgets")

	require.NoError(t, os.WriteFile(filepath.Join(path, "new.go"), []byte("package main\n"), 0o644))

	has, err := c.HasChanges(ctx, path)
	require.NoError(t, err)
	require.True(t, has)

	files, err := c.ChangedFiles(ctx, path)
	require.NoError(t, err)
	require.Contains(t, files, "new.go")

	require.NoError(t, c.StageAll(ctx, path))
	hash, err := c.Commit(ctx, path, "implement story")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	has, err = c.HasChanges(ctx, path)
	require.NoError(t, err)
	require.False(t, has, "working tree must be clean immediately after commit")
}

func TestCoordinator_StoryLifecycleDiscardsOnReject(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	path := preparedRepo(t, c, "task-1", "acme/widgets")

	require.NoError(t, os.WriteFile(filepath.Join(path, "scratch.go"), []byte("package main\n"), 0o644))

	require.NoError(t, c.DiscardChanges(ctx, path))

	has, err := c.HasChanges(ctx, path)
	require.NoError(t, err)
	require.False(t, has, "rollback invariant: hasChanges must be false after discard")
}

func TestCoordinator_CreateBranchSwitchesEveryPreparedRepo(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	path := preparedRepo(t, c, "task-1", "acme/widgets")

	require.NoError(t, c.CreateBranch(ctx, map[string]string{"acme/widgets": path}, "task/task-1"))

	branch, err := newRepo(path, c.timeout).currentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "task/task-1", branch)
}
