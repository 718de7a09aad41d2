package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initTestRepo(t *testing.T) *repo {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "initial commit")

	return newRepo(dir, 10*time.Second)
}

func TestRepo_HasChangesReflectsWorkingTree(t *testing.T) {
	r := initTestRepo(t)
	ctx := context.Background()

	has, err := r.hasChanges(ctx)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, os.WriteFile(filepath.Join(r.path, "new.txt"), []byte("x"), 0o644))

	has, err = r.hasChanges(ctx)
	require.NoError(t, err)
	require.True(t, has)
}

func TestRepo_ChangedFilesListsNewAndModifiedPaths(t *testing.T) {
	r := initTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(r.path, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(r.path, "README.md"), []byte("changed\n"), 0o644))

	files, err := r.changedFiles(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "README.md"}, files)
}

func TestRepo_DiscardChangesRestoresCleanTree(t *testing.T) {
	r := initTestRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(r.path, "README.md"), []byte("dirty\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(r.path, "untracked.txt"), []byte("x"), 0o644))

	require.NoError(t, r.discardChanges(ctx))

	has, err := r.hasChanges(ctx)
	require.NoError(t, err)
	require.False(t, has)

	_, statErr := os.Stat(filepath.Join(r.path, "untracked.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRepo_StageAllThenCommitProducesNewHash(t *testing.T) {
	r := initTestRepo(t)
	ctx := context.Background()

	before, err := r.run(ctx, "rev-parse", "HEAD")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.path, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, r.stageAll(ctx))

	hash, err := r.commit(ctx, "add b.txt")
	require.NoError(t, err)
	require.NotEqual(t, before, hash)

	has, err := r.hasChanges(ctx)
	require.NoError(t, err)
	require.False(t, has)
}

func TestRepo_CommitRejectsEmptyMessage(t *testing.T) {
	r := initTestRepo(t)
	_, err := r.commit(context.Background(), "")
	require.Error(t, err)
}

func TestRepo_CheckoutNewBranchIsIdempotent(t *testing.T) {
	r := initTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.checkoutNewBranch(ctx, "feature/x"))
	branch, err := r.currentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "feature/x", branch)

	// Re-checking out the same name from another branch should just switch to it.
	require.NoError(t, r.checkoutNewBranch(ctx, "main"))
	require.NoError(t, r.checkoutNewBranch(ctx, "feature/x"))
	branch, err = r.currentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "feature/x", branch)
}

func TestValidateBranchName_RejectsDangerousInput(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"feature/x", false},
		{"main", false},
		{"", true},
		{"-delete-everything", true},
		{"branch with spaces", true},
		{"has..dotdot", true},
	}
	for _, tc := range cases {
		err := validateBranchName(tc.name)
		if tc.wantErr {
			require.Error(t, err, tc.name)
		} else {
			require.NoError(t, err, tc.name)
		}
	}
}
