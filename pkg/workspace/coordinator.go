// Package workspace owns the on-disk working tree for each task: cloning
// repositories with an injected credential, writing per-repository
// environment files, and driving git and GitHub through a narrow interface
// consumed by phases (Analysis sets up the branch, Developer commits and
// rolls back per story, Merge opens pull requests).
package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/agentpipe/core/pkg/config"
)

// Credential is the bearer token a Workspace Coordinator uses to clone and
// push. Callers obtain it from the CredentialVault; the coordinator never
// logs it.
type Credential struct {
	Token string
}

// Coordinator drives the per-task working trees. One Coordinator instance
// is shared across tasks; each operation is parameterized by task and
// repository so the coordinator itself holds no per-task state beyond the
// base directory layout.
type Coordinator struct {
	baseDir      string
	timeout      time.Duration
	newOpener    func(token string) PullRequestOpener
	remoteURLFor func(repoRef string, cred Credential) (string, error)
}

// New builds a Coordinator rooted at cfg.BaseDir.
func New(cfg *config.WorkspaceConfig) *Coordinator {
	return &Coordinator{
		baseDir:      cfg.BaseDir,
		timeout:      time.Duration(cfg.CommandTimeout) * time.Second,
		newOpener:    NewGitHubOpener,
		remoteURLFor: githubRemoteURL,
	}
}

// NewForTesting builds a Coordinator whose push destinations and pull
// request host are redirected away from the real GitHub API, for phase
// tests that need a working Workspace Coordinator without network access.
// A nil remoteURLFor or opener leaves the corresponding production
// behavior in place.
func NewForTesting(cfg *config.WorkspaceConfig, remoteURLFor func(repoRef string, cred Credential) (string, error), opener PullRequestOpener) *Coordinator {
	c := New(cfg)
	if remoteURLFor != nil {
		c.remoteURLFor = remoteURLFor
	}
	if opener != nil {
		c.newOpener = func(string) PullRequestOpener { return opener }
	}
	return c
}

func githubRemoteURL(repoRef string, cred Credential) (string, error) {
	owner, name, err := splitRepo(repoRef)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", cred.Token, owner, name), nil
}

// RepoPath returns the on-disk path a repository reference is checked out
// to for a given task.
func (c *Coordinator) RepoPath(taskID, repoRef string) (string, error) {
	_, name, err := splitRepo(repoRef)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.baseDir, taskID, name), nil
}

// PrepareWorkspace clones every repository for a task (idempotent if the
// working tree already exists) and writes each one's environment file.
// Returns the on-disk path per repository reference.
func (c *Coordinator) PrepareWorkspace(ctx context.Context, taskID string, repos []string, cred Credential, envByRepo map[string]map[string]string) (map[string]string, error) {
	paths := make(map[string]string, len(repos))

	for _, ref := range repos {
		owner, name, err := splitRepo(ref)
		if err != nil {
			return nil, err
		}

		path := filepath.Join(c.baseDir, taskID, name)
		r := newRepo(path, c.timeout)

		if !r.exists() {
			cloneURL := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", cred.Token, owner, name)
			if err := r.clone(ctx, cloneURL, ""); err != nil {
				return nil, fmt.Errorf("cloning %s: %w", ref, err)
			}
		}

		if env := envByRepo[ref]; len(env) > 0 {
			if err := r.writeEnvFile(".env", env); err != nil {
				return nil, fmt.Errorf("writing env file for %s: %w", ref, err)
			}
		}

		paths[ref] = path
	}

	return paths, nil
}

// CreateBranch checks out a new working branch in every already-prepared
// repository path, idempotent if the branch already exists locally.
func (c *Coordinator) CreateBranch(ctx context.Context, paths map[string]string, branch string) error {
	for ref, path := range paths {
		if err := newRepo(path, c.timeout).checkoutNewBranch(ctx, branch); err != nil {
			return fmt.Errorf("creating branch %s in %s: %w", branch, ref, err)
		}
	}
	return nil
}

// HasChanges reports whether the working tree at path has any uncommitted
// changes (staged, unstaged, or untracked).
func (c *Coordinator) HasChanges(ctx context.Context, path string) (bool, error) {
	return newRepo(path, c.timeout).hasChanges(ctx)
}

// ChangedFiles lists the paths with uncommitted changes.
func (c *Coordinator) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	return newRepo(path, c.timeout).changedFiles(ctx)
}

// DiscardChanges hard-resets and removes untracked files, restoring the
// working tree to its last commit. After this call HasChanges is false,
// satisfying the post-rejection rollback invariant.
func (c *Coordinator) DiscardChanges(ctx context.Context, path string) error {
	return newRepo(path, c.timeout).discardChanges(ctx)
}

// StageAll stages every change in the working tree.
func (c *Coordinator) StageAll(ctx context.Context, path string) error {
	return newRepo(path, c.timeout).stageAll(ctx)
}

// Commit commits the staged changes and returns the new commit hash.
func (c *Coordinator) Commit(ctx context.Context, path, message string) (string, error) {
	return newRepo(path, c.timeout).commit(ctx, message)
}

// Push pushes the current HEAD to branch on the repository's remote,
// authenticating with cred.
func (c *Coordinator) Push(ctx context.Context, path, repoRef, branch string, cred Credential) error {
	remoteURL, err := c.remoteURLFor(repoRef, cred)
	if err != nil {
		return err
	}
	return newRepo(path, c.timeout).push(ctx, remoteURL, branch)
}

// OpenPullRequest opens (or finds an existing open) PR for repoRef's
// branch against its default base, authenticating with cred.
func (c *Coordinator) OpenPullRequest(ctx context.Context, repoRef, branch, title, body string, cred Credential) (string, error) {
	owner, name, err := splitRepo(repoRef)
	if err != nil {
		return "", err
	}
	return c.newOpener(cred.Token).OpenPullRequest(ctx, owner, name, branch, "", title, body)
}
