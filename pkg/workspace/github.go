package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
)

// PullRequestOpener opens pull requests against a repository host. The
// default implementation talks to the GitHub REST API; tests substitute a
// fake.
type PullRequestOpener interface {
	OpenPullRequest(ctx context.Context, owner, repoName, branch, base, title, body string) (url string, err error)
}

// githubOpener implements PullRequestOpener against the GitHub API.
type githubOpener struct {
	client *github.Client
}

// NewGitHubOpener builds a PullRequestOpener authenticated with the given
// token (typically the decrypted per-user credential from the vault).
func NewGitHubOpener(token string) PullRequestOpener {
	return &githubOpener{client: github.NewClient(nil).WithAuthToken(token)}
}

// newGitHubOpenerFromClient builds a PullRequestOpener around an existing
// *github.Client, for pointing at an httptest server in tests.
func newGitHubOpenerFromClient(gh *github.Client) PullRequestOpener {
	return &githubOpener{client: gh}
}

func (o *githubOpener) OpenPullRequest(ctx context.Context, owner, repoName, branch, base, title, body string) (string, error) {
	if base == "" {
		base = "main"
	}

	existing, _, err := o.client.PullRequests.List(ctx, owner, repoName, &github.PullRequestListOptions{
		Head:        owner + ":" + branch,
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err == nil && len(existing) > 0 {
		return existing[0].GetHTMLURL(), nil
	}

	pr, _, err := o.client.PullRequests.Create(ctx, owner, repoName, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
	})
	if err != nil {
		return "", fmt.Errorf("opening pull request for %s/%s: %w", owner, repoName, err)
	}
	return pr.GetHTMLURL(), nil
}

// splitRepo splits a "owner/name" repository reference.
func splitRepo(ref string) (owner, name string, err error) {
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("workspace: invalid repository reference %q, want \"owner/name\"", ref)
	}
	return parts[0], parts[1], nil
}
