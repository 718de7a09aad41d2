package workspace

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGitHubTest(t *testing.T) (PullRequestOpener, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	gh := github.NewClient(nil)
	u, _ := url.Parse(server.URL + "/")
	gh.BaseURL = u

	return newGitHubOpenerFromClient(gh), mux
}

func TestOpenPullRequest_CreatesNewPRWhenNoneExists(t *testing.T) {
	opener, mux := setupGitHubTest(t)

	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `[]`)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"html_url":"https://github.com/acme/widgets/pull/7"}`)
	})

	url, err := opener.OpenPullRequest(context.Background(), "acme", "widgets", "feature/x", "", "My PR", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", url)
}

func TestOpenPullRequest_ReturnsExistingOpenPR(t *testing.T) {
	opener, mux := setupGitHubTest(t)

	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `[{"html_url":"https://github.com/acme/widgets/pull/3"}]`)
	})

	url, err := opener.OpenPullRequest(context.Background(), "acme", "widgets", "feature/x", "", "My PR", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/3", url)
}

func TestSplitRepo_ParsesOwnerAndName(t *testing.T) {
	owner, name, err := splitRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)
}

func TestSplitRepo_RejectsMalformedReference(t *testing.T) {
	_, _, err := splitRepo("not-a-repo-ref")
	require.Error(t, err)
}
