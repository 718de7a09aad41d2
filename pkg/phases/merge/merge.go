// Package merge implements the Merge phase (§4.6): open one pull request
// per repository with commits on the task's branch, then either
// auto-merge (automatic mode) or suspend on an approval checkpoint.
package merge

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/pkg/approval"
	"github.com/agentpipe/core/pkg/phases"
	"github.com/agentpipe/core/pkg/phases/common"
	"github.com/agentpipe/core/pkg/store"
	"github.com/agentpipe/core/pkg/workspace"
)

const checkpointName = "merge"

// Merger is the narrow subset of the Workspace Coordinator Merge needs,
// letting tests substitute a fake without standing up real git state.
type Merger interface {
	HasChanges(ctx context.Context, path string) (bool, error)
	OpenPullRequest(ctx context.Context, repoRef, branch, title, body string, cred workspace.Credential) (string, error)
}

// Phase drives Merge.
type Phase struct {
	coordinator Merger
	broker      *approval.Broker
	store       *store.Store
}

// New builds a Merge phase.
func New(coordinator Merger, broker *approval.Broker, st *store.Store) *Phase {
	return &Phase{coordinator: coordinator, broker: broker, store: st}
}

func (p *Phase) Name() string { return "merge" }

func (p *Phase) Run(ctx context.Context, in phases.Context) (phases.Result, error) {
	var urls []string
	for repoRef, path := range in.WorkspacePaths {
		dirty, err := p.coordinator.HasChanges(ctx, path)
		if err != nil {
			return phases.Result{}, fmt.Errorf("merge: checking %s for changes: %w", repoRef, err)
		}
		if dirty {
			return phases.Result{}, fmt.Errorf("merge: %s has uncommitted changes; refusing to open a pull request against a dirty tree", repoRef)
		}

		url, err := p.coordinator.OpenPullRequest(ctx, repoRef, in.Branch,
			fmt.Sprintf("agentpipe: %s", in.Task.Title), mergeBody(in), in.Credential)
		if err != nil {
			return phases.Result{}, fmt.Errorf("merge: opening pull request for %s: %w", repoRef, err)
		}
		urls = append(urls, url)
	}

	if len(urls) > 0 {
		if _, err := p.store.AppendPullRequests(ctx, in.Task.ID, urls); err != nil {
			return phases.Result{}, fmt.Errorf("merge: recording pull requests: %w", err)
		}
	}

	merged := false
	if in.Task.Mode == "automatic" {
		merged = true
	} else if len(urls) > 0 {
		payload := map[string]any{"pullRequests": urls}
		if in.OnApprovalWaiting != nil {
			in.OnApprovalWaiting(ctx, true)
		}
		resp, err := common.RequestApproval(ctx, p.broker, in.Task.ID, checkpointName, payload, 0, nil)
		if in.OnApprovalWaiting != nil {
			in.OnApprovalWaiting(ctx, false)
		}
		if err != nil {
			return phases.Result{}, err
		}
		if resp.Action != approval.ActionApprove {
			return phases.Result{}, phases.ErrRejected
		}
		merged = true
	}

	return phases.Result{Payload: map[string]any{
		"pullRequests": urls,
		"merged":       merged,
	}}, nil
}

func mergeBody(in phases.Context) string {
	return fmt.Sprintf("Automated changes for: %s", in.Task.Description)
}
