package common

import (
	"context"

	"github.com/agentpipe/core/pkg/approval"
)

// RequestApproval runs one checkpoint to its final verdict: it suspends on
// broker, and on request_changes calls onFeedback to re-derive a payload
// before suspending again, up to broker.MaxFeedbackRounds() times (§4.3,
// S4). Exhausting the round cap without an approve/reject resolves as a
// rejection, per the story/phase-rejected-after-R-rounds rule.
func RequestApproval(ctx context.Context, broker *approval.Broker, taskID, checkpointName string, payload map[string]any, timeoutMs int, onFeedback func(feedback string) (map[string]any, error)) (approval.Response, error) {
	attempt := 1
	for {
		resp, err := broker.Request(ctx, taskID, checkpointName, payload, attempt, timeoutMs)
		if err != nil {
			return approval.Response{}, err
		}
		if resp.Action != approval.ActionRequestChanges {
			return resp, nil
		}
		if attempt >= broker.MaxFeedbackRounds() || onFeedback == nil {
			return approval.Response{Action: approval.ActionReject, Feedback: resp.Feedback}, nil
		}

		newPayload, err := onFeedback(resp.Feedback)
		if err != nil {
			return approval.Response{}, err
		}
		payload = newPayload
		attempt++
	}
}
