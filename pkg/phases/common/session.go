package common

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/pkg/agentclient"
)

// Observe is called once per event a turn produces, in arrival order,
// typically wired to the Security Observer (§4.4). May be nil.
type Observe func(ev agentclient.Event)

// RunTurn sends one prompt to an already-created session, waits for it to
// settle back to idle, feeds every event to observe in arrival order (§5
// ordering guarantee ii), and returns the concatenated final message text.
func RunTurn(ctx context.Context, client agentclient.Client, sessionID, prompt string, opts agentclient.WaitOptions, observe Observe) (string, []agentclient.Event, error) {
	if err := client.SendPrompt(ctx, sessionID, prompt, agentclient.PromptOptions{}); err != nil {
		return "", nil, fmt.Errorf("sending prompt: %w", err)
	}

	events, err := client.WaitForIdle(ctx, sessionID, opts)
	if err != nil {
		return "", nil, fmt.Errorf("awaiting idle: %w", err)
	}

	if observe != nil {
		for _, ev := range events {
			observe(ev)
		}
	}

	return agentclient.LastMessageText(events), events, nil
}
