package agentclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClient_ScriptedTurnsReturnInOrder(t *testing.T) {
	c := NewStubClient()
	ctx := context.Background()

	sessionID, err := c.CreateSession(ctx, SessionOptions{Title: "story 0"})
	require.NoError(t, err)

	c.Script(sessionID, TextTurn(`{"verdict":"approved"}`), TextTurn("done"))

	require.NoError(t, c.SendPrompt(ctx, sessionID, "implement story", PromptOptions{}))

	events, err := c.WaitForIdle(ctx, sessionID, WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"approved"}`, LastMessageText(events))

	events, err = c.WaitForIdle(ctx, sessionID, WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", LastMessageText(events))

	events, err = c.WaitForIdle(ctx, sessionID, WaitOptions{})
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestStubClient_SendPromptRejectsUnknownSession(t *testing.T) {
	c := NewStubClient()
	err := c.SendPrompt(context.Background(), "nonexistent", "hi", PromptOptions{})
	assert.Error(t, err)
}

func TestStubClient_CreateSessionIDIsDeterministicByTitle(t *testing.T) {
	c := NewStubClient()
	ctx := context.Background()

	id, err := c.CreateSession(ctx, SessionOptions{Title: "planning: fix typo"})
	require.NoError(t, err)
	assert.Equal(t, "planning: fix typo", id)

	anon1, err := c.CreateSession(ctx, SessionOptions{})
	require.NoError(t, err)
	anon2, err := c.CreateSession(ctx, SessionOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, anon1, anon2)
}

func TestStubClient_AbortSessionIsObservable(t *testing.T) {
	c := NewStubClient()
	ctx := context.Background()
	sessionID, err := c.CreateSession(ctx, SessionOptions{})
	require.NoError(t, err)

	assert.False(t, c.Aborted(sessionID))
	require.NoError(t, c.AbortSession(ctx, sessionID))
	assert.True(t, c.Aborted(sessionID))
}
