package store

import (
	"context"
	"testing"

	"github.com/agentpipe/core/ent"
	testutil "github.com/agentpipe/core/test/util"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *ent.Client) {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	require.NoError(t, client.Schema.Create(context.Background()))
	return New(client), client
}

func seedTask(t *testing.T, s *Store, id string) *ent.Task {
	t.Helper()
	tk, err := s.PutTask(context.Background(), NewTask{
		ID:          id,
		UserID:      "user-1",
		Title:       "test task",
		Description: "do the thing",
		Priority:    5,
	})
	require.NoError(t, err)
	return tk
}
