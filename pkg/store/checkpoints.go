package store

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/phasecheckpoint"
)

// PutCheckpoint records that a phase completed with its approved payload.
// Exactly one row exists per (task, phase) once the phase completes.
func (s *Store) PutCheckpoint(ctx context.Context, id, taskID, phaseName string, approvedPayload map[string]any) (*ent.PhaseCheckpoint, error) {
	created, err := s.client.PhaseCheckpoint.Create().
		SetID(id).
		SetTaskID(taskID).
		SetPhaseName(phaseName).
		SetApprovedPayload(approvedPayload).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("recording checkpoint %s/%s: %w", taskID, phaseName, err)
	}
	return created, nil
}

// GetCheckpoint fetches the completion record for (taskID, phaseName), if any.
func (s *Store) GetCheckpoint(ctx context.Context, taskID, phaseName string) (*ent.PhaseCheckpoint, error) {
	cp, err := s.client.PhaseCheckpoint.Query().
		Where(
			phasecheckpoint.TaskIDEQ(taskID),
			phasecheckpoint.PhaseNameEQ(phaseName),
		).
		Only(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint %s/%s: %w", taskID, phaseName, err)
	}
	return cp, nil
}

// ListCheckpoints returns every completed-phase record for a task.
func (s *Store) ListCheckpoints(ctx context.Context, taskID string) ([]*ent.PhaseCheckpoint, error) {
	cps, err := s.client.PhaseCheckpoint.Query().
		Where(phasecheckpoint.TaskIDEQ(taskID)).
		Order(ent.Asc(phasecheckpoint.FieldCompletedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints for task %s: %w", taskID, err)
	}
	return cps, nil
}
