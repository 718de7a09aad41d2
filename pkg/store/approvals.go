package store

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/approvalaudit"
)

// NewApprovalAudit is the value half of append(collection="approval_audit", ...).
type NewApprovalAudit struct {
	ID             string
	TaskID         string
	CheckpointName string
	Action         approvalaudit.Action
	Feedback       *string
	Attempt        int
}

// AppendApprovalAudit writes one approval decision. The broker calls this
// before it unblocks the waiting phase, so the audit trail always reflects
// a decision before its effect is visible anywhere else.
func (s *Store) AppendApprovalAudit(ctx context.Context, in NewApprovalAudit) (*ent.ApprovalAudit, error) {
	create := s.client.ApprovalAudit.Create().
		SetID(in.ID).
		SetTaskID(in.TaskID).
		SetCheckpointName(in.CheckpointName).
		SetAction(in.Action).
		SetAttempt(in.Attempt)
	if in.Feedback != nil {
		create = create.SetFeedback(*in.Feedback)
	}

	created, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("appending approval audit %s: %w", in.ID, err)
	}
	return created, nil
}

// ListApprovalAudits returns every recorded decision for one checkpoint, in
// the order they were recorded.
func (s *Store) ListApprovalAudits(ctx context.Context, taskID, checkpointName string) ([]*ent.ApprovalAudit, error) {
	audits, err := s.client.ApprovalAudit.Query().
		Where(
			approvalaudit.TaskIDEQ(taskID),
			approvalaudit.CheckpointNameEQ(checkpointName),
		).
		Order(ent.Asc(approvalaudit.FieldRecordedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing approval audits for %s/%s: %w", taskID, checkpointName, err)
	}
	return audits, nil
}
