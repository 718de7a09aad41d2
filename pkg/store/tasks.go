package store

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/schema"
	"github.com/agentpipe/core/ent/task"
)

// NewTask is the value half of put(collection="task", key=ID, value=NewTask).
type NewTask struct {
	ID                         string
	UserID                     string
	ProjectID                  *string
	Repositories               []string
	Title                      string
	Description                string
	Priority                   int
	Lane                       task.Lane
	Mode                       task.Mode
	SkipPlanningForSimpleTasks bool
	SkipTestGeneration         bool
}

// PutTask creates a new Task row.
func (s *Store) PutTask(ctx context.Context, in NewTask) (*ent.Task, error) {
	create := s.client.Task.Create().
		SetID(in.ID).
		SetUserID(in.UserID).
		SetRepositories(in.Repositories).
		SetTitle(in.Title).
		SetDescription(in.Description).
		SetPriority(in.Priority).
		SetSkipPlanningForSimpleTasks(in.SkipPlanningForSimpleTasks).
		SetSkipTestGeneration(in.SkipTestGeneration)
	if in.Lane != "" {
		create = create.SetLane(in.Lane)
	}
	if in.Mode != "" {
		create = create.SetMode(in.Mode)
	}
	if in.ProjectID != nil {
		create = create.SetProjectID(*in.ProjectID)
	}

	t, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating task %s: %w", in.ID, err)
	}
	return t, nil
}

// GetTask fetches a non-deleted task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*ent.Task, error) {
	t, err := s.client.Task.Query().
		Where(task.IDEQ(id), task.DeletedAtIsNil()).
		Only(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	return t, nil
}

// TaskFilter narrows ListTasks; nil fields are unconstrained.
type TaskFilter struct {
	Status *task.Status
	UserID *string
	Lane   *task.Lane
	Limit  int
}

// ListTasks returns tasks matching filter, most recently created first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*ent.Task, error) {
	q := s.client.Task.Query().Where(task.DeletedAtIsNil())
	if filter.Status != nil {
		q = q.Where(task.StatusEQ(*filter.Status))
	}
	if filter.UserID != nil {
		q = q.Where(task.UserIDEQ(*filter.UserID))
	}
	if filter.Lane != nil {
		q = q.Where(task.LaneEQ(*filter.Lane))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	tasks, err := q.Order(ent.Desc(task.FieldCreatedAt)).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask is the atomic read-modify-write mutator: it locks the task row
// for the duration of the transaction, hands the locked row to mutate, and
// commits whatever mutate returns.
func (s *Store) UpdateTask(ctx context.Context, id string, mutate func(tx *ent.Tx, current *ent.Task) (*ent.Task, error)) (*ent.Task, error) {
	var result *ent.Task
	err := s.Transact(ctx, func(tx *ent.Tx) error {
		current, err := tx.Task.Query().
			Where(task.IDEQ(id)).
			ForUpdate().
			Only(ctx)
		if err != nil {
			return fmt.Errorf("locking task %s: %w", id, err)
		}

		updated, err := mutate(tx, current)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// SetTaskStatus atomically transitions a task's status.
func (s *Store) SetTaskStatus(ctx context.Context, id string, status task.Status) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		updated, err := tx.Task.UpdateOne(current).SetStatus(status).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("setting task %s status to %s: %w", id, status, err)
		}
		return updated, nil
	})
}

// AppendCompletedPhase atomically appends phase to completed_phases and
// clears current_phase in the same write, per the Durable Store's named
// requirement that these two fields change together.
func (s *Store) AppendCompletedPhase(ctx context.Context, id string, phase schema.CompletedPhase) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		completed := make([]schema.CompletedPhase, 0, len(current.CompletedPhases)+1)
		completed = append(completed, current.CompletedPhases...)
		completed = append(completed, phase)

		updated, err := tx.Task.UpdateOne(current).
			SetCompletedPhases(completed).
			ClearCurrentPhase().
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("appending completed phase to task %s: %w", id, err)
		}
		return updated, nil
	})
}

// SetCurrentPhase atomically records which phase is now executing.
func (s *Store) SetCurrentPhase(ctx context.Context, id, phaseName string) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		updated, err := tx.Task.UpdateOne(current).SetCurrentPhase(phaseName).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("setting current phase on task %s: %w", id, err)
		}
		return updated, nil
	})
}

// SetLastCompletedStoryIndex records Developer-phase progress for resume.
func (s *Store) SetLastCompletedStoryIndex(ctx context.Context, id string, index int) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		updated, err := tx.Task.UpdateOne(current).SetLastCompletedStoryIndex(index).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("setting last completed story index on task %s: %w", id, err)
		}
		return updated, nil
	})
}

// SetBranchName records the working branch Analysis created for a task.
func (s *Store) SetBranchName(ctx context.Context, id, branch string) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		updated, err := tx.Task.UpdateOne(current).SetBranchName(branch).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("setting branch name on task %s: %w", id, err)
		}
		return updated, nil
	})
}

// AppendPullRequests appends newly opened PR URLs to a task's pull_requests.
func (s *Store) AppendPullRequests(ctx context.Context, id string, urls []string) (*ent.Task, error) {
	if len(urls) == 0 {
		return s.GetTask(ctx, id)
	}
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		merged := make([]string, 0, len(current.PullRequests)+len(urls))
		merged = append(merged, current.PullRequests...)
		merged = append(merged, urls...)

		updated, err := tx.Task.UpdateOne(current).SetPullRequests(merged).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("appending pull requests to task %s: %w", id, err)
		}
		return updated, nil
	})
}

// FinishTask transitions a task to a terminal status and clears every resume
// field (current_phase, start_from_phase, current_story_index,
// last_completed_story_index), per §4.5 step 6. A non-nil failureReason is
// recorded only when status is not completed.
func (s *Store) FinishTask(ctx context.Context, id string, status task.Status, failureReason *string) (*ent.Task, error) {
	return s.UpdateTask(ctx, id, func(tx *ent.Tx, current *ent.Task) (*ent.Task, error) {
		update := tx.Task.UpdateOne(current).
			SetStatus(status).
			ClearCurrentPhase().
			ClearStartFromPhase().
			ClearCurrentStoryIndex().
			ClearLastCompletedStoryIndex().
			ClearPodID()
		if failureReason != nil {
			update = update.SetFailureReason(*failureReason)
		}
		updated, err := update.Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("finishing task %s as %s: %w", id, status, err)
		}
		return updated, nil
	})
}

// RecoverInterruptedTask is the single-row conditional update used at boot:
// only a task still marked running/paused transitions to interrupted, so a
// task some other pod already resumed isn't clobbered. Returns whether a
// row was actually changed.
func (s *Store) RecoverInterruptedTask(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Task.Update().
		Where(
			task.IDEQ(id),
			task.StatusIn(task.StatusRunning, task.StatusPaused),
		).
		SetStatus(task.StatusInterrupted).
		ClearPodID().
		Save(ctx)
	if err != nil {
		return false, fmt.Errorf("recovering interrupted task %s: %w", id, err)
	}
	return n > 0, nil
}
