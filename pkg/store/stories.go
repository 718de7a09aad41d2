package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/story"
)

// NewStory is the value half of put(collection="story", ...).
type NewStory struct {
	ID                  string
	TaskID              string
	StoryIndex          int
	Title               string
	Description         string
	FilesToModify       []string
	FilesToCreate       []string
	FilesToRead         []string
	AcceptanceCriteria  []string
}

// PutStory creates a Story produced by the Analysis phase.
func (s *Store) PutStory(ctx context.Context, in NewStory) (*ent.Story, error) {
	created, err := s.client.Story.Create().
		SetID(in.ID).
		SetTaskID(in.TaskID).
		SetStoryIndex(in.StoryIndex).
		SetTitle(in.Title).
		SetDescription(in.Description).
		SetFilesToModify(in.FilesToModify).
		SetFilesToCreate(in.FilesToCreate).
		SetFilesToRead(in.FilesToRead).
		SetAcceptanceCriteria(in.AcceptanceCriteria).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating story %s: %w", in.ID, err)
	}
	return created, nil
}

// ListStories returns every story for a task in index order.
func (s *Store) ListStories(ctx context.Context, taskID string) ([]*ent.Story, error) {
	stories, err := s.client.Story.Query().
		Where(story.TaskIDEQ(taskID)).
		Order(ent.Asc(story.FieldStoryIndex)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stories for task %s: %w", taskID, err)
	}
	return stories, nil
}

// GetStory fetches one story by id.
func (s *Store) GetStory(ctx context.Context, id string) (*ent.Story, error) {
	st, err := s.client.Story.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting story %s: %w", id, err)
	}
	return st, nil
}

// RecordStoryStarted marks a story's inner-loop start time and bumps its
// iteration counter.
func (s *Store) RecordStoryStarted(ctx context.Context, id string) (*ent.Story, error) {
	current, err := s.client.Story.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting story %s: %w", id, err)
	}

	update := current.Update().AddIterationCount(1)
	if current.StartedAt == nil {
		update = update.SetStartedAt(time.Now())
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("recording story %s start: %w", id, err)
	}
	return updated, nil
}

// RecordStoryVerdict records the Developer phase's final disposition for a
// story — approved/needs_revision/rejected — and, on approval, its commit.
func (s *Store) RecordStoryVerdict(ctx context.Context, id string, verdict story.Verdict, commitHash *string) (*ent.Story, error) {
	update := s.client.Story.UpdateOneID(id).
		SetVerdict(verdict).
		SetEndedAt(time.Now())
	if commitHash != nil {
		update = update.SetCommitHash(*commitHash)
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("recording verdict for story %s: %w", id, err)
	}
	return updated, nil
}
