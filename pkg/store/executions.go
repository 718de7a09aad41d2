package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentpipe/core/ent"
	"github.com/agentpipe/core/ent/agentexecution"
	"github.com/agentpipe/core/ent/toolcall"
)

// NewAgentExecution is the value half of put(collection="agent_execution", ...).
type NewAgentExecution struct {
	ID        string
	TaskID    string
	PhaseName string
	Attempt   int
	AgentRole *string
}

// PutAgentExecution records the start of one code-agent session run.
func (s *Store) PutAgentExecution(ctx context.Context, in NewAgentExecution) (*ent.AgentExecution, error) {
	create := s.client.AgentExecution.Create().
		SetID(in.ID).
		SetTaskID(in.TaskID).
		SetPhaseName(in.PhaseName).
		SetAttempt(in.Attempt).
		SetStartedAt(time.Now())
	if in.AgentRole != nil {
		create = create.SetAgentRole(*in.AgentRole)
	}

	created, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating agent execution %s: %w", in.ID, err)
	}
	return created, nil
}

// CompleteAgentExecution closes out an execution with its final status,
// token/cost accounting, and output excerpt.
func (s *Store) CompleteAgentExecution(ctx context.Context, id string, status agentexecution.Status, promptTokens, completionTokens int, costUSD float64, finalOutput string, execErr error) (*ent.AgentExecution, error) {
	now := time.Now()
	update := s.client.AgentExecution.UpdateOneID(id).
		SetStatus(status).
		SetPromptTokens(promptTokens).
		SetCompletionTokens(completionTokens).
		SetCostUsd(costUSD).
		SetCompletedAt(now).
		SetFinalOutput(finalOutput)
	if execErr != nil {
		update = update.SetErrorMessage(execErr.Error())
	}

	updated, err := update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("completing agent execution %s: %w", id, err)
	}

	if updated.StartedAt != nil {
		durationMs := now.Sub(*updated.StartedAt).Milliseconds()
		updated, err = s.client.AgentExecution.UpdateOneID(id).SetDurationMs(durationMs).Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("recording duration for agent execution %s: %w", id, err)
		}
	}
	return updated, nil
}

// ListAgentExecutions returns every execution recorded for a task.
func (s *Store) ListAgentExecutions(ctx context.Context, taskID string) ([]*ent.AgentExecution, error) {
	executions, err := s.client.AgentExecution.Query().
		Where(agentexecution.TaskIDEQ(taskID)).
		Order(ent.Asc(agentexecution.FieldStartedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agent executions for task %s: %w", taskID, err)
	}
	return executions, nil
}

// NewToolCall is the value half of put(collection="tool_call", ...).
type NewToolCall struct {
	ID           string
	ExecutionID  string
	TurnNumber   int
	ToolName     string
	InputJSON    string
	CallOrder    int
}

// PutToolCall records one tool invocation made by the code agent.
func (s *Store) PutToolCall(ctx context.Context, in NewToolCall) (*ent.ToolCall, error) {
	created, err := s.client.ToolCall.Create().
		SetID(in.ID).
		SetExecutionID(in.ExecutionID).
		SetTurnNumber(in.TurnNumber).
		SetToolName(in.ToolName).
		SetInputJSON(in.InputJSON).
		SetCallOrder(in.CallOrder).
		SetStartedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating tool call %s: %w", in.ID, err)
	}
	return created, nil
}

// CompleteToolCall records a tool call's result.
func (s *Store) CompleteToolCall(ctx context.Context, id, outputJSON string, success bool, durationMs int64) (*ent.ToolCall, error) {
	updated, err := s.client.ToolCall.UpdateOneID(id).
		SetOutputJSON(outputJSON).
		SetSuccess(success).
		SetDurationMs(durationMs).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("completing tool call %s: %w", id, err)
	}
	return updated, nil
}

// ListToolCalls returns every tool call made during one execution, in
// invocation order.
func (s *Store) ListToolCalls(ctx context.Context, executionID string) ([]*ent.ToolCall, error) {
	calls, err := s.client.ToolCall.Query().
		Where(toolcall.ExecutionIDEQ(executionID)).
		Order(ent.Asc(toolcall.FieldCallOrder)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tool calls for execution %s: %w", executionID, err)
	}
	return calls, nil
}
