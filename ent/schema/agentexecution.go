package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentExecution holds the schema definition for the AgentExecution entity —
// one per (task, phase, attempt), recording a single code-agent session run.
type AgentExecution struct {
	ent.Schema
}

func (AgentExecution) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("phase_name").
			Immutable(),
		field.Int("attempt").
			Default(1),
		field.String("agent_role").
			Optional().
			Nillable().
			Comment("Role tag, e.g. planner, developer, judge"),
		field.Text("prompt_excerpt").
			Optional().
			Nillable(),
		field.Text("final_output").
			Optional().
			Nillable(),
		field.Int("prompt_tokens").
			Default(0),
		field.Int("completion_tokens").
			Default(0),
		field.Float("cost_usd").
			Default(0),
		field.Int64("duration_ms").
			Default(0),
		field.Enum("status").
			Values("active", "completed", "failed", "timed_out", "cancelled").
			Default("active"),
		field.String("error_message").
			Optional().
			Nillable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

func (AgentExecution) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("executions").
			Field("task_id").
			Unique().
			Required(),
		edge.To("tool_calls", ToolCall.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

func (AgentExecution) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "phase_name", "attempt"),
		index.Fields("status"),
	}
}
