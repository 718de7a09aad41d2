package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ToolCall holds the schema definition for the ToolCall entity — one per
// tool invocation made by the code agent within an AgentExecution.
type ToolCall struct {
	ent.Schema
}

func (ToolCall) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("tool_use_id").
			Unique().
			Immutable().
			Comment("Opaque id assigned by the code agent to this tool-use"),
		field.String("execution_id").
			Immutable(),
		field.Int("turn_number"),
		field.String("tool_name"),
		field.Text("input_json"),
		field.Text("output_json").
			Optional().
			Nillable(),
		field.Bool("success").
			Default(true),
		field.String("file_path").
			Optional().
			Nillable(),
		field.Text("shell_command").
			Optional().
			Nillable(),
		field.Int64("duration_ms").
			Default(0),
		field.Int("call_order"),
		field.Time("started_at"),
	}
}

func (ToolCall) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("execution", AgentExecution.Type).
			Ref("tool_calls").
			Field("execution_id").
			Unique().
			Required(),
	}
}

func (ToolCall) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("execution_id", "call_order"),
		index.Fields("tool_name"),
	}
}
