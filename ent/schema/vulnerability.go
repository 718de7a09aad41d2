package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Vulnerability holds the schema definition for the Vulnerability entity —
// an immutable, append-only record emitted by the security observer (§4.4).
type Vulnerability struct {
	ent.Schema
}

func (Vulnerability) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("session_id").
			Immutable().
			Comment("Agent session/execution id this observation belongs to"),
		field.String("phase_name").
			Immutable(),
		field.Time("timestamp").
			Immutable(),
		field.Enum("severity").
			Values("critical", "high", "medium", "low").
			Immutable(),
		field.String("category").
			Immutable(),
		field.String("vulnerability_type").
			Immutable(),
		field.Text("description").
			Immutable(),
		field.JSON("evidence", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.String("matched_pattern").
			Immutable(),
		field.String("tool_use_id").
			Optional().
			Nillable().
			Immutable(),
		field.Int("turn_number").
			Optional().
			Nillable().
			Immutable(),
		field.String("file_path").
			Optional().
			Nillable().
			Immutable(),
		field.Int("line_number").
			Optional().
			Nillable().
			Immutable(),
		field.Text("code_snippet").
			Optional().
			Nillable().
			Immutable(),
		field.String("owasp_category").
			Optional().
			Nillable().
			Immutable(),
		field.String("cwe_id").
			Optional().
			Nillable().
			Immutable(),
		field.Text("recommendation").
			Optional().
			Nillable().
			Immutable(),
		field.String("story_id").
			Optional().
			Nillable().
			Immutable(),
		field.Bool("blocked").
			Default(false).
			Immutable(),
	}
}

func (Vulnerability) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("vulnerabilities").
			Field("task_id").
			Unique().
			Required(),
		edge.From("story", Story.Type).
			Ref("vulnerabilities").
			Field("story_id").
			Unique(),
	}
}

func (Vulnerability) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "timestamp"),
		index.Fields("severity"),
		index.Fields("category"),
		index.Fields("tool_use_id").
			Annotations(entsql.IndexWhere("tool_use_id IS NOT NULL")),
	}
}
