package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Story holds the schema definition for the Story entity — a sub-unit of a
// Task produced by Analysis and implemented by Developer.
type Story struct {
	ent.Schema
}

func (Story) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int("story_index").
			Comment("Position within the task's story list"),
		field.String("title"),
		field.Text("description"),
		field.JSON("files_to_modify", []string{}).
			Optional(),
		field.JSON("files_to_create", []string{}).
			Optional(),
		field.JSON("files_to_read", []string{}).
			Optional(),
		field.JSON("acceptance_criteria", []string{}).
			Optional(),
		field.Int("iteration_count").
			Default(0),
		field.Enum("verdict").
			Values("pending", "approved", "needs_revision", "rejected").
			Default("pending"),
		field.String("commit_hash").
			Optional().
			Nillable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("ended_at").
			Optional().
			Nillable(),
	}
}

func (Story) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("stories").
			Field("task_id").
			Unique().
			Required(),
		edge.To("vulnerabilities", Vulnerability.Type).
			Annotations(entsql.OnDelete(entsql.SetNull)),
	}
}

func (Story) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "story_index").
			Unique(),
		index.Fields("verdict"),
	}
}
