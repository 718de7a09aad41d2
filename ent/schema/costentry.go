package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// CostEntry holds the schema definition for the CostEntry entity — one row
// per billed agent turn, feeding the cost aggregator (§4.1 supplement) that
// rolls per-task and per-phase spend up for the Prometheus exporter.
type CostEntry struct {
	ent.Schema
}

func (CostEntry) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("phase_name").
			Immutable(),
		field.Int("prompt_tokens").
			Default(0).
			Immutable(),
		field.Int("completion_tokens").
			Default(0).
			Immutable(),
		field.Float("cost_usd").
			Default(0).
			Immutable(),
		field.Time("recorded_at").
			Default(time.Now).
			Immutable(),
	}
}

func (CostEntry) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("cost_entries").
			Field("task_id").
			Unique().
			Required(),
	}
}

func (CostEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "phase_name"),
	}
}
