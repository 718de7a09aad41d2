package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PhaseCheckpoint holds the schema definition for the PhaseCheckpoint entity.
// Keyed by (taskId, phaseName); exactly one row exists per (task, phase) once
// the phase completes (§3).
type PhaseCheckpoint struct {
	ent.Schema
}

func (PhaseCheckpoint) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("phase_name").
			Immutable(),
		field.JSON("approved_payload", map[string]interface{}{}).
			Optional(),
		field.Time("completed_at").
			Default(time.Now).
			Immutable(),
	}
}

func (PhaseCheckpoint) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("checkpoints").
			Field("task_id").
			Unique().
			Required(),
	}
}

func (PhaseCheckpoint) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "phase_name").
			Unique(),
	}
}
