package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// QueueJob holds the schema definition for the QueueJob entity — the
// durable mirror of a job living in the Redis-backed priority lanes (§4.8).
// Redis owns live ordering; this row is the system of record an operator
// queries and what crash recovery re-derives state from.
type QueueJob struct {
	ent.Schema
}

func (QueueJob) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Enum("lane").
			Values("regular", "premium"),
		field.Int("priority").
			Default(0),
		field.Int("attempt").
			Default(0),
		field.Enum("state").
			Values("waiting", "active", "completed", "failed", "delayed").
			Default("waiting"),
		field.Time("enqueued_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.String("last_error").
			Optional().
			Nillable(),
	}
}

func (QueueJob) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("queue_jobs").
			Field("task_id").
			Unique().
			Required(),
	}
}

func (QueueJob) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("lane", "state"),
		index.Fields("task_id"),
	}
}
