package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ApprovalAudit holds the schema definition for the ApprovalAudit entity —
// an append-only record of every decision the approval broker resolved,
// written before the broker unblocks the waiting phase (§4.3, §8).
type ApprovalAudit struct {
	ent.Schema
}

func (ApprovalAudit) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("checkpoint_name").
			Immutable(),
		field.Enum("action").
			Values("approve", "reject", "request_changes", "timeout", "cancel").
			Immutable(),
		field.Text("feedback").
			Optional().
			Nillable().
			Immutable(),
		field.Int("attempt").
			Immutable(),
		field.Time("recorded_at").
			Default(time.Now).
			Immutable(),
	}
}

func (ApprovalAudit) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("approval_audits").
			Field("task_id").
			Unique().
			Required(),
	}
}

func (ApprovalAudit) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "checkpoint_name"),
	}
}
