package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ActivityEntry holds the schema definition for the ActivityEntry entity —
// the durable tail of the in-process activity archive (§4.2). Subscribers
// replay from here on reconnect; sequence is monotonic per task so a client
// can ask for "everything after N".
type ActivityEntry struct {
	ent.Schema
}

func (ActivityEntry) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.Int64("sequence").
			Immutable(),
		field.String("type").
			Immutable(),
		field.String("phase").
			Optional().
			Nillable().
			Immutable(),
		field.String("story_id").
			Optional().
			Nillable().
			Immutable(),
		field.Text("content").
			Immutable(),
		field.JSON("details", map[string]interface{}{}).
			Optional().
			Immutable(),
		field.Time("timestamp").
			Default(time.Now).
			Immutable(),
	}
}

func (ActivityEntry) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("task", Task.Type).
			Ref("activity_entries").
			Field("task_id").
			Unique().
			Required(),
	}
}

func (ActivityEntry) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence").
			Unique(),
	}
}
