package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Task holds the schema definition for the Task entity — the unit of work
// driven through the phase pipeline.
type Task struct {
	ent.Schema
}

// Fields of the Task.
func (Task) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("task_id").
			Unique().
			Immutable(),
		field.String("user_id").
			Comment("Owning user id"),
		field.String("project_id").
			Optional().
			Nillable(),
		field.JSON("repositories", []string{}).
			Optional().
			Comment("Repository references to operate on"),
		field.String("title"),
		field.Text("description").
			Comment("Possibly rewritten by Planning"),
		field.Enum("status").
			Values("pending", "queued", "running", "waiting_for_approval", "paused",
				"interrupted", "cancelled", "failed", "completed").
			Default("pending"),
		field.Int("priority").
			Default(0),
		field.Enum("lane").
			Values("regular", "premium").
			Default("regular"),
		field.Enum("mode").
			Values("manual", "automatic").
			Default("manual").
			Comment("Manual mode suspends on every checkpoint; automatic self-answers Planning and auto-merges"),
		field.Bool("skip_planning_for_simple_tasks").
			Default(false),
		field.Bool("skip_test_generation").
			Default(false),
		field.String("branch_name").
			Optional().
			Nillable(),
		field.JSON("pull_requests", []string{}).
			Optional(),
		field.JSON("cost_rollup", map[string]interface{}{}).
			Optional(),
		field.String("failure_reason").
			Optional().
			Nillable(),

		// Resume fields — see §4.5. completed_phases is append-only and the
		// orchestrator is the sole writer during execution.
		field.JSON("completed_phases", []CompletedPhase{}).
			Optional(),
		field.String("current_phase").
			Optional().
			Nillable(),
		field.String("start_from_phase").
			Optional().
			Nillable().
			Comment("Explicit resume override"),
		field.Int("current_story_index").
			Optional().
			Nillable(),
		field.Int("last_completed_story_index").
			Optional().
			Nillable(),

		field.String("pod_id").
			Optional().
			Nillable().
			Comment("Worker that currently owns this task, for crash recovery"),
		field.Time("last_heartbeat_at").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("deleted_at").
			Optional().
			Nillable(),
	}
}

// CompletedPhase is a closed variant recording one completed phase and its
// approved payload — not an open dictionary (design note, spec.md §9).
type CompletedPhase struct {
	Name      string                 `json:"name"`
	Payload   map[string]interface{} `json:"payload"`
	Completed time.Time              `json:"completed_at"`
}

// Edges of the Task.
func (Task) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("stories", Story.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("checkpoints", PhaseCheckpoint.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("executions", AgentExecution.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("vulnerabilities", Vulnerability.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("queue_jobs", QueueJob.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("approval_audits", ApprovalAudit.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("cost_entries", CostEntry.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("activity_entries", ActivityEntry.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Task.
func (Task) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
		index.Fields("lane", "status"),
		index.Fields("status", "created_at"),
		index.Fields("status", "last_heartbeat_at"),
		index.Fields("deleted_at").
			Annotations(entsql.IndexWhere("deleted_at IS NOT NULL")),
	}
}

func (Task) Annotations() []schema.Annotation {
	return []schema.Annotation{}
}
