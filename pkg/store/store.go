// Package store is the thin façade over *ent.Client that the orchestrator,
// phases, approval broker, and security observer use instead of importing
// ent directly. It exposes exactly the operations named by the Durable
// Store contract — put, get, append, list, update with an atomic
// read-modify-write mutator, and transact — and nothing else, so callers
// never see raw ent query builders and the closed-variant types stay
// enforceable at the package boundary.
package store

import (
	"context"
	"fmt"

	"github.com/agentpipe/core/ent"
)

// Store wraps *ent.Client with the narrow set of operations the core needs.
type Store struct {
	client *ent.Client
}

// New creates a Store over an already-connected ent client.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// Transact runs fn inside a transaction, committing on success and rolling
// back on error or panic. Grounded on the same tx/defer-rollback/commit
// shape used by the worker pool's row-claiming code.
func (s *Store) Transact(ctx context.Context, fn func(tx *ent.Tx) error) error {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
