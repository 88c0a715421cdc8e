// Package store is table access for the app database. Every method takes
// the engine.Querier to run on, so callers decide whether it executes inside
// an exclusive transaction.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// namedExec binds :name parameters from arg and runs the statement.
func namedExec(ctx context.Context, q engine.Querier, query string, arg any) (engine.Result, error) {
	stmt, args, err := sqlx.Named(query, arg)
	if err != nil {
		return engine.Result{}, fmt.Errorf("failed to bind parameters: %w", err)
	}
	return q.Exec(ctx, stmt, args...)
}
