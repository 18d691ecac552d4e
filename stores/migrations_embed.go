// Package stores provides SQL and Redis backends for the decision engine:
// a SQL audit recorder, a SQL policy snapshot store and a Redis-backed
// rate counter for context rules.
package stores

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/oarkflow/squealx"
)

//go:embed sql_migrations.sql
var migrationsSQL string

// Migrate creates the audit and snapshot tables if they do not exist.
func Migrate(db *squealx.DB) error {
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
