package repository

import (
	"context"
	_ "embed"
	"fmt"

	"course_messaging/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Migrate creates the messaging tables and indexes when they are missing.
// courses, enrollments and users belong to other services and are expected to exist.
func Migrate(ctx context.Context, db *pgxpool.Pool, log logger.Logger) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Info("Database schema is up to date")
	return nil
}
