package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Schema returns the embedded DDL.
func Schema() string {
	return schema
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema to this database.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if err := Migrate(ctx, db.Pool); err != nil {
		return err
	}
	db.logger.Info("database schema applied")
	return nil
}
