package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_scoring_schema.sql
var createScoringSchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createScoringSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS submissions;
				DROP TABLE IF EXISTS event_participants;
				DROP TABLE IF EXISTS events;
				DROP TABLE IF EXISTS challenge_solvers;
				DROP TABLE IF EXISTS users;
				DROP TABLE IF EXISTS challenges;
			`)
			return err
		},
	)
}
