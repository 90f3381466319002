package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// A user holds at most one credit-bearing record per target and scope.
// Legacy rows with NULL points never match the predicate.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				CREATE UNIQUE INDEX IF NOT EXISTS uq_submissions_credit
				ON submissions(user_id, challenge_id, question_id, scope_event_id)
				WHERE is_correct AND points_awarded > 0;
			`); err != nil {
				return fmt.Errorf("failed to add credit index: %w", err)
			}
			return nil
		})
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS uq_submissions_credit`)
		return err
	})
}
