package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ctf-scoring-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const challengeSelect = `
SELECT c.data,
       COALESCE(array_agg(s.user_id ORDER BY s.solved_at) FILTER (WHERE s.user_id IS NOT NULL), '{}')
FROM challenges c
LEFT JOIN challenge_solvers s ON s.challenge_id = c.id`

// ChallengeLoader loads challenge JSONB from Postgres together with its solver list.
type ChallengeLoader struct {
	pool *pgxpool.Pool
}

func NewChallengeLoader(pool *pgxpool.Pool) *ChallengeLoader {
	return &ChallengeLoader{pool: pool}
}

func (l *ChallengeLoader) LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	row := l.pool.QueryRow(ctx, challengeSelect+` WHERE c.id = $1 GROUP BY c.id`, challengeID)
	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Challenge{}, domain.ErrChallengeNotFound
		}
		return domain.Challenge{}, domain.Unavailable("load challenge", err)
	}
	return challenge, nil
}

func (l *ChallengeLoader) ListChallenges(ctx context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error) {
	rows, err := l.pool.Query(ctx, challengeSelect+`
WHERE ($1::text = '' OR c.event_id = $1::text)
  AND (NOT $2::boolean OR c.active)
GROUP BY c.id
ORDER BY c.created_at, c.id`, filter.EventID, filter.ActiveOnly)
	if err != nil {
		return nil, domain.Unavailable("list challenges", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, domain.Unavailable("list challenges", err)
		}
		out = append(out, challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list challenges", err)
	}
	return out, nil
}

func scanChallenge(row pgx.Row) (domain.Challenge, error) {
	var (
		raw     []byte
		solvers []string
	)
	if err := row.Scan(&raw, &solvers); err != nil {
		return domain.Challenge{}, err
	}
	var challenge domain.Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return domain.Challenge{}, fmt.Errorf("unmarshal challenge: %w", err)
	}
	challenge.SolvedBy = solvers
	return challenge, nil
}
