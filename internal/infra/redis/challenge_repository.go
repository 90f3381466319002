package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/infra/memory"
	"ctf-scoring-service/internal/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ChallengeRepository caches challenge answer keys in Redis and falls back to a
// loader on cache miss. Challenges are stored as JSON:
//
//	SET challenge:{challengeID} {json} EX ttl
//
// The solver list is not cached; it changes on every first solve.
type ChallengeRepository struct {
	client *redis.Client
	loader memory.ChallengeLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewChallengeRepository(client *redis.Client, loader memory.ChallengeLoader, ttl time.Duration) *ChallengeRepository {
	return &ChallengeRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ChallengeRepository) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	key := r.key(challengeID)

	if challenge, ok := r.cached(ctx, key); ok {
		metrics.CacheHits.WithLabelValues("redis").Inc()
		return challenge, nil
	}
	metrics.CacheMisses.WithLabelValues("redis").Inc()

	result, err, _ := r.sf.Do(challengeID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if challenge, ok := r.cached(ctx, key); ok {
			return challenge, nil
		}

		challenge, err := r.loader.LoadChallenge(ctx, challengeID)
		if err != nil {
			return domain.Challenge{}, err
		}

		challenge.SolvedBy = nil
		if payload, err := json.Marshal(challenge); err == nil {
			_ = r.client.Set(ctx, key, payload, r.ttlWithJitter()).Err()
		}
		return challenge, nil
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	return result.(domain.Challenge), nil
}

func (r *ChallengeRepository) ListChallenges(ctx context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error) {
	return r.loader.ListChallenges(ctx, filter)
}

// Invalidate drops a cached challenge so the next read reloads it.
func (r *ChallengeRepository) Invalidate(ctx context.Context, challengeID string) error {
	return r.client.Del(ctx, r.key(challengeID)).Err()
}

func (r *ChallengeRepository) cached(ctx context.Context, key string) (domain.Challenge, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil is a plain miss; anything else degrades to the loader.
		if !errors.Is(err, redis.Nil) {
			metrics.CacheErrors.WithLabelValues("redis").Inc()
		}
		return domain.Challenge{}, false
	}
	var challenge domain.Challenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return domain.Challenge{}, false
	}
	return challenge, true
}

func (r *ChallengeRepository) key(challengeID string) string {
	return "challenge:" + challengeID
}

func (r *ChallengeRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
