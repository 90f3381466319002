package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// ChallengeLoader fetches challenges from a backing store (Postgres, Firestore, memory).
type ChallengeLoader interface {
	LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
	ListChallenges(ctx context.Context, filter domain.ChallengeFilter) ([]domain.Challenge, error)
}

// ChallengeRepository caches challenges with TTL to avoid repeated store hits.
// Listings always go to the loader.
type ChallengeRepository struct {
	loader ChallengeLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedChallenge
}

type cachedChallenge struct {
	challenge domain.Challenge
	expiresAt time.Time
}

func NewChallengeRepository(loader ChallengeLoader, ttl time.Duration) *ChallengeRepository {
	return &ChallengeRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedChallenge),
	}
}

func (r *ChallengeRepository) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[challengeID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return entry.challenge, nil
	}
	r.mu.RUnlock()
	metrics.CacheMisses.WithLabelValues("memory").Inc()

	result, err, _ := r.sf.Do(challengeID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[challengeID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.challenge, nil
		}
		r.mu.RUnlock()

		challenge, err := r.loader.LoadChallenge(ctx, challengeID)
		if err != nil {
			return domain.Challenge{}, err
		}

		r.mu.Lock()
		r.cache[challengeID] = cachedChallenge{
			challenge: challenge,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
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
func (r *ChallengeRepository) Invalidate(challengeID string) {
	r.mu.Lock()
	delete(r.cache, challengeID)
	r.mu.Unlock()
}

func (r *ChallengeRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
