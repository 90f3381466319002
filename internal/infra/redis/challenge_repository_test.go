package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestChallengeRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{ChallengeLoader: sampleStore(t)}
	repo := NewChallengeRepository(client, loader, time.Minute)

	got, err := repo.GetChallenge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("challenge:m1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("challenge:m1"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetChallenge(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get cached challenge: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if len(cached.Questions) != len(got.Questions) || cached.Questions[1].Flag != "beta" {
		t.Fatalf("cached challenge lost its answer key: %+v", cached)
	}
	if ok, qid := cached.Match(" beta "); !ok || qid != "q2" {
		t.Fatalf("cached challenge does not match its flag")
	}

	if err := repo.Invalidate(context.Background(), "m1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = repo.GetChallenge(context.Background(), "m1")
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls=%d", loader.calls)
	}
}

func TestChallengeRepositoryFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	loader := &countingLoader{ChallengeLoader: sampleStore(t)}
	repo := NewChallengeRepository(client, loader, time.Minute)

	if _, err := repo.GetChallenge(context.Background(), "c1"); err != nil {
		t.Fatalf("expected loader fallback, got %v", err)
	}
	if _, err := repo.GetChallenge(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChallengeRepositoryRejectsDeactivatedChallengeAfterInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := sampleStore(t)
	repo := NewChallengeRepository(newClient(mr), store, 10*time.Minute)
	scoring := app.NewScoringService(repo, store, store, memory.NewNotifier(), nil)

	if _, err := repo.GetChallenge(ctx, "c1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := store.PutChallenge(ctx, domain.Challenge{
		ID: "c1", Category: domain.CategoryPractice, Flag: "FLAG{x}", BasePoints: 100, Active: false,
	}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := repo.Invalidate(ctx, "c1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	alice := domain.Identity{UserID: "u1", DisplayName: "alice"}
	if _, err := scoring.Submit(ctx, alice, "c1", "FLAG{x}", domain.GlobalScope); !errors.Is(err, domain.ErrInactiveChallenge) {
		t.Fatalf("expected ErrInactiveChallenge, got %v", err)
	}
	cached, err := repo.GetChallenge(ctx, "c1")
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if cached.Active {
		t.Fatalf("cache still holds the active copy")
	}
}

type countingLoader struct {
	memory.ChallengeLoader
	calls int
}

func (l *countingLoader) LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	l.calls++
	return l.ChallengeLoader.LoadChallenge(ctx, challengeID)
}

func sampleStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStoreFromCatalog(domain.Catalog{
		Challenges: []domain.Challenge{
			{ID: "c1", Category: domain.CategoryPractice, Flag: "FLAG{x}", BasePoints: 100, Active: true},
			{ID: "m1", Category: domain.CategoryPractice, Active: true, Questions: []domain.Question{
				{ID: "q1", Flag: "alpha", Points: 10},
				{ID: "q2", Flag: "beta", Points: 20},
			}},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
