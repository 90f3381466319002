package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ctf-scoring-service/internal/app"
	"ctf-scoring-service/internal/config"
	"ctf-scoring-service/internal/domain"
	infrafirestore "ctf-scoring-service/internal/infra/firestore"
	"ctf-scoring-service/internal/infra/memory"
	"ctf-scoring-service/internal/infra/postgres"
	infraredis "ctf-scoring-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
)

// backend bundles the storage ports selected by config.
type backend struct {
	store      app.Store
	directory  app.Directory
	writer     app.CatalogWriter
	challenges app.ChallengeRepository
	notifier   app.Notifier
	// invalidate drops a cached challenge after a catalog write.
	invalidate func(ctx context.Context, challengeID string) error
	closers    []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	var loader memory.ChallengeLoader

	switch cfg.Store.Backend {
	case config.StorePostgres:
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return nil, err
		}
		db := postgres.Open(cfg.Postgres.URL)
		b.closers = append(b.closers, func() { _ = db.Close() })
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)

		store := postgres.NewStore(db)
		b.store, b.directory, b.writer = store, store, store
		loader = postgres.NewChallengeLoader(pool)

	case config.StoreFirestore:
		client, err := infrafirestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect firestore: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })

		store := infrafirestore.NewStore(client)
		b.store, b.directory, b.writer = store, store, store
		loader = store
		b.notifier = infrafirestore.NewNotifier(client, logger)

	default:
		catalog := sampleCatalog()
		if cfg.Catalog.Seed != "" {
			var err error
			if catalog, err = config.LoadCatalog(cfg.Catalog.Seed); err != nil {
				return nil, err
			}
		}
		store, err := memory.NewStoreFromCatalog(catalog)
		if err != nil {
			return nil, err
		}
		b.store, b.directory, b.writer = store, store, store
		loader = store
	}

	ttl := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		repo := infraredis.NewChallengeRepository(client, loader, ttl)
		b.challenges, b.invalidate = repo, repo.Invalidate
		b.notifier = infraredis.NewNotifier(client, logger)
	} else {
		repo := memory.NewChallengeRepository(loader, ttl)
		b.challenges = repo
		b.invalidate = func(_ context.Context, challengeID string) error {
			repo.Invalidate(challengeID)
			return nil
		}
	}
	if b.notifier == nil {
		b.notifier = memory.NewNotifier()
	}

	logger.Info("backend ready", "store", cfg.Store.Backend, "redis", cfg.Redis.Addr != "")
	return b, nil
}

func (b *backend) services(cfg config.Config, logger *slog.Logger) (*app.ScoringService, *app.LeaderboardService) {
	scoring := app.NewScoringService(b.challenges, b.store, b.directory, b.notifier, logger)
	board := app.NewLeaderboardService(b.challenges, b.store, b.directory, b.notifier, cfg.Leaderboard.Concurrency, logger)
	return scoring, board
}

// sampleCatalog seeds the memory store when catalog.seed is unset.
func sampleCatalog() domain.Catalog {
	return domain.Catalog{
		Challenges: []domain.Challenge{
			{ID: "warmup", Title: "Warmup", Category: domain.CategoryPractice, Flag: "FLAG{welcome}", BasePoints: 100, Active: true},
			{ID: "forensics-101", Title: "Forensics 101", Category: domain.CategoryPractice, Active: true, Questions: []domain.Question{
				{ID: "q1", Flag: "FLAG{header}", Points: 25},
				{ID: "q2", Flag: "FLAG{footer}", Points: 50},
			}},
		},
	}
}
