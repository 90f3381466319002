package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctf-scoring-service/internal/config"
	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/infra/memory"
	infraredis "ctf-scoring-service/internal/infra/redis"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestApplyCatalogDropsCachedChallenges(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := memory.NewStoreFromCatalog(domain.Catalog{
		Challenges: []domain.Challenge{
			{ID: "c1", Category: domain.CategoryPractice, Flag: "FLAG{old}", BasePoints: 100, Active: true},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	repo := infraredis.NewChallengeRepository(client, store, 10*time.Minute)
	b := &backend{
		store:      store,
		directory:  store,
		writer:     store,
		challenges: repo,
		notifier:   memory.NewNotifier(),
		invalidate: repo.Invalidate,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scoring, _ := b.services(config.Config{}, logger)

	// Warm the shared cache the way a running server would.
	if _, err := repo.GetChallenge(ctx, "c1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	retired := domain.Catalog{
		Challenges: []domain.Challenge{
			{ID: "c1", Category: domain.CategoryPractice, Flag: "FLAG{new}", BasePoints: 100, Active: false},
		},
	}
	if err := applyCatalog(ctx, b, retired, logger); err != nil {
		t.Fatalf("apply catalog: %v", err)
	}

	alice := domain.Identity{UserID: "u1", DisplayName: "alice"}
	if _, err := scoring.Submit(ctx, alice, "c1", "FLAG{old}", domain.GlobalScope); !errors.Is(err, domain.ErrInactiveChallenge) {
		t.Fatalf("expected ErrInactiveChallenge after reseed, got %v", err)
	}
	recs, err := store.Query(ctx, domain.SubmissionFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("inactive challenge reached the ledger: %+v", recs)
	}
}

func TestSeedRejectsMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("store:\n  backend: memory\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	catalogPath := filepath.Join(dir, "catalog.yaml")
	catalog := "challenges:\n  - id: c1\n    flag: \"FLAG{x}\"\n    basePoints: 10\n    active: true\n"
	if err := os.WriteFile(catalogPath, []byte(catalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	for _, key := range []string{"STORE_BACKEND", "DATABASE_URL", "FIRESTORE_PROJECT_ID", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cmd := NewSeedCmd(&cfgPath)
	cmd.SetArgs([]string{"--file", catalogPath})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "persistent store") {
		t.Fatalf("expected memory backend to be rejected, got %v", err)
	}
}
