package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ctf-scoring-service/internal/domain"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9000"
log:
  level: debug
catalog:
  ttl: 30s
leaderboard:
  concurrency: 4
`)
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "7000" || cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Store.Backend != StoreMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Store.Backend)
	}
	if got := TTLDuration(cfg.Catalog.TTL, time.Minute); got != 30*time.Second {
		t.Fatalf("unexpected ttl %v", got)
	}
	if cfg.Leaderboard.Concurrency != 4 {
		t.Fatalf("unexpected concurrency %d", cfg.Leaderboard.Concurrency)
	}
}

func TestBackendInference(t *testing.T) {
	cases := []struct {
		env  map[string]string
		want string
	}{
		{map[string]string{"DATABASE_URL": "postgres://x"}, StorePostgres},
		{map[string]string{"FIRESTORE_PROJECT_ID": "ctf"}, StoreFirestore},
		{map[string]string{"STORE_BACKEND": "memory", "DATABASE_URL": "postgres://x"}, StoreMemory},
		{map[string]string{}, StoreMemory},
	}
	for _, tc := range cases {
		var cfg Config
		cfg.applyEnv(func(k string) string { return tc.env[k] })
		if cfg.Store.Backend != tc.want {
			t.Fatalf("env %v: expected %s, got %s", tc.env, tc.want, cfg.Store.Backend)
		}
	}
}

func TestLoadRejectsIncompleteBackend(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "store:\n  backend: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for postgres backend without url")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != StoreMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("nonsense", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on parse error, got %v", got)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
challenges:
  - id: c1
    title: Warmup
    category: practice
    flag: "FLAG{x}"
    basePoints: 100
    active: true
  - id: m1
    title: Forensics
    category: live
    eventId: e1
    active: true
    questions:
      - {id: q1, flag: alpha, points: 10}
      - {id: q2, flag: beta, points: 20}
events:
  - id: e1
    name: Spring CTF
    status: live
    participants: [u1]
users:
  - id: u1
    username: alice
`)
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(catalog.Challenges) != 2 || catalog.Challenges[1].PointsFor("q2") != 20 {
		t.Fatalf("unexpected challenges %+v", catalog.Challenges)
	}
	if catalog.Events[0].Status != domain.EventLive || !catalog.Events[0].HasParticipant("u1") {
		t.Fatalf("unexpected event %+v", catalog.Events[0])
	}
}

func TestLoadCatalogRejectsDuplicateSecrets(t *testing.T) {
	path := writeFile(t, "catalog.yaml", `
challenges:
  - id: m1
    active: true
    questions:
      - {id: q1, flag: same, points: 10}
      - {id: q2, flag: " same ", points: 20}
`)
	if _, err := LoadCatalog(path); !errors.Is(err, domain.ErrDuplicateSecret) {
		t.Fatalf("expected duplicate secret error, got %v", err)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_ADDR", "FIRESTORE_PROJECT_ID", "JWT_SECRET", "LOG_LEVEL", "STORE_BACKEND"} {
		t.Setenv(key, "")
	}
}
