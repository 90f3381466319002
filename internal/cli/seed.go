package cli

import (
	"context"
	"fmt"
	"log/slog"

	"ctf-scoring-service/internal/config"
	"ctf-scoring-service/internal/domain"
	"github.com/spf13/cobra"
)

// NewSeedCmd loads a YAML catalog into the configured store.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load challenges, events and users from a catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Backend == config.StoreMemory {
				return fmt.Errorf("seed needs a persistent store backend, got %q (set catalog.seed for the memory store instead)", cfg.Store.Backend)
			}
			if file == "" {
				file = cfg.Catalog.Seed
			}
			if file == "" {
				return fmt.Errorf("no catalog file given")
			}
			catalog, err := config.LoadCatalog(file)
			if err != nil {
				return err
			}

			logger := cfg.NewLogger()
			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			return applyCatalog(ctx, b, catalog, logger)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML (defaults to catalog.seed)")
	return cmd
}

// applyCatalog writes every entry of catalog and drops the cached copy of
// each written challenge so running servers stop serving the old answer key.
func applyCatalog(ctx context.Context, b *backend, catalog domain.Catalog, logger *slog.Logger) error {
	for _, c := range catalog.Challenges {
		if err := b.writer.PutChallenge(ctx, c); err != nil {
			return fmt.Errorf("challenge %s: %w", c.ID, err)
		}
		if b.invalidate == nil {
			continue
		}
		if err := b.invalidate(ctx, c.ID); err != nil {
			return fmt.Errorf("invalidate cached challenge %s: %w", c.ID, err)
		}
	}
	for _, e := range catalog.Events {
		if err := b.writer.PutEvent(ctx, e); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}
	for _, u := range catalog.Users {
		if err := b.directory.EnsureUser(ctx, domain.Identity{UserID: u.ID, DisplayName: u.Username}); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	logger.Info("catalog seeded",
		"challenges", len(catalog.Challenges),
		"events", len(catalog.Events),
		"users", len(catalog.Users))
	return nil
}
