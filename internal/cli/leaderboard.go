package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"ctf-scoring-service/internal/config"
	"ctf-scoring-service/internal/domain"
	"ctf-scoring-service/internal/export"
	"github.com/spf13/cobra"
)

// NewLeaderboardCmd prints or exports a leaderboard snapshot.
func NewLeaderboardCmd(configPath *string) *cobra.Command {
	var (
		eventID string
		xlsx    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the global or an event leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
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

			_, board := b.services(cfg, logger)
			lb, err := board.Compute(ctx, domain.EventScope(eventID))
			if err != nil {
				return err
			}

			switch {
			case xlsx != "":
				f, err := os.Create(xlsx)
				if err != nil {
					return err
				}
				defer f.Close()
				return export.WriteLeaderboardXLSX(f, lb)
			case asJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(lb)
			default:
				return printLeaderboard(cmd.OutOrStdout(), lb)
			}
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id (empty for the global board)")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "write the board to this xlsx file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printLeaderboard(w io.Writer, lb domain.Leaderboard) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "RANK\tUSER\tSCORE\tSOLVED\tLAST SOLVE\n")
	for _, e := range lb.Entries {
		last := "-"
		if !e.LastSolvedAt.IsZero() {
			last = e.LastSolvedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", e.Rank, e.Username, e.Score, e.SolvedCount, last)
	}
	return tw.Flush()
}
