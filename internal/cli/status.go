package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/ocrsweep/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the backlog state of the configured pipeline",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	if cfg.Database.URL == "" {
		slog.Error("status requires a database; set database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	counts, err := db.CountByOutcome(ctx, cfg.Sweep.Pipeline, cfg.Sweep.MaxAttempts)
	if err != nil {
		slog.Error("Failed to query ledger", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PIPELINE\tDONE\tFAILED\tSKIPPED\tIN FLIGHT\tUNREVIEWED")
	_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
		cfg.Sweep.Pipeline, counts.Done, counts.Failed, counts.Skipped, counts.InFlight, counts.Unreviewed)
	_ = w.Flush()
}
