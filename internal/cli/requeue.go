package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ocrsweep/internal/control"
)

var requeueMax int

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Process documents whose backoff window has elapsed",
	Run:   runRequeue,
}

func init() {
	requeueCmd.Flags().IntVar(&requeueMax, "max", 100, "max documents to drain from the retry queue")
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	if cfg.Database.URL == "" || cfg.Redis.URL == "" {
		slog.Error("requeue requires both database.url and redis.url")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, cfg, control.Flags{Requeue: true})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	summary, runErr := app.Requeue(ctx, requeueMax)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("Requeue failed", "error", runErr)
		os.Exit(1)
	}
	slog.Info("Requeue finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
}
