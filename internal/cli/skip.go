package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vietddude/ocrsweep/internal/infra/storage"
	"github.com/vietddude/ocrsweep/internal/infra/storage/postgres"
)

var skipCmd = &cobra.Command{
	Use:   "skip [source_path]",
	Short: "Mark a document as intentionally ignored by future sweeps",
	Args:  cobra.ExactArgs(1),
	Run:   runSkip,
}

func init() {
	rootCmd.AddCommand(skipCmd)
}

func runSkip(cmd *cobra.Command, args []string) {
	sourcePath := args[0]
	cfg := loadConfig(cmd)

	if cfg.Database.URL == "" {
		slog.Error("skip requires a database; set database.url")
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

	if err := db.MarkSkipped(ctx, sourcePath, cfg.Sweep.Pipeline); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			slog.Error("Document not found in ledger; sweep it once first", "path", sourcePath)
		} else {
			slog.Error("Failed to mark document skipped", "error", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Marked %s as skipped for pipeline %s\n", sourcePath, cfg.Sweep.Pipeline)
}
