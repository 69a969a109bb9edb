package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"github.com/vietddude/ocrsweep/internal/control"
	"github.com/vietddude/ocrsweep/internal/core/config"
)

var (
	cfgPath     string
	isDebug     bool
	force       bool
	resume      bool
	dryRun      bool
	inputRoot   string
	outRoot     string
	recursive   bool
	limit       int
	concurrency int
	retryKinds  []string
)

var rootCmd = &cobra.Command{
	Use:   "ocrsweep",
	Short: "OCR document sweep service",
	Long:  `Ocrsweep walks a document tree, extracts text through an OCR engine, and keeps a durable ledger of every attempt so re-runs only touch unfinished work.`,
	Run:   runSweep,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&force, "force", false, "reprocess documents even when a successful run exists")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "pick up skipped and interrupted documents")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the sweep against a stub engine")
	rootCmd.Flags().StringVar(&inputRoot, "input", "", "input root (overrides config)")
	rootCmd.Flags().StringVar(&outRoot, "out", "", "output root (overrides config)")
	rootCmd.Flags().BoolVar(&recursive, "recursive", false, "walk the input root recursively")
	rootCmd.Flags().IntVar(&limit, "limit", 0, "max documents to consider, 0 = unlimited")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "engine sessions to run in parallel")
	rootCmd.Flags().StringSliceVar(&retryKinds, "retry-kinds", nil, "error kinds eligible for re-sweep (transient, unknown)")
}

// loadConfig loads the YAML config, applies CLI overrides, and
// initializes logging.
func loadConfig(cmd *cobra.Command) *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	if cmd.Flags().Changed("input") {
		cfg.Sweep.InputRoot = inputRoot
	}
	if cmd.Flags().Changed("out") {
		cfg.Sweep.OutRoot = outRoot
	}
	if cmd.Flags().Changed("recursive") {
		cfg.Sweep.Recursive = recursive
	}
	if cmd.Flags().Changed("limit") {
		cfg.Sweep.Limit = limit
	}
	if cmd.Flags().Changed("concurrency") && concurrency > 0 {
		cfg.Sweep.Concurrency = concurrency
	}
	if cmd.Flags().Changed("retry-kinds") {
		cfg.Sweep.RetryKinds = retryKinds
	}
	return cfg
}

func runSweep(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	if cfg.Sweep.InputRoot == "" {
		slog.Error("No input root configured; set sweep.input_root or --input")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, shutting down...", "signal", sig)
		cancel()
	}()

	app, err := control.NewApp(ctx, cfg, control.Flags{
		Force:  force,
		Resume: resume,
		DryRun: dryRun,
	})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	summary, runErr := app.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		slog.Error("Sweep failed", "error", runErr)
		os.Exit(1)
	}
	if summary.Failed > 0 {
		os.Exit(2)
	}
}
