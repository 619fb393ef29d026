package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dataset-prep/internal/config"
	"dataset-prep/internal/database"
	"dataset-prep/internal/exitcodes"
	"dataset-prep/internal/logging"
	"dataset-prep/internal/metrics"
	"dataset-prep/internal/pipeline"
	"dataset-prep/internal/safety"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	dryRun := flag.Bool("dry-run", false, "Report what teardown would remove without deleting anything")
	keep := flag.Bool("keep", false, "Leave the working directories in place after the run")
	skipDataset := flag.Bool("skip-dataset", false, "Provision and tear down without loading the dataset")
	flag.Parse()

	os.Exit(run(cliOptions{
		configPath:  *configPath,
		dryRun:      *dryRun,
		keep:        *keep,
		skipDataset: *skipDataset,
	}))
}

type cliOptions struct {
	configPath  string
	dryRun      bool
	keep        bool
	skipDataset bool
}

// run executes one provisioning cycle and returns the process exit code.
// Deferred cleanup runs before main exits.
func run(opts cliOptions) int {
	// Load configuration before the logger so logging.dir is honoured
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(opts.configPath)
	}
	if err != nil {
		logging.New().Printf("ERROR: Failed to load config: %v", err)
		return exitcodes.InvalidConfig
	}

	logger := logging.New()
	if cfg.Logging.Dir != "" {
		logger = logging.NewWithDir(cfg.Logging.Dir, cfg.Logging.RotationDays)
	}

	logger.Println("dataset-prep starting...")
	if opts.configPath != "" {
		logger.Printf("Config file: %s", opts.configPath)
	}
	if opts.dryRun || cfg.Teardown.DryRun {
		logger.Println("DRY RUN MODE: No files will be deleted")
	}

	// Initialize metrics (Prometheus)
	metrics.Init()
	if cfg.Prometheus.Port > 0 {
		addr := cfg.PrometheusAddress()
		logger.Printf("Starting Prometheus metrics on %s", addr)
		if _, err := metrics.StartServer(addr, logger); err != nil {
			logger.Printf("ERROR: Failed to start metrics server: %v", err)
			return exitcodes.RuntimeError
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(ctx, logger)
		}()
	}

	// Open the run journal
	var journal *database.JournalDB
	if cfg.DatabasePath != "" {
		logger.Printf("Opening run journal: %s", cfg.DatabasePath)
		journal, err = database.NewJournalDB(cfg.DatabasePath)
		if err != nil {
			logger.Printf("ERROR: Failed to open database: %v", err)
			return exitcodes.RuntimeError
		}
	}

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	report, runErr := pipeline.Run(ctx, cfg, pipeline.Options{
		DryRun:      opts.dryRun,
		Keep:        opts.keep,
		SkipDataset: opts.skipDataset,
	}, logger, journal)
	cancel()

	if journal != nil {
		if err := journal.Close(); err != nil {
			logger.Printf("ERROR: Failed to close database: %v", err)
		}
	}

	code := exitCode(runErr)
	if runErr != nil {
		logger.Printf("ERROR: Run failed: %v", runErr)
	} else {
		logger.Printf("Run %s completed successfully", report.RunID)
	}
	logger.Println("dataset-prep stopped")
	return code
}

// exitCode maps a run error onto the operator-facing exit codes.
// Safety violations win over every other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case errors.Is(err, safety.ErrProtectedPath),
		errors.Is(err, safety.ErrOutsideAllowed),
		errors.Is(err, safety.ErrTraversal),
		errors.Is(err, safety.ErrSymlinkEscape),
		errors.Is(err, safety.ErrInvalidPath):
		return exitcodes.SafetyViolation
	case errors.Is(err, pipeline.ErrProvision):
		return exitcodes.ProvisionFailed
	case errors.Is(err, pipeline.ErrTeardown):
		return exitcodes.TeardownFailed
	default:
		return exitcodes.RuntimeError
	}
}
