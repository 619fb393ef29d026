package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dataset-prep/internal/config"
	"dataset-prep/internal/database"
	"dataset-prep/internal/dataset"
	"dataset-prep/internal/disk"
	"dataset-prep/internal/fsops"
	"dataset-prep/internal/metrics"
	"dataset-prep/internal/provision"
	"dataset-prep/internal/safety"
	"dataset-prep/internal/teardown"
)

// Stage errors let callers tell which part of a run failed.
var (
	ErrProvision = errors.New("provisioning failed")
	ErrDataset   = errors.New("dataset load failed")
	ErrTeardown  = errors.New("teardown failed")
)

type Options struct {
	DryRun      bool // Overrides teardown.dry_run when true
	Keep        bool // Skip teardown entirely
	SkipDataset bool

	// Loader replaces the configured dataset loader when set.
	Loader dataset.Loader
	// Deleter replaces the OS deleter when set.
	Deleter fsops.Deleter
}

// Report describes what a run did.
type Report struct {
	RunID       string
	Provisioned []string
	Dataset     *dataset.Handle
	Teardown    []teardown.Result
	Duration    time.Duration
}

// Run provisions the working directories, loads the dataset into the cache
// directory and tears the provisioned directories down again. Teardown runs
// even when the load fails; a provisioning failure skips the load and keeps
// the failed path out of teardown. The returned error joins every failed
// stage.
func Run(ctx context.Context, cfg *config.Config, opts Options, logger *log.Logger, journal *database.JournalDB) (*Report, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	metrics.RecordRunStart()
	logger.Printf("run %s starting: base=%s", report.RunID, cfg.BaseDir)

	var runJournal *database.RunJournal
	if journal != nil {
		runJournal = journal.ForRun(report.RunID)
	}

	paths := cfg.Paths()
	validator := safety.NewValidator([]string{cfg.BaseDir}, cfg.Teardown.ProtectedPaths)

	var errs []error

	prov := provision.New(logger, cfg.Mode())
	prov.SetValidator(validator)
	if runJournal != nil {
		prov.SetRecorder(runJournal)
	}
	// Only paths that ended up as directories are ever torn down, so a
	// file sitting where a working dir should be is left alone.
	ready, provErr := prov.EnsureReady(paths)
	report.Provisioned = ready
	if provErr != nil {
		metrics.RecordError("provision")
		errs = append(errs, fmt.Errorf("%w: %w", ErrProvision, provErr))
	} else {
		recordFreeSpace(cfg.BaseDir, logger)
	}

	if provErr == nil && cfg.DatasetEnabled() && !opts.SkipDataset {
		handle, err := loadDataset(ctx, cfg, opts, logger)
		if err != nil {
			metrics.RecordError("dataset")
			errs = append(errs, fmt.Errorf("%w: %w", ErrDataset, err))
			recordLoad(runJournal, cfg, nil, err, logger)
		} else {
			report.Dataset = handle
			recordLoad(runJournal, cfg, handle, nil, logger)
		}
	}

	if cfg.TeardownEnabled() && !opts.Keep {
		remover := teardown.New(logger, cfg.Teardown.DryRun || opts.DryRun)
		remover.SetValidator(validator)
		if opts.Deleter != nil {
			remover.SetDeleter(opts.Deleter)
		}
		if runJournal != nil {
			remover.SetRecorder(runJournal)
		}
		results, err := remover.RemoveAll(ready)
		report.Teardown = results
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrTeardown, err))
		}
	} else {
		logger.Printf("run %s: teardown disabled, leaving %d directories in place", report.RunID, len(ready))
	}

	report.Duration = time.Since(start)
	logger.Printf("run %s complete: provisioned=%d torn_down=%d duration=%.3fs",
		report.RunID, len(report.Provisioned), len(report.Teardown), report.Duration.Seconds())

	return report, errors.Join(errs...)
}

func loadDataset(ctx context.Context, cfg *config.Config, opts Options, logger *log.Logger) (*dataset.Handle, error) {
	loader := opts.Loader
	if loader == nil {
		loader = dataset.NewHubLoader(cfg.Dirs.Cache, cfg.Dataset.Endpoint, cfg.DatasetTimeout(), cfg.Dataset.RetryCount, logger)
	}
	return loader.Load(ctx, cfg.Dataset.Name, cfg.Dataset.Subset)
}

func recordLoad(j *database.RunJournal, cfg *config.Config, h *dataset.Handle, loadErr error, logger *log.Logger) {
	if j == nil {
		return
	}
	label := cfg.Dataset.Name
	if cfg.Dataset.Subset != "" {
		label += "/" + cfg.Dataset.Subset
	}

	action, size, msg := "LOAD", int64(0), ""
	if loadErr != nil {
		action, msg = "ERROR", loadErr.Error()
	} else if h != nil {
		size = int64(len(h.Raw))
	}
	if err := j.RecordEvent(action, label, "dataset", size, msg); err != nil {
		logger.Printf("journal write failed: %v", err)
	}
}

func recordFreeSpace(base string, logger *log.Logger) {
	u, err := disk.GetUsage(base)
	if err != nil {
		logger.Printf("free space check on %s failed: %v", base, err)
		return
	}
	metrics.SetBaseFree(u.FreeBytes)
	logger.Printf("base %s: %.1f%% used, %d bytes free", base, u.UsedPercent, u.FreeBytes)
}
