package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DirsProvisionedTotal counts provisioning outcomes (CREATE, EXISTS, ERROR)
	DirsProvisionedTotal *prometheus.CounterVec

	// EntriesRemovedTotal counts teardown deletions by kind (file, dir, link, other)
	EntriesRemovedTotal *prometheus.CounterVec

	// BytesRemovedTotal counts bytes held by removed regular files
	BytesRemovedTotal prometheus.Counter

	// ErrorsTotal counts failures per stage (provision, dataset, teardown)
	ErrorsTotal *prometheus.CounterVec

	TeardownDuration    prometheus.Histogram
	DatasetLoadDuration prometheus.Histogram

	// LastRunTimestamp records the Unix time the last run started
	LastRunTimestamp prometheus.Gauge

	// BaseFreeBytes is the space available under base_dir after provisioning
	BaseFreeBytes prometheus.Gauge
)

func initPrepMetrics() {
	DirsProvisionedTotal = NewCounterVec(
		"datasetprep_dirs_provisioned_total",
		"Working directories processed by the provisioner, by outcome.",
		[]string{"result"},
	)

	EntriesRemovedTotal = NewCounterVec(
		"datasetprep_entries_removed_total",
		"Filesystem entries deleted during teardown, by kind.",
		[]string{"kind"},
	)

	BytesRemovedTotal = NewCounter(
		"datasetprep_bytes_removed_total",
		"Total bytes of regular files deleted during teardown.",
	)

	ErrorsTotal = NewCounterVec(
		"datasetprep_errors_total",
		"Errors encountered, by pipeline stage.",
		[]string{"stage"},
	)

	TeardownDuration = NewDurationHistogram(
		"datasetprep_teardown_duration_seconds",
		"Duration of a single directory teardown in seconds.",
	)

	DatasetLoadDuration = NewDurationHistogram(
		"datasetprep_dataset_load_duration_seconds",
		"Duration of dataset loads in seconds.",
	)

	LastRunTimestamp = NewGauge(
		"datasetprep_last_run_timestamp",
		"Start time of the last run (Unix epoch seconds).",
	)

	BaseFreeBytes = NewGauge(
		"datasetprep_base_free_bytes",
		"Bytes available on the filesystem holding base_dir.",
	)
}

func registerPrepMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		DirsProvisionedTotal,
		EntriesRemovedTotal,
		BytesRemovedTotal,
		ErrorsTotal,
		TeardownDuration,
		DatasetLoadDuration,
		LastRunTimestamp,
		BaseFreeBytes,
	)
}

// The helpers below are no-ops until Init has run, so library code and
// tests that never call Init stay usable.

func RecordProvision(result string) {
	if DirsProvisionedTotal == nil {
		return
	}
	DirsProvisionedTotal.WithLabelValues(result).Inc()
}

func RecordRemoval(kind string, bytes int64) {
	if EntriesRemovedTotal == nil {
		return
	}
	EntriesRemovedTotal.WithLabelValues(kind).Inc()
	if bytes > 0 {
		BytesRemovedTotal.Add(float64(bytes))
	}
}

func RecordError(stage string) {
	if ErrorsTotal == nil {
		return
	}
	ErrorsTotal.WithLabelValues(stage).Inc()
}

func ObserveTeardown(d time.Duration) {
	if TeardownDuration == nil {
		return
	}
	TeardownDuration.Observe(d.Seconds())
}

func ObserveDatasetLoad(d time.Duration) {
	if DatasetLoadDuration == nil {
		return
	}
	DatasetLoadDuration.Observe(d.Seconds())
}

func RecordRunStart() {
	if LastRunTimestamp == nil {
		return
	}
	LastRunTimestamp.Set(float64(time.Now().Unix()))
}

func SetBaseFree(bytes int64) {
	if BaseFreeBytes == nil {
		return
	}
	BaseFreeBytes.Set(float64(bytes))
}
