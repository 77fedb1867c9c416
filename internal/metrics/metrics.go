// Package metrics records sync pass counters in a Prometheus registry and
// exports them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mansync"

// Download outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCorrupted = "corrupted"
)

// Recorder owns one registry per process. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	filesChecked   prometheus.Counter
	filesHashed    prometheus.Counter
	retries        prometheus.Counter
	downloads      *prometheus.CounterVec
	downloadBytes  prometheus.Counter
	membersWritten prometheus.Counter
	reconcileOps   *prometheus.CounterVec
	passDuration   prometheus.Histogram
	lastPassState  *prometheus.GaugeVec
	lastPassTime   prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		filesChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_checked_total",
			Help:      "Manifest entries compared against the install directory.",
		}),
		filesHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_hashed_total",
			Help:      "Files read from disk because the hash cache could not answer.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_retries_total",
			Help:      "Download attempts scheduled after a failed one.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_attempts_total",
			Help:      "Download attempts by outcome.",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written by successful downloads.",
		}),
		membersWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_members_extracted_total",
			Help:      "Archive members written to the install directory.",
		}),
		reconcileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_operations_total",
			Help:      "Rename and delete operations by result.",
		}, []string{"op", "result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
		lastPassState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_state",
			Help:      "1 for the terminal state of the last pass, 0 otherwise.",
		}, []string{"state"}),
		lastPassTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last pass finished.",
		}),
	}

	r.registry.MustRegister(
		r.filesChecked,
		r.filesHashed,
		r.retries,
		r.downloads,
		r.downloadBytes,
		r.membersWritten,
		r.reconcileOps,
		r.passDuration,
		r.lastPassState,
		r.lastPassTime,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) FileChecked() {
	if r == nil {
		return
	}
	r.filesChecked.Inc()
}

func (r *Recorder) FilesHashed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.filesHashed.Add(float64(n))
}

func (r *Recorder) Retry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

// Download records one transfer attempt. bytes is only counted for OutcomeOK.
func (r *Recorder) Download(outcome string, bytes int64) {
	if r == nil {
		return
	}
	r.downloads.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK && bytes > 0 {
		r.downloadBytes.Add(float64(bytes))
	}
}

func (r *Recorder) MembersExtracted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.membersWritten.Add(float64(n))
}

func (r *Recorder) Reconcile(op, result string) {
	if r == nil {
		return
	}
	r.reconcileOps.WithLabelValues(op, result).Inc()
}

// PassFinished records the terminal state of a pass. Every state in
// states is reset so exactly one reads 1.
func (r *Recorder) PassFinished(state string, states []string, d time.Duration) {
	if r == nil {
		return
	}
	r.passDuration.Observe(d.Seconds())
	for _, s := range states {
		r.lastPassState.WithLabelValues(s).Set(0)
	}
	r.lastPassState.WithLabelValues(state).Set(1)
	r.lastPassTime.SetToCurrentTime()
}

// WriteTextfile writes the registry to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
