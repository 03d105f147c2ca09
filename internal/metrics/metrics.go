// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package metrics holds the Prometheus counters and histograms the
// importer exposes: job outcomes by error kind, per-stage durations,
// retry counts, and media dedup counts.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/polyimport/internal/importerr"
)

type registry struct {
	once sync.Once

	jobsStarted   prometheus.Counter
	jobsSucceeded prometheus.Counter
	jobsFailed    *prometheus.CounterVec

	stageDuration prometheus.Histogram

	apiRetries    prometheus.Counter
	pandocRetries prometheus.Counter

	mediaStored prometheus.Counter
	mediaDedup  prometheus.Counter
}

var m registry

func (r *registry) init() {
	r.once.Do(func() {
		r.jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_jobs_started_total",
			Help: "Import jobs dispatched to a worker.",
		})
		r.jobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_jobs_succeeded_total",
			Help: "Import jobs that completed successfully.",
		})
		r.jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polyimport_jobs_failed_total",
			Help: "Import jobs that failed, labeled by error kind.",
		}, []string{"kind"})

		buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
		r.stageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polyimport_stage_seconds",
			Help:    "Duration of one orchestrator stage.",
			Buckets: buckets,
		})

		r.apiRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_polygon_api_retries_total",
			Help: "Retries against the Polygon REST API.",
		})
		r.pandocRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_pandoc_retries_total",
			Help: "Retries of the pandoc subprocess invocation.",
		})

		r.mediaStored = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_media_stored_total",
			Help: "Newly stored statement media files.",
		})
		r.mediaDedup = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polyimport_media_deduped_total",
			Help: "Statement media references resolved to an already-stored file.",
		})

		prometheus.MustRegister(
			r.jobsStarted, r.jobsSucceeded, r.jobsFailed,
			r.stageDuration,
			r.apiRetries, r.pandocRetries,
			r.mediaStored, r.mediaDedup,
		)
	})
}

// JobStarted records a job dispatch.
func JobStarted() { m.init(); m.jobsStarted.Inc() }

// JobSucceeded records a successful import.
func JobSucceeded() { m.init(); m.jobsSucceeded.Inc() }

// JobFailed records a failed import, labeled by its error kind. Errors
// that are not *importerr.ProblemImportError are labeled "infrastructure".
func JobFailed(err error) {
	m.init()
	kind := "infrastructure"
	if pe, ok := err.(*importerr.ProblemImportError); ok {
		kind = string(pe.Kind)
	}
	m.jobsFailed.WithLabelValues(kind).Inc()
}

// ObserveStage records how long one orchestrator stage took.
func ObserveStage(d time.Duration) { m.init(); m.stageDuration.Observe(d.Seconds()) }

// RecordAPIRetry records a Polygon API retry attempt.
func RecordAPIRetry() { m.init(); m.apiRetries.Inc() }

// RecordPandocRetry records a pandoc subprocess retry attempt.
func RecordPandocRetry() { m.init(); m.pandocRetries.Inc() }

// RecordMediaStored records a newly stored media file.
func RecordMediaStored() { m.init(); m.mediaStored.Inc() }

// RecordMediaDedup records a media reference resolved against an
// already-stored file.
func RecordMediaDedup() { m.init(); m.mediaDedup.Inc() }
