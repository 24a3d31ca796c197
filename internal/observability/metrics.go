// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_search_results_total",
		Help: "Raw search hits returned per backend",
	}, []string{"backend"})

	SearchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_search_failures_total",
		Help: "Search backend calls that failed",
	}, []string{"backend"})

	DuplicatesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "repurpose_search_duplicates_removed_total",
		Help: "Search hits dropped by deduplication",
	})

	FilterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_filter_decisions_total",
		Help: "Relevance filter decisions by outcome",
	}, []string{"outcome"})

	ExtractionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_extractions_total",
		Help: "Extraction outcomes (cache_hit, extracted, failed)",
	}, []string{"outcome"})

	CapabilityCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repurpose_capability_call_duration_seconds",
		Help:    "Duration of classification and extraction calls",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
	}, []string{"provider", "schema"})

	CapabilityRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_capability_retries_total",
		Help: "Retried capability calls",
	}, []string{"provider"})

	FixupsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_fixups_applied_total",
		Help: "Deterministic extraction fixups that changed a record",
	}, []string{"fixup"})

	DiseaseResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_disease_resolutions_total",
		Help: "Disease standardizations by resolving tier",
	}, []string{"tier"})

	ExtractionsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_extractions_excluded_total",
		Help: "Extractions left out of scoring, by reason",
	}, []string{"reason"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_store_errors_total",
		Help: "Non-fatal persistence failures",
	}, []string{"op"})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repurpose_runs_total",
		Help: "Drug pipeline runs by final status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repurpose_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})
)
