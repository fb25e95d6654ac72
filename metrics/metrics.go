package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionOutputsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_execution_outputs_ingested_total",
			Help: "Total number of execution outputs decoded",
		},
		[]string{"mode", "codec"},
	)

	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_ingest_failures_total",
			Help: "Total number of execution results that could not be decoded or fetched",
		},
		[]string{"reason"},
	)

	AlertDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_alert_decisions_total",
			Help: "Total number of alert decisions by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_http_request_duration_seconds",
			Help:    "Time taken to serve API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	StorageWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_storage_write_failures_total",
			Help: "Total number of test run results that failed to persist",
		},
	)
)
