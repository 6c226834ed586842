package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	ChannelsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_channels_processed_total",
			Help: "Total number of channels processed by the pipeline",
		},
		[]string{"status"},
	)

	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oppdetect_pipeline_run_duration_seconds",
			Help:    "Duration of full pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	MessagesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oppdetect_messages_ingested_total",
			Help: "Total number of messages ingested across all channels",
		},
	)

	// Opportunity metrics
	OpportunitiesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_opportunities_extracted_total",
			Help: "Total number of opportunity drafts by validation outcome",
		},
		[]string{"status"},
	)

	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oppdetect_extraction_duration_seconds",
			Help:    "Duration of inference calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// External API metrics
	SlackAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_slack_api_calls_total",
			Help: "Total number of Slack API calls",
		},
		[]string{"method", "status"},
	)

	OpenAIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_openai_api_calls_total",
			Help: "Total number of OpenAI API calls",
		},
		[]string{"status"},
	)

	// Storage metrics
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	TransactionRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oppdetect_transaction_rollbacks_total",
			Help: "Total number of per-channel transactions rolled back",
		},
	)

	// HTTP metrics for the ops server
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oppdetect_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)
)
