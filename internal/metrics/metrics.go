package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EdgeHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_edge_hits_total",
			Help: "Pixel hits accepted at Edge.",
		},
		[]string{"company_id", "forward_tier"},
	)

	EdgeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelwatch_edge_request_duration_seconds",
			Help:    "Edge request handling latency, pixel path.",
			Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		},
		[]string{"route"},
	)

	FastEnricherDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelwatch_fast_enricher_duration_seconds",
			Help:    "Per-step latency of Edge fast enrichers.",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		},
		[]string{"step"},
	)

	ForwardFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_forward_fallbacks_total",
			Help: "Forward attempts that fell through to a lower durability tier.",
		},
		[]string{"tier"},
	)

	IPCRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_ipc_records_total",
			Help: "Records received over the IPC channel or replayed from spool.",
		},
		[]string{"source"},
	)

	SpoolBacklogFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pixelwatch_spool_backlog_files",
			Help: "Undone spool files awaiting replay.",
		},
		[]string{"directory"},
	)

	EnrichmentQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pixelwatch_enrichment_queue_depth",
			Help: "Current occupancy of the enrichment channel.",
		},
		[]string{},
	)

	EnrichmentStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelwatch_enrichment_step_duration_seconds",
			Help:    "Per-step latency within the enrichment pipeline.",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2, 3},
		},
		[]string{"step"},
	)

	EnrichmentStepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_enrichment_step_errors_total",
			Help: "Per-step failures swallowed by the per-record error policy.",
		},
		[]string{"step"},
	)

	WriterChannelDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_writer_channel_dropped_total",
			Help: "Enriched records dropped because the writer channel was full.",
		},
		[]string{},
	)

	BulkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelwatch_bulk_write_duration_seconds",
			Help:    "Latency of a bulk insert into raw_hits.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{},
	)

	BulkWriteBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelwatch_bulk_write_batch_size",
			Help:    "Batch sizes flushed to raw_hits.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 5000},
		},
		[]string{},
	)

	BulkWriteRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_bulk_write_retries_total",
			Help: "Transient bulk-write failures retried with backoff.",
		},
		[]string{},
	)

	WatermarkLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pixelwatch_watermark_lag",
			Help: "Difference between the upstream max Id and the process watermark.",
		},
		[]string{"process"},
	)

	WatermarkRowsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_watermark_rows_processed_total",
			Help: "Rows processed per batch-ETL cycle.",
		},
		[]string{"process"},
	)

	MatchUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_match_upserts_total",
			Help: "Match rows inserted or updated, by match type.",
		},
		[]string{"match_type"},
	)

	DeviceAffluenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_device_affluence_total",
			Help: "Visits scored per affluence tier.",
		},
		[]string{"tier"},
	)

	KnownBotHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_known_bot_hits_total",
			Help: "Hits matched against the known-bot pattern set.",
		},
		[]string{"bot_name"},
	)

	ContradictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_contradictions_total",
			Help: "Contradiction-matrix rule hits, by rule and severity.",
		},
		[]string{"rule", "severity"},
	)

	ReplayDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelwatch_replay_detected_total",
			Help: "Behavioral-replay hash collisions across distinct fingerprints.",
		},
		[]string{},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		doRegister()
	})
}

func doRegister() {
	prometheus.MustRegister(
		EdgeHitsTotal,
		EdgeRequestDuration,
		FastEnricherDuration,
		ForwardFallbacksTotal,
		IPCRecordsTotal,
		SpoolBacklogFiles,
		EnrichmentQueueDepth,
		EnrichmentStepDuration,
		EnrichmentStepErrorsTotal,
		WriterChannelDroppedTotal,
		BulkWriteDuration,
		BulkWriteBatchSize,
		BulkWriteRetriesTotal,
		WatermarkLag,
		WatermarkRowsProcessedTotal,
		MatchUpsertsTotal,
		DeviceAffluenceTotal,
		KnownBotHitsTotal,
		ContradictionsTotal,
		ReplayDetectedTotal,
	)
}
