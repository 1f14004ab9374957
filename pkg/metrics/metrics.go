package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job lifecycle metrics
	JobsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listforge_jobs_claimed_total",
			Help: "Total number of jobs claimed by this worker",
		},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listforge_jobs_completed_total",
			Help: "Total number of jobs finished by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listforge_job_duration_seconds",
			Help:    "Wall-clock time from claim to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listforge_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"stage"},
	)

	HeartbeatLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listforge_heartbeat_losses_total",
			Help: "Heartbeats that matched no owned job (job was reclaimed)",
		},
	)

	// Download metrics
	SourceDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listforge_source_downloads_total",
			Help: "Source fetch outcomes by result",
		},
		[]string{"result"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listforge_cache_hits_total",
			Help: "Source fetches served from the content cache",
		},
	)

	BytesDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listforge_bytes_downloaded_total",
			Help: "Total bytes fetched from remote sources",
		},
	)

	// Output metrics
	DomainsEmitted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "listforge_domains_emitted",
			Help: "Unique domains in the most recent completed build",
		},
	)

	OutputBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "listforge_output_bytes",
			Help: "Compressed output size of the most recent completed build",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsClaimed)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(HeartbeatLosses)
	prometheus.MustRegister(SourceDownloads)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(BytesDownloaded)
	prometheus.MustRegister(DomainsEmitted)
	prometheus.MustRegister(OutputBytes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
