package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logins counts interactive logins by result.
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_logins_total",
			Help: "The total number of interactive logins.",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh_token grants by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_token_refreshes_total",
			Help: "The total number of access token refreshes.",
		},
		[]string{"result"},
	)

	// SiteUp is 1 while a monitored site answers and 0 otherwise.
	SiteUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitewatch_site_up",
			Help: "Whether a monitored site was reachable at the last check.",
		},
		[]string{"url"},
	)

	// SiteCheckDuration is a histogram of site check latency.
	SiteCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitewatch_site_check_duration_seconds",
			Help:    "A histogram of site check duration.",
			Buckets: prometheus.LinearBuckets(0.1, 0.2, 10),
		},
		[]string{"url"},
	)

	// Notifications counts delivered and failed notifications per channel.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_notifications_total",
			Help: "The total number of notifications sent.",
		},
		[]string{"channel", "result"},
	)

	// JobsCompleted is a counter for jobs completed successfully.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_jobs_completed_total",
			Help: "The total number of jobs completed successfully.",
		},
		[]string{"job"},
	)

	// JobsFailed is a counter for jobs that exhausted their retries.
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_jobs_failed_total",
			Help: "The total number of jobs that failed.",
		},
		[]string{"job"},
	)

	// JobRetries is a counter for job retries.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitewatch_job_retries_total",
			Help: "The total number of times a job has been retried.",
		},
		[]string{"job"},
	)

	// JobsInFlight is a gauge that shows the number of currently running jobs.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitewatch_jobs_in_flight",
			Help: "The number of jobs currently being executed.",
		},
	)
)
