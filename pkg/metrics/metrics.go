package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "red_packet"

var (
	// GrabTotal 抢红包结果计数，code 取值见 service.GrabCode
	GrabTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grab_total",
			Help:      "Total number of grab attempts by outcome",
		},
		[]string{"code"},
	)

	GrabDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grab_duration_seconds",
			Help:      "Grab request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// GrabCASConflicts 条件更新未命中（缓存与数据库不一致）的次数
	GrabCASConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grab_cas_conflicts_total",
			Help:      "Conditional packet updates that affected zero rows",
		},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job ticks by job and result",
		},
		[]string{"job", "result"},
	)

	SettledRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_records_total",
			Help:      "Claim records processed by the settlement worker",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
