package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedgate_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	OrganizationsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedgate_organizations_registered_total",
			Help: "Total organizations registered",
		},
	)

	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_invocations_total",
			Help: "Total invocation attempts by policy result",
		},
		[]string{"policy_result"}, // "allowed" or "blocked"
	)

	DispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedgate_dispatch_failures_total",
			Help: "Total invocations that passed policy but failed at the runtime",
		},
	)

	PolicyBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_policy_blocks_total",
			Help: "Total policy blocks by reason class",
		},
		[]string{"reason"},
	)

	TokensProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_tokens_total",
			Help: "Total tokens processed by direction",
		},
		[]string{"direction"}, // "input" or "output"
	)

	InvocationCostUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fedgate_invocation_cost_usd_total",
			Help: "Cumulative invocation cost in USD",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_rate_limit_hits_total",
			Help: "Total edge rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedgate_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fedgate_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fedgate_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)

	RuntimeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fedgate_runtime_latency_seconds",
			Help:    "Agent runtime dispatch latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)
