package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency distribution",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"})
	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status"})
	Inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "In-flight HTTP requests",
	})
	DBUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_up",
		Help: "Database connectivity (1=up,0=down)",
	})
	RedisUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_up",
		Help: "Redis connectivity (1=up,0=down)",
	})
	KafkaUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kafka_up",
		Help: "Kafka connectivity (1=up,0=down)",
	})
	EtcdUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etcd_up",
		Help: "Etcd connectivity (1=up,0=down)",
	})
	DependencyCheckDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dependency_check_duration_seconds",
		Help:    "Latency of dependency health checks",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.4, 0.8, 1},
	}, []string{"dep"})

	// ===== 菜单权限 =====
	RepositoryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "menu_repository_duration_seconds",
		Help:    "Latency of menu repository calls",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"driver", "op", "result"})
	ResolverLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_resolver_lookups_total",
		Help: "Permission resolver lookups by source (unrestricted|cache|load|load_error)",
	}, []string{"source"})
	GuardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "route_guard_decisions_total",
		Help: "Route guard decisions by state",
	}, []string{"state"})
	EditorSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "permission_editor_open_sessions",
		Help: "Open permission editor sessions",
	})
	EditorSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_editor_saves_total",
		Help: "Permission editor saves by result (ok|error|rejected)",
	}, []string{"result"})
	PermissionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "permission_events_total",
		Help: "Permission events by result (published|publish_error|consumed|consume_error|skipped_self|malformed) and type",
	}, []string{"result", "type"})
)
