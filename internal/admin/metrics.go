package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
)

// metrics exports the control plane's Prometheus gauges (spec §3
// "Metrics ... via prometheus/client_golang"), sampled on scrape rather than
// pushed, since the pool and session tables are already the source of
// truth — grounded on the teacher's metrics middleware pattern of
// registering collectors once at startup.
type metrics struct {
	poolSize     *prometheus.GaugeVec
	activeUsers  prometheus.Gauge
	depCacheHits prometheus.Counter
	depCacheMiss prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, poolMgr *pool.Manager, activeUsers func() int) *metrics {
	factory := promauto.With(reg)

	m := &metrics{
		poolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wlo_pool_sandboxes",
			Help: "Number of pool sandboxes by role and allocation state.",
		}, []string{"role", "state"}),
		activeUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wlo_active_sessions",
			Help: "Number of active orchestrator sessions.",
		}),
		depCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "wlo_dep_cache_hits_total",
			Help: "Dep-cache existence checks that found a materialized hash.",
		}),
		depCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "wlo_dep_cache_misses_total",
			Help: "Dep-cache existence checks that found no materialized hash.",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wlo_pool_snapshot_size",
		Help: "Total sandboxes currently tracked by the pool manager.",
	}, func() float64 {
		return float64(len(poolMgr.Snapshot()))
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wlo_active_sessions_snapshot",
		Help: "Active orchestrator sessions at last scrape.",
	}, func() float64 {
		return float64(activeUsers())
	})

	return m
}

// sampleRoleState recomputes the per-role/per-state pool gauge from a fresh
// snapshot; called once per /admin/pool request. The /metrics handler does
// not call it, so a scrape reports the values from the last /admin/pool request.
func (m *metrics) sampleRoleState(snapshot []pool.Sandbox) {
	m.poolSize.Reset()
	for _, s := range snapshot {
		state := "idle"
		switch {
		case s.IsReserved():
			state = "reserved"
		case s.IsAllocated():
			state = "allocated"
		case s.Protected:
			state = "protected"
		}
		m.poolSize.WithLabelValues(string(s.Role), state).Inc()
	}
}

func (m *metrics) recordDepCacheLookup(hit bool) {
	if hit {
		m.depCacheHits.Inc()
		return
	}
	m.depCacheMiss.Inc()
}
