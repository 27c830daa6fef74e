// Package promhook exports opscache hook events as Prometheus metrics.
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/opscache"
	"github.com/unkn0wn-root/opscache/datastore"
)

type Hooks struct {
	// CacheOperations counts fetch outcomes by operation and result.
	CacheOperations *prometheus.CounterVec
	// Invalidations counts entity invalidations by the entity that changed.
	Invalidations  *prometheus.CounterVec
	SelfHeals      *prometheus.CounterVec
	Outages        prometheus.Counter
	GenErrors      prometheus.Counter
	SetRejected    prometheus.Counter
	FetchFailures  prometheus.Counter
	BatchAborts    prometheus.Counter
	RealtimeEvents *prometheus.CounterVec
}

var _ opscache.Hooks = (*Hooks)(nil)

// New registers the metrics with reg. nil => prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		CacheOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opscache_cache_operations_total",
			Help: "Cache lookups by operation and result",
		}, []string{"operation", "result"}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opscache_invalidations_total",
			Help: "Invalidation passes by changed entity and mutation kind",
		}, []string{"entity", "kind"}),
		SelfHeals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opscache_self_heals_total",
			Help: "Entries dropped on read",
		}, []string{"reason"}),
		Outages: f.NewCounter(prometheus.CounterOpts{
			Name: "opscache_invalidate_outages_total",
			Help: "Entity invalidations where both generation bump and restamp failed",
		}),
		GenErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "opscache_gen_snapshot_errors_total",
			Help: "Generation store snapshot failures",
		}),
		SetRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "opscache_provider_set_rejected_total",
			Help: "Writes the provider refused under pressure",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "opscache_fetch_failures_total",
			Help: "Loader failures surfaced as DataFetchError",
		}),
		BatchAborts: f.NewCounter(prometheus.CounterOpts{
			Name: "opscache_batch_aborts_total",
			Help: "Batches stopped by a failing operation",
		}),
		RealtimeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opscache_realtime_events_total",
			Help: "Change events received by entity and kind",
		}, []string{"entity", "kind"}),
	}
}

func (h *Hooks) CacheHit(string) { h.CacheOperations.WithLabelValues("fetch", "hit").Inc() }

func (h *Hooks) CacheMiss(_ string, reason string) {
	h.CacheOperations.WithLabelValues("fetch", "miss_"+reason).Inc()
}

func (h *Hooks) SelfHeal(_ string, reason string) { h.SelfHeals.WithLabelValues(reason).Inc() }

func (h *Hooks) Invalidated(entity string, kind datastore.Kind, _ []string) {
	h.Invalidations.WithLabelValues(entity, string(kind)).Inc()
}

func (h *Hooks) InvalidateOutage(string, error, error) { h.Outages.Inc() }
func (h *Hooks) GenSnapshotError(int, error)           { h.GenErrors.Inc() }
func (h *Hooks) ProviderSetRejected(string)            { h.SetRejected.Inc() }
func (h *Hooks) FetchFailed(string, error)             { h.FetchFailures.Inc() }
func (h *Hooks) BatchAborted(int, int, error)          { h.BatchAborts.Inc() }

func (h *Hooks) RealtimeEvent(entity string, kind datastore.Kind) {
	h.RealtimeEvents.WithLabelValues(entity, string(kind)).Inc()
}
