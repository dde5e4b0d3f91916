// Package metrics exposes Prometheus collectors for the storage tiers and the
// download coordinator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service records.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	tierReads       *prometheus.CounterVec
	remoteFailures  *prometheus.CounterVec
	evictionPasses  prometheus.Counter
	evictedTracks   prometheus.Counter
	evictedBytes    prometheus.Counter
	localBytes      prometheus.Gauge
	downloads       *prometheus.CounterVec
	activeDownloads prometheus.Gauge
	streamResponses *prometheus.CounterVec
	streamedBytes   prometheus.Counter
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackvault_metadata_cache_lookups_total",
			Help: "Metadata cache lookups by backend and result",
		}, []string{"backend", "result"}), // result: hit, miss
		tierReads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackvault_tier_resolutions_total",
			Help: "Track resolutions by the tier that answered",
		}, []string{"tier"}), // cache, local, remote, resolver, miss
		remoteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackvault_remote_failures_total",
			Help: "Best-effort remote tier operations that failed",
		}, []string{"op"}),
		evictionPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "trackvault_eviction_passes_total",
			Help: "Eviction passes that removed at least one track",
		}),
		evictedTracks: f.NewCounter(prometheus.CounterOpts{
			Name: "trackvault_evicted_tracks_total",
			Help: "Tracks removed by eviction",
		}),
		evictedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "trackvault_evicted_bytes_total",
			Help: "Local bytes reclaimed by eviction",
		}),
		localBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "trackvault_local_bytes",
			Help: "Bytes currently held by the local tier",
		}),
		downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackvault_offline_downloads_total",
			Help: "Offline download jobs by terminal state",
		}, []string{"state"}),
		activeDownloads: f.NewGauge(prometheus.GaugeOpts{
			Name: "trackvault_offline_downloads_active",
			Help: "Offline download transfers currently in flight",
		}),
		streamResponses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackvault_stream_responses_total",
			Help: "Audio stream responses by HTTP status",
		}, []string{"status"}),
		streamedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "trackvault_streamed_bytes_total",
			Help: "Audio bytes written to clients",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) CacheLookup(backend string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) TierResolved(tier string) {
	if m == nil {
		return
	}
	m.tierReads.WithLabelValues(tier).Inc()
}

func (m *Metrics) RemoteFailure(op string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(op).Inc()
}

// Evicted records one completed eviction pass.
func (m *Metrics) Evicted(tracks int, bytes int64) {
	if m == nil || tracks == 0 {
		return
	}
	m.evictionPasses.Inc()
	m.evictedTracks.Add(float64(tracks))
	m.evictedBytes.Add(float64(bytes))
}

func (m *Metrics) SetLocalBytes(n int64) {
	if m == nil {
		return
	}
	m.localBytes.Set(float64(n))
}

func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.activeDownloads.Inc()
}

func (m *Metrics) DownloadFinished(state string) {
	if m == nil {
		return
	}
	m.activeDownloads.Dec()
	m.downloads.WithLabelValues(state).Inc()
}

func (m *Metrics) StreamResponse(status int, bytes int64) {
	if m == nil {
		return
	}
	m.streamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	if bytes > 0 {
		m.streamedBytes.Add(float64(bytes))
	}
}
