package loader

import "github.com/prometheus/client_golang/prometheus"

const (
	kindManifest    = "manifest"
	kindRemoteEntry = "remote_entry"
	kindModule      = "module"
	kindShared      = "shared"
)

type metrics struct {
	fetches   *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	failures  *prometheus.CounterVec
	loaded    prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esm_federation_loader_fetch_total",
				Help: "Number of network fetches issued by the loader, by kind.",
			},
			[]string{"kind"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esm_federation_loader_cache_hit_total",
				Help: "Number of loads served from the module cache, by kind.",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esm_federation_loader_failure_total",
				Help: "Number of failed fetches or evaluations, by kind.",
			},
			[]string{"kind"},
		),
		loaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "esm_federation_loader_modules_loaded",
				Help: "Number of module instances currently cached.",
			},
		),
	}
	if registerer != nil {
		registerer.MustRegister(m.fetches, m.cacheHits, m.failures, m.loaded)
	}
	return m
}
