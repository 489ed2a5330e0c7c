// Package metrics exposes bridge and registry counters over a
// Prometheus /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visiona/modelbridge/bridge"
	"github.com/visiona/modelbridge/registry"
)

// NewServer returns an HTTP server serving /metrics from the default
// registerer.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}

// RegisterBridge publishes the bridge counters as gauges sampled on
// scrape. A nil reg uses the default registerer.
func RegisterBridge(reg prometheus.Registerer, b *bridge.Bridge) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	samplers := []struct {
		name string
		help string
		get  func(bridge.Stats) uint64
	}{
		{"modelbridge_frames_in_total", "Frames accepted from the transport.",
			func(s bridge.Stats) uint64 { return s.FramesIn }},
		{"modelbridge_frames_out_total", "Frames handed to the transport.",
			func(s bridge.Stats) uint64 { return s.FramesOut }},
		{"modelbridge_foreign_source_total", "Frames dropped by origin-slot filtering.",
			func(s bridge.Stats) uint64 { return s.ForeignSource }},
		{"modelbridge_foreign_channel_total", "Frames dropped by channel filtering.",
			func(s bridge.Stats) uint64 { return s.ForeignChannel }},
		{"modelbridge_decode_failures_total", "Frames dropped as undecodable.",
			func(s bridge.Stats) uint64 { return s.DecodeFailures }},
		{"modelbridge_emits_while_idle_total", "Prediction batches dropped while detached.",
			func(s bridge.Stats) uint64 { return s.EmitsWhileIdle }},
	}
	for _, s := range samplers {
		get := s.get
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: s.name, Help: s.help},
			func() float64 { return float64(get(b.Stats())) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRegistry publishes instance membership gauges.
func RegisterRegistry(reg prometheus.Registerer, r *registry.Registry) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	total := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "modelbridge_models_registered",
			Help: "Registered model instances.",
		},
		func() float64 { return float64(len(r.List())) },
	)
	if err := reg.Register(total); err != nil {
		return err
	}
	running := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "modelbridge_models_running",
			Help: "Model instances with an active inference loop.",
		},
		func() float64 {
			n := 0
			for _, e := range r.List() {
				if e.Capability.IsRunning() {
					n++
				}
			}
			return float64(n)
		},
	)
	return reg.Register(running)
}
