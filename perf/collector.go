package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tasknet"

// Collector exports per-node state to prometheus. A nil Collector discards everything.
type Collector struct {
	registry *prometheus.Registry

	activationLevel     *prometheus.GaugeVec
	activationPotential *prometheus.GaugeVec
	active              *prometheus.GaugeVec
	done                *prometheus.GaugeVec
	arbitration         *prometheus.CounterVec
	restarts            *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		activationLevel: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activation_level",
			Help:      "Current activation level of a node",
		}, []string{"node"}),
		activationPotential: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activation_potential",
			Help:      "Current activation potential of a node",
		}, []string{"node"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "1 while a node is active",
		}, []string{"node"}),
		done: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "done",
			Help:      "1 once a node has completed",
		}, []string{"node"}),
		arbitration: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitration_rounds_total",
			Help:      "Peer arbitration rounds by result",
		}, []string{"node", "result"}),
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_restarts_total",
			Help:      "Work attempts aborted by the watchdog",
		}, []string{"node"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveState(node string, level, potential float32, active, done bool) {
	if c == nil {
		return
	}
	c.activationLevel.WithLabelValues(node).Set(float64(level))
	c.activationPotential.WithLabelValues(node).Set(float64(potential))
	c.active.WithLabelValues(node).Set(b2f(active))
	c.done.WithLabelValues(node).Set(b2f(done))
}

func (c *Collector) ObserveArbitration(node, result string) {
	ArbitrationRounds.Add(1)
	if c == nil {
		return
	}
	c.arbitration.WithLabelValues(node, result).Inc()
}

func (c *Collector) ObserveRestart(node string) {
	WorkRestarts.Add(1)
	if c == nil {
		return
	}
	c.restarts.WithLabelValues(node).Inc()
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
