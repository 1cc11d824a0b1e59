package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency   = metric.NewHistogram("1m1s")
	TickLatency       = metric.NewHistogram("1m1s")
	ArbitrationRounds = metric.NewCounter("1m1s")
	WorkRestarts      = metric.NewCounter("1m1s")
	MessagesSent      = metric.NewCounter("10s1s")
	MessagesReceived  = metric.NewCounter("10s1s")
	MessagesDropped   = metric.NewCounter("10s1s")
	DecodeErrors      = metric.NewCounter("10s1s")
)

func init() {
	expvar.Publish("tasknet:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("tasknet:TickLatency (µs)", TickLatency)
	expvar.Publish("tasknet:ArbitrationRounds", ArbitrationRounds)
	expvar.Publish("tasknet:WorkRestarts", WorkRestarts)
	expvar.Publish("tasknet:Sent/s", MessagesSent)
	expvar.Publish("tasknet:Recv/s", MessagesReceived)
	expvar.Publish("tasknet:Dropped/s", MessagesDropped)
	expvar.Publish("tasknet:DecodeErrors/s", DecodeErrors)
}

// Handler serves the expvar based metrics alongside a prometheus registry
func Handler(c *Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	mux.Handle("/debug/vars", expvar.Handler())
	if c != nil {
		mux.Handle("/metrics", c.Handler())
	}
	return mux
}
