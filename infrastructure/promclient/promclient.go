package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var OpenOrderBooksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "orderbook_open_books",
	Help: "number of currently maintained order books",
})

var ResyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orderbook_resyncs_total",
	Help: "sequence gaps that forced a snapshot refetch",
}, []string{"symbol"})

var PersistentDesyncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orderbook_persistent_desyncs_total",
	Help: "resync bursts that crossed the alert threshold",
}, []string{"symbol"})

var BufferOverflowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orderbook_buffer_overflows_total",
	Help: "pending diff buffers that overflowed while syncing",
}, []string{"symbol"})

var MalformedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "orderbook_malformed_events_total",
	Help: "snapshots or diff events rejected by validation",
}, []string{"symbol"})

// StartServer registers the order book metrics and serves /metrics. Blocks;
// run it in its own goroutine.
func StartServer(addr string, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		OpenOrderBooksGauge,
		ResyncsTotal,
		PersistentDesyncsTotal,
		BufferOverflowsTotal,
		MalformedEventsTotal,
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Info("prometheus server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
