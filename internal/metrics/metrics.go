// Package metrics provides Prometheus metrics for the management service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all awg-manager metrics.
var Registry = prometheus.NewRegistry()

var (
	// ClientsCreated counts successfully provisioned clients.
	ClientsCreated = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "awgmanager_clients_created_total",
		Help: "Total clients provisioned",
	})

	// ClientsDeleted counts removed clients.
	ClientsDeleted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "awgmanager_clients_deleted_total",
		Help: "Total clients deleted",
	})

	// LinksIssued counts one-time download links issued.
	LinksIssued = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "awgmanager_links_issued_total",
		Help: "Total one-time download links issued",
	})

	// LinksRedeemed counts successful one-time link redemptions.
	LinksRedeemed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "awgmanager_links_redeemed_total",
		Help: "Total one-time download links redeemed",
	})

	// ApplyFailures counts failed pushes of the gateway configuration.
	ApplyFailures = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "awgmanager_apply_failures_total",
		Help: "Total failed gateway configuration applies",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
