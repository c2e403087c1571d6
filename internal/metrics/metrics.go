package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by API operation and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meomok",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds by API operation.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "provider_requests_total",
		Help:      "Total requests to place providers by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meomok",
		Name:      "provider_request_duration_seconds",
		Help:      "Place provider request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "meomok",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	TileLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "tile_lookups_total",
		Help:      "Fetch tile freshness lookups by result (fresh, stale, missing).",
	}, []string{"result"})

	FetchCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "fetch_cycles_total",
		Help:      "Provider fetch cycles by trigger (force, stale, empty, ingest).",
	}, []string{"trigger"})

	PlacesUpsertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "places_upserted_total",
		Help:      "Places written to storage by source.",
	}, []string{"source"})

	RecordsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meomok",
		Name:      "records_rejected_total",
		Help:      "Provider records dropped before storage by source and reason.",
	}, []string{"source", "reason"})

	PageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "meomok",
		Name:      "page_size",
		Help:      "Number of rows returned per nearby page.",
		Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100, 200},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		TileLookupsTotal,
		FetchCyclesTotal,
		PlacesUpsertedTotal,
		RecordsRejectedTotal,
		PageSize,
	)
}
