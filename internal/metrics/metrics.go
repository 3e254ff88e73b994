package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Credential lifecycle Prometheus metrics. Standalone package to avoid
// import cycles between services and HTTP packages.

var (
	TokenRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_refresh_total",
		Help: "Refreshes de token por servicio, método y resultado",
	}, []string{"service", "method", "result", "error_type"})

	TokenRefreshDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "token_refresh_duration_ms",
		Help:    "Duración del exchange de refresh en milisegundos (sólo la llamada al proveedor)",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"service", "method"})

	CredentialCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credential_cache_hits_total",
		Help: "Hits del cache de credenciales en el camino de autenticación",
	})

	CredentialCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credential_cache_misses_total",
		Help: "Misses del cache de credenciales (fuerzan lookup en el store)",
	})

	PlanGuardRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_guard_rejections_total",
		Help: "Rechazos del guard de límite de plan al completar OAuth",
	}, []string{"reason"})

	OAuthCallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_callbacks_total",
		Help: "Callbacks OAuth por proveedor y resultado",
	}, []string{"provider", "outcome"})
)

// Register registra las métricas del dominio en el registry indicado
// (o el default si es nil). Tolera registros duplicados.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		TokenRefreshTotal,
		TokenRefreshDurationMs,
		CredentialCacheHits,
		CredentialCacheMisses,
		PlanGuardRejections,
		OAuthCallbacks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// ObserveRefresh registra contador y latencia de un refresh en una sola llamada.
// errorType va vacío en éxito.
func ObserveRefresh(service, method, result, errorType string, took time.Duration) {
	TokenRefreshTotal.WithLabelValues(service, method, result, errorType).Inc()
	TokenRefreshDurationMs.WithLabelValues(service, method).Observe(float64(took.Milliseconds()))
}
