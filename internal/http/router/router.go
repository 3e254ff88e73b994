// Package router arma el chi.Router del gateway con sus cadenas de
// middlewares por grupo de rutas.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	healthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/health"
	oauthctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/oauth"
	toolsctrl "github.com/dropDatabas3/mcpgate/internal/http/controllers/tools"
	httperrors "github.com/dropDatabas3/mcpgate/internal/http/errors"
	"github.com/dropDatabas3/mcpgate/internal/http/middlewares"
	credsvc "github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
	"github.com/dropDatabas3/mcpgate/internal/rate"
)

// Deps agrupa los controllers y colaboradores que el router monta.
type Deps struct {
	Health      *healthctrl.Controller
	OAuth       *oauthctrl.Controller
	Tools       *toolsctrl.Controller
	Credentials credsvc.Service

	// Metrics es el handler de /metrics (promhttp). Nil no monta la ruta.
	Metrics http.Handler
	// Limiter alimenta el rate limit de las rutas OAuth. Nil lo desactiva.
	Limiter rate.Limiter
	// RateWhitelist exime paths exactos del límite.
	RateWhitelist []string
}

// New arma el router. El orden de la cadena global importa: el request id
// va primero para que todo lo que sigue loguee con él.
func New(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())
	r.Use(middlewares.WithSecurityHeaders())
	r.Use(middlewares.WithMetrics())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// Salud y métricas, sin límite de rate.
	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	rateLimit := middlewares.WithRateLimit(middlewares.RateLimitConfig{
		Limiter:   d.Limiter,
		Whitelist: d.RateWhitelist,
	})

	// Flujo OAuth: respuestas con estado de autorización, nunca cacheables.
	r.Group(func(r chi.Router) {
		r.Use(middlewares.WithNoStore())
		r.Use(rateLimit)
		r.Get("/v1/oauth/{provider}/authorize", d.OAuth.Authorize)
		r.Get("/oauth/callback/{provider}", d.OAuth.Callback)
	})

	// Instancias: health liviano por fuera del gate, proxy por dentro.
	r.Route("/v1/instances/{instanceID}", func(r chi.Router) {
		r.Get("/health", d.Health.InstanceHealth)
		r.Group(func(r chi.Router) {
			r.Use(middlewares.WithCredentialGate(d.Credentials))
			r.Handle("/proxy/*", http.HandlerFunc(d.Tools.Proxy))
		})
	})

	return r
}
