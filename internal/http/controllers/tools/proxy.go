// Package tools contiene el proxy hacia los backends de herramientas MCP.
//
// Cada servicio habilitado tiene un backend HTTP configurado. El gate de
// credenciales ya corrió cuando el request llega acá: la resolución viaja en
// el contexto y el proxy solo reescribe el request con el bearer vigente.
package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	httperrors "github.com/dropDatabas3/mcpgate/internal/http/errors"
	"github.com/dropDatabas3/mcpgate/internal/http/middlewares"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Config describe los backends de herramientas y los límites del transporte.
type Config struct {
	// Backends mapea nombre de servicio -> base URL del backend MCP.
	Backends map[string]string
	// ResponseHeaderTimeout corta upstreams que aceptan la conexión pero no
	// responden. Cero usa el default.
	ResponseHeaderTimeout time.Duration
}

type backend struct {
	service string
	base    *url.URL
	proxy   *httputil.ReverseProxy
}

// Controller enruta requests hacia el backend del servicio de la instancia.
type Controller struct {
	backends map[string]*backend
}

// NewController construye un reverse proxy por servicio configurado. Falla
// si alguna base URL no parsea: mejor morir en el arranque que en runtime.
func NewController(cfg Config) (*Controller, error) {
	timeout := cfg.ResponseHeaderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.MaxIdleConnsPerHost = 32

	stdlog := zap.NewStdLog(logger.L().With(logger.Layer("controller"), logger.Component("tools_proxy")))

	backends := make(map[string]*backend, len(cfg.Backends))
	for service, raw := range cfg.Backends {
		base, err := url.Parse(strings.TrimRight(raw, "/"))
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("tools: invalid backend url for service %q: %q", service, raw)
		}

		b := &backend{service: service, base: base}
		b.proxy = &httputil.ReverseProxy{
			Rewrite:   b.rewrite,
			Transport: transport,
			// Flush inmediato: los backends MCP streamean eventos SSE.
			FlushInterval: -1,
			ErrorHandler:  b.handleError,
			ErrorLog:      stdlog,
		}
		backends[service] = b
	}

	return &Controller{backends: backends}, nil
}

// Proxy maneja ANY /v1/instances/{instanceID}/proxy/*. El path que sigue a
// /proxy/ se reenvía tal cual al backend del servicio.
func (c *Controller) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Tools.Proxy"))

	res, ok := middlewares.GetResolution(ctx)
	if !ok {
		// El gate corre antes en la cadena; llegar acá sin resolución es
		// un error de wiring del router.
		log.Error("missing credential resolution in context")
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
		return
	}

	b, ok := c.backends[res.ServiceName]
	if !ok {
		log.Warn("no backend configured for service", logger.Service(res.ServiceName))
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithDetail("service has no tool backend configured"))
		return
	}

	rest := chi.URLParam(r, "*")

	out := r.Clone(ctx)
	out.URL.Path = "/" + strings.TrimLeft(rest, "/")
	out.URL.RawPath = ""

	b.proxy.ServeHTTP(w, out)
}

// rewrite arma el request saliente: base del backend + path restante, bearer
// de la resolución y los headers de identidad para el backend.
func (b *backend) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(b.base)
	pr.SetXForwarded()

	// Nada del cliente viaja como credencial: ni cookies ni su Authorization.
	pr.Out.Header.Del("Cookie")
	pr.Out.Header.Del("Authorization")

	if res, ok := middlewares.GetResolution(pr.In.Context()); ok {
		pr.Out.Header.Set("Authorization", "Bearer "+res.BearerToken)
		pr.Out.Header.Set("X-Instance-ID", res.InstanceID)
		if res.UserID != "" {
			pr.Out.Header.Set("X-User-ID", res.UserID)
		}
	}
}

func (b *backend) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.From(r.Context()).With(
		logger.Layer("controller"),
		logger.Op("Tools.Proxy"),
		logger.Service(b.service),
	)

	// Cliente cortó: no hay a quién responderle.
	if errors.Is(err, context.Canceled) {
		log.Debug("client canceled request", logger.Err(err))
		return
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		log.Error("upstream timed out", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrGatewayTimeout)
		return
	}

	log.Error("upstream request failed", logger.Err(err))
	httperrors.WriteError(w, httperrors.ErrUpstreamUnavailable)
}
