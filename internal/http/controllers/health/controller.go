// Package health contiene los controllers de health checks.
package health

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	dto "github.com/dropDatabas3/mcpgate/internal/http/dto/health"
	httperrors "github.com/dropDatabas3/mcpgate/internal/http/errors"
	credsvc "github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
	healthsvc "github.com/dropDatabas3/mcpgate/internal/http/services/health"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Controller maneja /healthz, /readyz y el health por instancia.
type Controller struct {
	ready healthsvc.Service
	creds credsvc.Service
}

// NewController crea el controller de health checks.
func NewController(ready healthsvc.Service, creds credsvc.Service) *Controller {
	return &Controller{ready: ready, creds: creds}
}

// Healthz maneja GET /healthz. No toca dependencias: responde si el proceso
// está atendiendo requests.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.LiveResponse{Status: "ok"})
}

// Readyz maneja GET /readyz con el detalle por componente.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Health.Readyz"))

	response := c.ready.Check(ctx)

	if response.Version != "" {
		w.Header().Set("X-Service-Version", response.Version)
	}

	statusCode := http.StatusOK
	if response.Status == healthsvc.StatusUnavailable {
		statusCode = http.StatusServiceUnavailable
	}

	log.Debug("readiness check completed",
		logger.String("status", response.Status),
		logger.Int("components", len(response.Components)),
	)

	writeJSON(w, statusCode, response)
}

// InstanceHealth maneja GET /v1/instances/{instanceID}/health. Aplica solo
// la escalera de vigencia: no resuelve tokens ni dispara refresh.
func (c *Controller) InstanceHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Health.Instance"))

	id := chi.URLParam(r, "instanceID")
	if _, err := uuid.Parse(id); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidInstanceID)
		return
	}

	info, err := c.creds.Check(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, credsvc.ErrInstanceNotFound):
			httperrors.WriteError(w, httperrors.ErrInstanceNotFound)
		case errors.Is(err, credsvc.ErrServiceDisabled):
			httperrors.WriteError(w, httperrors.ErrServiceDisabled)
		case errors.Is(err, credsvc.ErrInstancePaused):
			httperrors.WriteError(w, httperrors.ErrInstancePaused)
		case errors.Is(err, credsvc.ErrInstanceExpired):
			httperrors.WriteError(w, httperrors.ErrInstanceExpired)
		default:
			log.Error("instance check failed", logger.InstanceID(id), logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.InstanceHealthResponse{
		InstanceID:  info.InstanceID,
		Service:     info.Service,
		Status:      info.Status,
		OAuthStatus: info.OAuthStatus,
		Healthy:     true,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
