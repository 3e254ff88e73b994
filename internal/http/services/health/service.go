// Package health contiene el service de readiness del gateway.
package health

import (
	"context"
	"fmt"
	"os"
	"time"

	dto "github.com/dropDatabas3/mcpgate/internal/http/dto/health"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Estados agregados de readiness.
const (
	StatusReady       = "ready"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Service define el check de readiness agregado.
type Service interface {
	Check(ctx context.Context) dto.ReadyResponse
}

// Deps contiene los checks inyectables. Un check nil marca el componente
// como deshabilitado en vez de fallarlo.
type Deps struct {
	// StoreCheck hace ping al store persistente. Es crítico: sin store el
	// gateway no puede resolver credenciales ni cerrar callbacks.
	StoreCheck func(ctx context.Context) error
	// CacheCheck hace ping al cache de snapshots. No es crítico: sin cache
	// el gateway sigue resolviendo contra el store, más lento.
	CacheCheck func(ctx context.Context) error
	// Timeout acota el total de los pings. Cero usa el default.
	Timeout time.Duration
}

type service struct {
	deps Deps
}

// NewService crea el service de readiness.
func NewService(deps Deps) Service {
	if deps.Timeout <= 0 {
		deps.Timeout = 2 * time.Second
	}
	return &service{deps: deps}
}

const componentHealth = "health"

func (s *service) Check(ctx context.Context) dto.ReadyResponse {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component(componentHealth),
		logger.Op("Check"),
	)

	ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
	defer cancel()

	response := dto.ReadyResponse{
		Components: make(map[string]dto.ComponentStatus),
		Timestamp:  time.Now().UTC(),
	}
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		response.Version = v
	}

	hasErrors := false
	hasCriticalErrors := false

	// 1. Store (crítico)
	if s.deps.StoreCheck != nil {
		if err := s.deps.StoreCheck(ctx); err != nil {
			response.Components["store"] = dto.ComponentStatus{
				Status:  "error",
				Message: fmt.Sprintf("unavailable: %v", err),
			}
			hasCriticalErrors = true
			log.Error("store unavailable", logger.Err(err))
		} else {
			response.Components["store"] = dto.ComponentStatus{Status: "ok"}
		}
	} else {
		response.Components["store"] = dto.ComponentStatus{
			Status:  "error",
			Message: "store not initialized",
		}
		hasCriticalErrors = true
	}

	// 2. Cache (no crítico)
	if s.deps.CacheCheck != nil {
		if err := s.deps.CacheCheck(ctx); err != nil {
			response.Components["cache"] = dto.ComponentStatus{
				Status:  "error",
				Message: fmt.Sprintf("unavailable: %v", err),
			}
			hasErrors = true
			log.Warn("cache unavailable", logger.Err(err))
		} else {
			response.Components["cache"] = dto.ComponentStatus{Status: "ok"}
		}
	} else {
		response.Components["cache"] = dto.ComponentStatus{
			Status:  "disabled",
			Message: "memory cache only",
		}
	}

	switch {
	case hasCriticalErrors:
		response.Status = StatusUnavailable
	case hasErrors:
		response.Status = StatusDegraded
	default:
		response.Status = StatusReady
	}

	return response
}
