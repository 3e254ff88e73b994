// Package plan evalúa el límite de instancias activas del plan del usuario.
//
// El chequeo se hace fresco contra el store en el momento de completar el
// callback OAuth, nunca con datos cacheados de la creación: dos instancias
// pueden crearse bajo el límite y competir por el último cupo al autorizar.
package plan

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/metrics"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

// Razones de rechazo.
const (
	ReasonNoPlan             = "NO_PLAN"
	ReasonPlanExpired        = "PLAN_EXPIRED"
	ReasonActiveLimitReached = "ACTIVE_LIMIT_REACHED"
)

// Decision es el veredicto del guard.
type Decision struct {
	CanCreate bool
	Reason    string
	Current   int
	Max       int
	PlanName  string
}

// Store es el subconjunto del repositorio que consulta el guard.
type Store interface {
	GetUserPlan(ctx context.Context, userID string) (*core.UserPlan, error)
	CountActiveInstances(ctx context.Context, userID string) (int, error)
}

// Checker implementa el guard contra el store.
type Checker struct {
	store Store
	now   func() time.Time
}

// NewChecker crea el guard.
func NewChecker(store Store) *Checker {
	return &Checker{store: store, now: time.Now}
}

// CheckInstanceLimit evalúa si el usuario puede activar una instancia más.
// Un error de store se retorna como error; un rechazo de negocio llega como
// Decision{CanCreate: false, Reason: ...} sin error.
func (c *Checker) CheckInstanceLimit(ctx context.Context, userID string) (Decision, error) {
	up, err := c.store.GetUserPlan(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return c.reject(Decision{Reason: ReasonNoPlan}), nil
		}
		return Decision{}, err
	}

	if up.Status != "active" || (up.ExpiresAt != nil && c.now().After(*up.ExpiresAt)) {
		return c.reject(Decision{Reason: ReasonPlanExpired, PlanName: up.PlanName, Max: up.MaxInstances}), nil
	}

	current, err := c.store.CountActiveInstances(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Current:  current,
		Max:      up.MaxInstances,
		PlanName: up.PlanName,
	}
	if current >= up.MaxInstances {
		d.Reason = ReasonActiveLimitReached
		return c.reject(d), nil
	}

	d.CanCreate = true
	return d, nil
}

func (c *Checker) reject(d Decision) Decision {
	metrics.PlanGuardRejections.WithLabelValues(d.Reason).Inc()
	return d
}
