// Package credentials resuelve el bearer token que protege las llamadas a
// herramientas: camino rápido por cache, fallback al store persistente y
// refresh contra el provider cuando el token guardado venció.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/audit"
	credcache "github.com/dropDatabas3/mcpgate/internal/credentials"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

const usageTimeout = 3 * time.Second

// Errores sentinela que el gate HTTP mapea a respuestas.
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrServiceDisabled  = errors.New("service disabled")
	ErrInstancePaused   = errors.New("instance paused")
	ErrInstanceExpired  = errors.New("instance expired")
	ErrConfigInvalid    = errors.New("invalid oauth credentials configuration")
	ErrReauthRequired   = errors.New("reauthorization required")
)

// Resolution es el resultado de una resolución exitosa de token.
type Resolution struct {
	InstanceID  string
	UserID      string
	ServiceName string
	BearerToken string
	FromCache   bool
}

// CheckInfo es el veredicto reducido para endpoints no críticos.
type CheckInfo struct {
	InstanceID  string
	UserID      string
	Service     string
	Status      string
	OAuthStatus string
}

// Service resuelve bearer tokens para los endpoints protegidos.
type Service interface {
	// Resolve retorna un bearer usable para la instancia, refrescando
	// contra el provider si el guardado venció.
	Resolve(ctx context.Context, instanceID string) (Resolution, error)
	// Check valida que la instancia esté viva sin tocar tokens.
	Check(ctx context.Context, instanceID string) (CheckInfo, error)
}

// GateStore es la superficie del store que necesita el resolver.
type GateStore interface {
	LookupInstanceCredentials(ctx context.Context, instanceID string) (*core.InstanceCredentials, error)
	UpdateInstanceUsage(ctx context.Context, instanceID string, when time.Time) error
}

// Deps contiene las dependencias del Service.
type Deps struct {
	Store      GateStore
	Cache      *credcache.Cache
	Refresher  Refresher
	Classifier *Classifier
	Audit      *audit.Logger
}

type service struct {
	store      GateStore
	cache      *credcache.Cache
	refresher  Refresher
	classifier *Classifier
	audit      *audit.Logger
	now        func() time.Time
}

// NewService crea el resolver de credenciales.
func NewService(d Deps) Service {
	a := d.Audit
	if a == nil {
		a = audit.New(nil)
	}
	cl := d.Classifier
	if cl == nil {
		cl = NewClassifier(a)
	}
	return &service{
		store:      d.Store,
		cache:      d.Cache,
		refresher:  d.Refresher,
		classifier: cl,
		audit:      a,
		now:        time.Now,
	}
}

// Resolve implementa la escalera de autenticación de una instancia.
func (s *service) Resolve(ctx context.Context, instanceID string) (Resolution, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("CredentialService.Resolve"),
		logger.InstanceID(instanceID),
	)
	now := s.now()

	// 1. Camino rápido: snapshot cacheado fresco con bearer no vacío.
	// Una entrada vencida no se evicta acá; sus valores alimentan la
	// derivación del paso 4 y el refresh la reemplaza.
	snap, err := s.cache.Get(ctx, instanceID)
	if err != nil && !credcache.IsNotCached(err) {
		log.Warn("credential cache unavailable, falling back to store", logger.Err(err))
		snap = nil
	}
	// Service vacío es un snapshot de formato viejo: cae al store y el Set
	// de abajo lo reescribe completo.
	if snap != nil && snap.BearerToken != "" && snap.Service != "" && snap.Fresh(now) {
		s.touchUsage(instanceID)
		return Resolution{
			InstanceID:  instanceID,
			UserID:      snap.UserID,
			ServiceName: snap.Service,
			BearerToken: snap.BearerToken,
			FromCache:   true,
		}, nil
	}

	// 2. Lookup persistente: instancia + metadata del servicio.
	inst, err := s.store.LookupInstanceCredentials(ctx, instanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Resolution{}, ErrInstanceNotFound
		}
		return Resolution{}, err
	}

	// 3. Escalera de vigencia, en orden de precedencia de respuesta.
	if err := instanceGate(inst, now); err != nil {
		return Resolution{}, err
	}

	// 4. Camino OAuth: credenciales de cliente incompletas son un problema
	// de integridad de datos, no un error del usuario.
	if inst.AuthType != core.AuthTypeOAuth || deref(inst.ClientID) == "" || deref(inst.ClientSecret) == "" {
		log.Error("instance has no usable oauth client configuration",
			logger.Service(inst.ServiceName), logger.String("auth_type", inst.AuthType))
		return Resolution{}, ErrConfigInvalid
	}

	// 5. Valores efectivos: el cache puede estar más fresco que la fila leída.
	access, refresh, expiresAt := effectiveCredentials(snap, inst)

	// 6. Access token todavía vigente: asegurar que quede cacheado y seguir.
	if access != "" && expiresAt.After(now) {
		cred := &credcache.Credential{
			BearerToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    expiresAt.UnixMilli(),
			UserID:       inst.UserID,
			Service:      inst.ServiceName,
			TeamID:       deref(inst.TeamID),
		}
		if err := s.cache.Set(ctx, instanceID, cred); err != nil {
			log.Warn("caching resolved credential failed", logger.Err(err))
		}
		s.touchUsage(instanceID)
		return Resolution{
			InstanceID:  instanceID,
			UserID:      inst.UserID,
			ServiceName: inst.ServiceName,
			BearerToken: access,
		}, nil
	}

	// 7. Vencido o ausente: refresh si hay refresh token.
	if refresh != "" {
		res := s.refresher.Refresh(ctx, inst, refresh)
		if res.Success {
			s.touchUsage(instanceID)
			return Resolution{
				InstanceID:  instanceID,
				UserID:      inst.UserID,
				ServiceName: inst.ServiceName,
				BearerToken: res.AccessToken,
			}, nil
		}
		cl := s.classifier.Classify(ctx, instanceID, inst.ServiceName, res.Err)
		log.Warn("refresh failed, demanding reauthorization",
			logger.String("error_code", cl.ErrorCode),
			logger.Bool("requires_reauth", cl.RequiresReauth),
		)
		return Resolution{}, fmt.Errorf("%w: %s", ErrReauthRequired, cl.Message)
	}

	// 8. No queda nada que intentar.
	s.audit.Log(ctx, audit.Entry{
		InstanceID: instanceID,
		Operation:  audit.OpDemand,
		Status:     audit.StatusDenied,
		Service:    inst.ServiceName,
		Error:      "no refresh token available",
	})
	return Resolution{}, ErrReauthRequired
}

// Check aplica solo la escalera de vigencia, sin validar campos OAuth ni
// resolver tokens. Lo usa el gate liviano de endpoints como health.
func (s *service) Check(ctx context.Context, instanceID string) (CheckInfo, error) {
	inst, err := s.store.LookupInstanceCredentials(ctx, instanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return CheckInfo{}, ErrInstanceNotFound
		}
		return CheckInfo{}, err
	}
	if err := instanceGate(inst, s.now()); err != nil {
		return CheckInfo{}, err
	}
	return CheckInfo{
		InstanceID:  inst.ID,
		UserID:      inst.UserID,
		Service:     inst.ServiceName,
		Status:      inst.Status,
		OAuthStatus: deref(inst.OAuthStatus),
	}, nil
}

// instanceGate aplica la escalera de vigencia compartida. El orden importa:
// el primer check que falla decide la respuesta.
func instanceGate(inst *core.InstanceCredentials, now time.Time) error {
	if !inst.ServiceActive {
		return ErrServiceDisabled
	}
	if inst.Status == core.StatusInactive {
		return ErrInstancePaused
	}
	if inst.Status == core.StatusExpired {
		return ErrInstanceExpired
	}
	if inst.ExpiresAt != nil && !inst.ExpiresAt.After(now) {
		return ErrInstanceExpired
	}
	return nil
}

// effectiveCredentials prefiere los valores del cache: puede tener un refresh
// que el store todavía no vio. El expiry viaja con el access token que gana.
func effectiveCredentials(snap *credcache.Credential, inst *core.InstanceCredentials) (access, refresh string, expiresAt time.Time) {
	if snap != nil && snap.BearerToken != "" {
		access = snap.BearerToken
		expiresAt = time.UnixMilli(snap.ExpiresAt)
	} else {
		access = deref(inst.AccessToken)
		if inst.TokenExpiresAt != nil {
			expiresAt = *inst.TokenExpiresAt
		}
	}
	if snap != nil && snap.RefreshToken != "" {
		refresh = snap.RefreshToken
	} else {
		refresh = deref(inst.RefreshToken)
	}
	return access, refresh, expiresAt
}

// touchUsage actualiza last_used_at sin bloquear el camino del request.
func (s *service) touchUsage(instanceID string) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.L().Error("usage update panicked", logger.Any("panic", rec))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), usageTimeout)
		defer cancel()
		if err := s.store.UpdateInstanceUsage(ctx, instanceID, time.Now()); err != nil {
			logger.L().Warn("usage update failed",
				logger.Layer("service"), logger.InstanceID(instanceID), logger.Err(err))
		}
	}()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
