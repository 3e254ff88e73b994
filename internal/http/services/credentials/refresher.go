package credentials

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/mcpgate/internal/audit"
	credcache "github.com/dropDatabas3/mcpgate/internal/credentials"
	"github.com/dropDatabas3/mcpgate/internal/metrics"
	"github.com/dropDatabas3/mcpgate/internal/oauth"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

// Métodos de refresh reportados en métricas y auditoría.
const (
	MethodOAuthService = "oauth_service" // handler de provider registrado
	MethodDirect       = "direct_oauth"  // tabla de endpoints genérica
)

// Timeouts del trabajo desacoplado de refresh. El exchange sigue corriendo
// aunque el request que lo originó se desconecte: un refresh a medio aplicar
// dejaría cache y store contando historias distintas.
const (
	exchangeTimeout = 15 * time.Second
	persistTimeout  = 5 * time.Second
)

var errNoRefreshPath = errors.New("no oauth handler nor direct endpoint for service")

// RefreshResult es el resultado de un intento de refresh.
type RefreshResult struct {
	Success      bool
	AccessToken  string
	RefreshToken string // rotado, o el original si el provider no lo rotó
	ExpiresAt    time.Time
	Scope        string
	TeamID       string
	Method       string // oauth_service | direct_oauth
	Err          error  // error original del provider, preservado para clasificar
}

// Refresher renueva el access token de una instancia.
type Refresher interface {
	Refresh(ctx context.Context, inst *core.InstanceCredentials, refreshToken string) RefreshResult
}

// HandlerSource resuelve el handler de provider asociado a un servicio.
type HandlerSource interface {
	ForService(service string) (oauth.Handler, bool)
}

// DirectRefresher es el fallback para servicios sin handler dedicado.
type DirectRefresher interface {
	Supports(service string) bool
	Refresh(ctx context.Context, service string, creds oauth.Credentials, refreshToken string) (*oauth.TokenResponse, error)
}

// RefreshStore persiste el resultado de un refresh.
type RefreshStore interface {
	UpdateOAuthStatus(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate) error
}

// RefresherDeps contiene las dependencias del Refresher.
type RefresherDeps struct {
	Providers HandlerSource
	Direct    DirectRefresher
	Store     RefreshStore
	Cache     *credcache.Cache
	Audit     *audit.Logger
}

type refresher struct {
	providers HandlerSource
	direct    DirectRefresher
	store     RefreshStore
	cache     *credcache.Cache
	audit     *audit.Logger
	sf        singleflight.Group
	now       func() time.Time
}

// NewRefresher crea un Refresher. Refreshes concurrentes de la misma
// instancia se funden en un único exchange contra el provider.
func NewRefresher(d RefresherDeps) Refresher {
	a := d.Audit
	if a == nil {
		a = audit.New(nil)
	}
	return &refresher{
		providers: d.Providers,
		direct:    d.Direct,
		store:     d.Store,
		cache:     d.Cache,
		audit:     a,
		now:       time.Now,
	}
}

func (r *refresher) Refresh(ctx context.Context, inst *core.InstanceCredentials, refreshToken string) RefreshResult {
	v, _, _ := r.sf.Do(inst.ID, func() (any, error) {
		return r.refreshOnce(ctx, inst, refreshToken), nil
	})
	return v.(RefreshResult)
}

func (r *refresher) refreshOnce(ctx context.Context, inst *core.InstanceCredentials, refreshToken string) RefreshResult {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("Refresher.Refresh"),
		logger.InstanceID(inst.ID),
		logger.Service(inst.ServiceName),
	)

	creds := oauth.Credentials{
		ClientID:     deref(inst.ClientID),
		ClientSecret: deref(inst.ClientSecret),
	}

	// 1. Elegir el camino de exchange: handler dedicado o tabla directa.
	exchange, method, err := r.exchangeFor(inst.ServiceName)
	if err != nil {
		// Acá no se tocó al provider: el grant puede seguir vivo, así que
		// no se anula. Es un hueco de configuración, no un token muerto.
		log.Error("no refresh path for service", logger.Err(err))
		metrics.ObserveRefresh(inst.ServiceName, method, "failure", "no_handler", 0)
		r.audit.Log(ctx, audit.Entry{
			InstanceID: inst.ID,
			Operation:  audit.OpRefresh,
			Status:     audit.StatusFailed,
			Method:     method,
			Service:    inst.ServiceName,
			Error:      err.Error(),
		})
		return RefreshResult{Method: method, Err: err}
	}

	// 2. Exchange con contexto desacoplado. La duración cubre solamente la
	// llamada al provider; las escrituras a cache y store quedan afuera.
	exCtx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	defer cancel()

	start := time.Now()
	tok, err := exchange(exCtx, creds, refreshToken)
	took := time.Since(start)
	if err != nil {
		log.Warn("token exchange failed",
			logger.RefreshMethod(method), logger.Err(err), logger.DurationMs(took.Milliseconds()))
		return r.fail(ctx, log, inst, method, err, took)
	}

	// 3. Expiry absoluto y preservación de lo que el provider no rotó.
	now := r.now()
	expiresAt := now.Add(time.Duration(tok.ExpiresIn) * time.Second)

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	scope := tok.Scope
	if scope == "" {
		scope = deref(inst.Scope)
	}
	teamID := tok.TeamID
	if teamID == "" {
		teamID = deref(inst.TeamID)
	}

	// 4. Persistir completed y sembrar el cache con el mismo snapshot.
	upd := core.OAuthStatusUpdate{
		Status:         core.OAuthCompleted,
		AccessToken:    &tok.AccessToken,
		RefreshToken:   &newRefresh,
		TokenExpiresAt: &expiresAt,
		Scope:          optional(scope),
		TeamID:         optional(tok.TeamID), // nil conserva el team guardado
	}
	pCtx, pCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer pCancel()
	if err := r.store.UpdateOAuthStatus(pCtx, inst.ID, upd); err != nil {
		// El provider ya rotó: perder esta escritura puede dejar muerto el
		// refresh token viejo. Se loguea fuerte pero el token nuevo se usa.
		log.Error("persisting refreshed tokens failed", logger.Err(err))
	}
	if err := r.cache.Set(pCtx, inst.ID, &credcache.Credential{
		BearerToken:  tok.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt.UnixMilli(),
		UserID:       inst.UserID,
		Service:      inst.ServiceName,
		TeamID:       teamID,
	}); err != nil {
		log.Warn("seeding credential cache failed", logger.Err(err))
	}

	metrics.ObserveRefresh(inst.ServiceName, method, "success", "", took)
	r.audit.Log(ctx, audit.Entry{
		InstanceID: inst.ID,
		Operation:  audit.OpRefresh,
		Status:     audit.StatusSuccess,
		Method:     method,
		Service:    inst.ServiceName,
		Scope:      scope,
	})
	log.Info("token refreshed",
		logger.RefreshMethod(method), logger.DurationMs(took.Milliseconds()))

	return RefreshResult{
		Success:      true,
		AccessToken:  tok.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    expiresAt,
		Scope:        scope,
		TeamID:       teamID,
		Method:       method,
	}
}

// exchangeFor resuelve la función de exchange y el método reportado.
func (r *refresher) exchangeFor(service string) (func(context.Context, oauth.Credentials, string) (*oauth.TokenResponse, error), string, error) {
	if h, ok := r.providers.ForService(service); ok {
		return h.Refresh, MethodOAuthService, nil
	}
	if r.direct != nil && r.direct.Supports(service) {
		return func(ctx context.Context, c oauth.Credentials, rt string) (*oauth.TokenResponse, error) {
			return r.direct.Refresh(ctx, service, c, rt)
		}, MethodDirect, nil
	}
	return nil, "none", errNoRefreshPath
}

// fail aplica la semántica destructiva de un exchange fallido: el grant
// completo se anula en el store y el snapshot cacheado se invalida. Un token
// rancio que quede atrás seguiría fallando contra el provider en cada llamada.
func (r *refresher) fail(ctx context.Context, log *zap.Logger, inst *core.InstanceCredentials, method string, cause error, took time.Duration) RefreshResult {
	errorType := "network"
	var te *oauth.TokenError
	if errors.As(cause, &te) && te.Code != "" {
		errorType = te.Code
	}
	metrics.ObserveRefresh(inst.ServiceName, method, "failure", errorType, took)

	pCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.UpdateOAuthStatus(pCtx, inst.ID, core.OAuthStatusUpdate{Status: core.OAuthFailed}); err != nil {
		log.Error("persisting failed refresh failed", logger.Err(err))
	}
	if err := r.cache.Delete(pCtx, inst.ID); err != nil {
		log.Warn("evicting credential cache failed", logger.Err(err))
	}

	r.audit.Log(ctx, audit.Entry{
		InstanceID: inst.ID,
		Operation:  audit.OpRefresh,
		Status:     audit.StatusFailed,
		Method:     method,
		Service:    inst.ServiceName,
		Error:      cause.Error(),
	})
	return RefreshResult{Method: method, Err: cause}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
