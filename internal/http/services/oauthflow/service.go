// Package oauthflow coordina el flujo OAuth de autorización por popup:
// emisión de la URL de autorización con state firmado, y el callback que
// canjea el code, reparte los tokens y corre el guard de plan antes de marcar
// la instancia como completada.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/mcpgate/internal/audit"
	credcache "github.com/dropDatabas3/mcpgate/internal/credentials"
	"github.com/dropDatabas3/mcpgate/internal/metrics"
	"github.com/dropDatabas3/mcpgate/internal/oauth"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
	"github.com/dropDatabas3/mcpgate/internal/plan"
	"github.com/dropDatabas3/mcpgate/internal/store/core"
	"github.com/dropDatabas3/mcpgate/internal/util"
)

// Códigos de error que viajan en el postMessage del callback. Los rechazos
// de plan usan los reasons del guard tal cual (NO_PLAN, PLAN_EXPIRED,
// ACTIVE_LIMIT_REACHED).
const (
	CodeProviderError     = "PROVIDER_ERROR"
	CodeInvalidCallback   = "INVALID_CALLBACK"
	CodeInvalidState      = "INVALID_STATE"
	CodeInstanceNotFound  = "INSTANCE_NOT_FOUND"
	CodeProviderMismatch  = "PROVIDER_MISMATCH"
	CodeConfigInvalid     = "OAUTH_CONFIG_INVALID"
	CodeExchangeFailed    = "EXCHANGE_FAILED"
	CodeDuplicateCallback = "DUPLICATE_CALLBACK"
	CodePlanCheckFailed   = "PLAN_CHECK_FAILED"
	CodeStoreError        = "STORE_ERROR"
)

// Errores sentinela del camino Authorize (el controller los mapea a HTTP).
var (
	ErrProviderUnknown  = errors.New("unknown oauth provider")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrProviderMismatch = errors.New("instance service does not match provider")
	ErrConfigInvalid    = errors.New("invalid oauth credentials configuration")
)

// Scopes por defecto por provider; la config puede pisarlos.
var defaultScopes = map[string][]string{
	"google":    {"openid", "email", "profile"},
	"microsoft": {"openid", "email", "profile", "offline_access"},
	"slack":     {"chat:write", "channels:read", "users:read"},
}

// AuthorizeRequest pide la URL de autorización para una instancia.
type AuthorizeRequest struct {
	Provider   string
	InstanceID string
}

// AuthorizeResult es la URL a la que el controller redirige el popup.
type AuthorizeResult struct {
	AuthURL string
}

// CallbackRequest es lo que vuelve del provider en el redirect.
type CallbackRequest struct {
	Provider         string
	Code             string
	State            string
	ErrorParam       string
	ErrorDescription string
}

// CallbackResult siempre vuelve al opener como postMessage: nunca es un error
// HTTP ni un redirect armado con input sin sanear.
type CallbackResult struct {
	Success    bool
	Provider   string
	InstanceID string
	UserID     string
	Service    string
	ErrorCode  string
	Message    string

	// Detalle del guard cuando el rechazo es de plan.
	Current  int
	Max      int
	PlanName string
}

// Service coordina autorización y callback OAuth.
type Service interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	HandleCallback(ctx context.Context, req CallbackRequest) CallbackResult
}

// FlowStore es la superficie del store que usa el coordinador.
type FlowStore interface {
	LookupInstanceCredentials(ctx context.Context, instanceID string) (*core.InstanceCredentials, error)
	CompleteOAuthPending(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate) (bool, error)
	UpdateOAuthStatus(ctx context.Context, instanceID string, upd core.OAuthStatusUpdate) error
	UpdateInstanceStatus(ctx context.Context, instanceID, status string) error
}

// PlanChecker corre el límite de instancias del plan.
type PlanChecker interface {
	CheckInstanceLimit(ctx context.Context, userID string) (plan.Decision, error)
}

// Deps contiene las dependencias del coordinador.
type Deps struct {
	Store           FlowStore
	Providers       *oauth.Registry
	Cache           *credcache.Cache
	Plans           PlanChecker
	Forwarder       TokenForwarder
	Audit           *audit.Logger
	States          *StateCodec
	CallbackBaseURL string
	Scopes          map[string][]string // provider -> scopes, pisa defaultScopes
	ExchangeTimeout time.Duration
}

type flowService struct {
	store           FlowStore
	providers       *oauth.Registry
	cache           *credcache.Cache
	plans           PlanChecker
	forwarder       TokenForwarder
	audit           *audit.Logger
	states          *StateCodec
	callbackBaseURL string
	scopes          map[string][]string
	exchangeTimeout time.Duration
	now             func() time.Time
}

// NewService crea el coordinador OAuth.
func NewService(d Deps) Service {
	a := d.Audit
	if a == nil {
		a = audit.New(nil)
	}
	states := d.States
	if states == nil {
		states = NewStateCodec("", 0)
	}
	base := d.CallbackBaseURL
	if base == "" {
		base = "http://localhost:8080"
	}
	timeout := d.ExchangeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &flowService{
		store:           d.Store,
		providers:       d.Providers,
		cache:           d.Cache,
		plans:           d.Plans,
		forwarder:       d.Forwarder,
		audit:           a,
		states:          states,
		callbackBaseURL: base,
		scopes:          d.Scopes,
		exchangeTimeout: timeout,
		now:             time.Now,
	}
}

// Authorize emite la URL de autorización del provider para una instancia.
func (s *flowService) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("OAuthFlow.Authorize"),
		logger.Provider(req.Provider),
		logger.InstanceID(req.InstanceID),
	)

	// 1. Provider registrado.
	handler, ok := s.providers.ForProvider(req.Provider)
	if !ok {
		return AuthorizeResult{}, ErrProviderUnknown
	}

	// 2. Instancia desde el store: las credenciales de cliente viven ahí.
	inst, err := s.store.LookupInstanceCredentials(ctx, req.InstanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return AuthorizeResult{}, ErrInstanceNotFound
		}
		return AuthorizeResult{}, err
	}

	// 3. El provider del path tiene que ser el que sirve al servicio de la
	// instancia.
	if name, ok := s.providers.ProviderFor(inst.ServiceName); !ok || name != req.Provider {
		return AuthorizeResult{}, ErrProviderMismatch
	}

	// 4. Credenciales de cliente completas.
	if inst.AuthType != core.AuthTypeOAuth || deref(inst.ClientID) == "" || deref(inst.ClientSecret) == "" {
		return AuthorizeResult{}, ErrConfigInvalid
	}

	// 5. State firmado con el instante de emisión.
	state, err := s.states.Encode(StateClaims{
		InstanceID: inst.ID,
		UserID:     inst.UserID,
		Timestamp:  s.now().UnixMilli(),
		Service:    inst.ServiceName,
	})
	if err != nil {
		return AuthorizeResult{}, err
	}

	// 6. URL de autorización.
	authURL, err := handler.AuthURL(ctx, s.credsFor(inst, req.Provider), state)
	if err != nil {
		return AuthorizeResult{}, err
	}

	s.audit.Log(ctx, audit.Entry{
		InstanceID: inst.ID,
		Operation:  audit.OpAuthorize,
		Status:     audit.StatusSuccess,
		Service:    inst.ServiceName,
	})
	log.Info("authorization url issued", logger.Service(inst.ServiceName))
	return AuthorizeResult{AuthURL: authURL}, nil
}

// HandleCallback procesa el retorno del provider. Nunca retorna error: el
// resultado siempre vuelve al opener como postMessage, sin redirects armados
// con input del provider.
func (s *flowService) HandleCallback(ctx context.Context, req CallbackRequest) CallbackResult {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Op("OAuthFlow.HandleCallback"),
		logger.Provider(req.Provider),
	)

	// 1. Error del provider o callback incompleto.
	if req.ErrorParam != "" {
		msg := req.ErrorDescription
		if msg == "" {
			msg = "the provider rejected the authorization"
		}
		return s.failure(ctx, log, callbackFailure{
			provider: req.Provider,
			outcome:  "provider_error",
			code:     CodeProviderError,
			message:  msg,
			cause:    req.ErrorParam,
		})
	}
	if req.Code == "" || req.State == "" {
		return s.failure(ctx, log, callbackFailure{
			provider: req.Provider,
			outcome:  "invalid_callback",
			code:     CodeInvalidCallback,
			message:  "missing code or state",
		})
	}

	// 2. State: cualquier fallo de decode es un callback inválido o forjado.
	claims, err := s.states.Decode(req.State)
	if err != nil {
		return s.failure(ctx, log, callbackFailure{
			provider: req.Provider,
			outcome:  "invalid_state",
			code:     CodeInvalidState,
			message:  "invalid or expired state",
			cause:    err.Error(),
		})
	}

	// 3. Instancia del state; el servicio destino sale SIEMPRE del registro
	// persistente, nunca de input del cliente.
	inst, err := s.store.LookupInstanceCredentials(ctx, claims.InstanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return s.failure(ctx, log, callbackFailure{
				provider:   req.Provider,
				instanceID: claims.InstanceID,
				outcome:    "not_found",
				code:       CodeInstanceNotFound,
				message:    "instance not found",
			})
		}
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: claims.InstanceID,
			outcome:    "store_error",
			code:       CodeStoreError,
			message:    "temporary storage failure",
			cause:      err.Error(),
		})
	}
	if claims.UserID != "" && claims.UserID != inst.UserID {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "invalid_state",
			code:       CodeInvalidState,
			message:    "invalid or expired state",
			cause:      "state user does not match instance owner",
		})
	}

	// 4. Coherencia provider vs servicio registrado.
	handler, ok := s.providers.ForProvider(req.Provider)
	if !ok {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "mismatch",
			code:       CodeProviderMismatch,
			message:    "unknown provider",
		})
	}
	if name, ok := s.providers.ProviderFor(inst.ServiceName); !ok || name != req.Provider {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "mismatch",
			code:       CodeProviderMismatch,
			message:    "provider does not serve this instance",
		})
	}
	if inst.AuthType != core.AuthTypeOAuth || deref(inst.ClientID) == "" || deref(inst.ClientSecret) == "" {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "config_invalid",
			code:       CodeConfigInvalid,
			message:    "invalid oauth credentials configuration",
		})
	}

	// 5. Canje del code con timeout finito.
	exCtx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()
	tok, err := handler.ExchangeCode(exCtx, s.credsFor(inst, req.Provider), req.Code)
	if err != nil {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "exchange_failed",
			code:       CodeExchangeFailed,
			message:    "code exchange failed",
			cause:      err.Error(),
		})
	}

	now := s.now()
	var expiresAt *time.Time
	if tok.ExpiresIn > 0 {
		t := now.Add(time.Duration(tok.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	// 6. Forward best-effort al servicio hermano.
	s.forward(ctx, inst, tok, expiresAt)

	// 7. Guard de plan, siempre fresco en el callback: el plan y el conteo
	// de instancias activas son mutables entre la creación y este punto.
	if res, rejected := s.guard(ctx, log, req.Provider, inst); rejected {
		return res
	}

	// 8. Persistir completed sólo si el flujo sigue pending.
	upd := core.OAuthStatusUpdate{
		Status:         core.OAuthCompleted,
		AccessToken:    &tok.AccessToken,
		RefreshToken:   optional(tok.RefreshToken),
		TokenExpiresAt: expiresAt,
		Scope:          optional(tok.Scope),
		TeamID:         optional(tok.TeamID),
	}
	done, err := s.store.CompleteOAuthPending(ctx, inst.ID, upd)
	if err != nil {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "store_error",
			code:       CodeStoreError,
			message:    "persisting tokens failed",
			cause:      err.Error(),
		})
	}
	if !done {
		return s.failure(ctx, log, callbackFailure{
			provider:   req.Provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "duplicate",
			code:       CodeDuplicateCallback,
			message:    "callback already processed",
		})
	}

	// 9. Sembrar el cache de credenciales y auditar.
	snap := &credcache.Credential{
		BearerToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       inst.UserID,
		Service:      inst.ServiceName,
		TeamID:       tok.TeamID,
	}
	if expiresAt != nil {
		snap.ExpiresAt = expiresAt.UnixMilli()
	}
	if err := s.cache.Set(ctx, inst.ID, snap); err != nil {
		log.Warn("seeding credential cache failed", logger.Err(err))
	}

	metrics.OAuthCallbacks.WithLabelValues(req.Provider, "success").Inc()
	s.audit.Log(ctx, audit.Entry{
		InstanceID: inst.ID,
		Operation:  audit.OpCallback,
		Status:     audit.StatusSuccess,
		Service:    inst.ServiceName,
		Scope:      tok.Scope,
	})
	if hint := oauth.PeekIDClaims(tok.IDToken); hint.Subject != "" {
		log.Debug("provider identity hint",
			logger.String("subject", hint.Subject),
			logger.String("email", util.MaskEmail(hint.Email)))
	}
	log.Info("oauth callback completed",
		logger.InstanceID(inst.ID), logger.UserID(inst.UserID), logger.Service(inst.ServiceName))

	return CallbackResult{
		Success:    true,
		Provider:   req.Provider,
		InstanceID: inst.ID,
		UserID:     inst.UserID,
		Service:    inst.ServiceName,
	}
}

// guard corre el límite de plan justo antes de persistir completed.
func (s *flowService) guard(ctx context.Context, log *zap.Logger, provider string, inst *core.InstanceCredentials) (CallbackResult, bool) {
	dec, err := s.plans.CheckInstanceLimit(ctx, inst.UserID)
	if err != nil {
		s.markFailed(ctx, log, inst.ID)
		return s.failure(ctx, log, callbackFailure{
			provider:   provider,
			instanceID: inst.ID,
			service:    inst.ServiceName,
			outcome:    "plan_check_failed",
			code:       CodePlanCheckFailed,
			message:    "plan verification failed, try again",
			cause:      err.Error(),
		}), true
	}
	if dec.CanCreate {
		return CallbackResult{}, false
	}

	// Rechazo: el grant canjeado se descarta, nunca se persiste completed.
	s.markFailed(ctx, log, inst.ID)
	var msg string
	switch dec.Reason {
	case plan.ReasonActiveLimitReached:
		// La carrera clásica check-then-act: la instancia además se fuerza
		// a inactive.
		if err := s.store.UpdateInstanceStatus(ctx, inst.ID, core.StatusInactive); err != nil {
			log.Error("forcing instance inactive failed", logger.Err(err))
		}
		msg = fmt.Sprintf("Plan limit reached. You already have %d active instances (limit: %d).", dec.Current, dec.Max)
	case plan.ReasonPlanExpired:
		msg = "Your plan has expired."
	default:
		msg = "No active plan."
	}

	res := s.failure(ctx, log, callbackFailure{
		provider:   provider,
		instanceID: inst.ID,
		service:    inst.ServiceName,
		outcome:    "plan_rejected",
		code:       dec.Reason,
		message:    msg,
	})
	res.Current, res.Max, res.PlanName = dec.Current, dec.Max, dec.PlanName
	return res, true
}

// forward empuja los tokens al servicio hermano. Best-effort: el hermano
// relee el store en su propio miss, un fallo acá no voltea el callback.
func (s *flowService) forward(ctx context.Context, inst *core.InstanceCredentials, tok *oauth.TokenResponse, expiresAt *time.Time) {
	if s.forwarder == nil {
		return
	}
	ft := ForwardTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		TeamID:       tok.TeamID,
	}
	if expiresAt != nil {
		ft.ExpiresAtMs = expiresAt.UnixMilli()
	}

	status := audit.StatusSuccess
	detail := ""
	if err := s.forwarder.Forward(ctx, inst.ServiceName, inst.ID, ft); err != nil {
		status = audit.StatusFailed
		detail = err.Error()
		logger.From(ctx).Warn("token forward failed",
			logger.Layer("service"),
			logger.InstanceID(inst.ID),
			logger.Service(inst.ServiceName),
			logger.Err(err),
		)
	}
	s.audit.Log(ctx, audit.Entry{
		InstanceID: inst.ID,
		Operation:  audit.OpForward,
		Status:     status,
		Service:    inst.ServiceName,
		Error:      detail,
	})
}

func (s *flowService) markFailed(ctx context.Context, log *zap.Logger, instanceID string) {
	if err := s.store.UpdateOAuthStatus(ctx, instanceID, core.OAuthStatusUpdate{Status: core.OAuthFailed}); err != nil {
		log.Error("could not persist failed oauth status", logger.Err(err))
	}
}

// callbackFailure junta lo que necesita una salida de error del callback.
type callbackFailure struct {
	provider   string
	instanceID string
	service    string
	outcome    string // label de métrica
	code       string // código del postMessage
	message    string
	cause      string // detalle para audit y log
}

func (s *flowService) failure(ctx context.Context, log *zap.Logger, f callbackFailure) CallbackResult {
	metrics.OAuthCallbacks.WithLabelValues(f.provider, f.outcome).Inc()

	detail := f.cause
	if detail == "" {
		detail = f.message
	}
	s.audit.Log(ctx, audit.Entry{
		InstanceID: f.instanceID,
		Operation:  audit.OpCallback,
		Status:     audit.StatusFailed,
		Service:    f.service,
		Error:      f.code + ": " + detail,
	})
	log.Warn("oauth callback failed",
		logger.InstanceID(f.instanceID),
		logger.String("outcome", f.outcome),
		logger.String("detail", detail),
	)
	return CallbackResult{
		Provider:   f.provider,
		InstanceID: f.instanceID,
		Service:    f.service,
		ErrorCode:  f.code,
		Message:    f.message,
	}
}

func (s *flowService) credsFor(inst *core.InstanceCredentials, provider string) oauth.Credentials {
	return oauth.Credentials{
		ClientID:     deref(inst.ClientID),
		ClientSecret: deref(inst.ClientSecret),
		RedirectURL:  s.callbackBaseURL + "/oauth/callback/" + provider,
		Scopes:       s.scopesFor(provider),
	}
}

func (s *flowService) scopesFor(provider string) []string {
	if sc, ok := s.scopes[provider]; ok && len(sc) > 0 {
		return sc
	}
	return defaultScopes[provider]
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
