// Package oauth contiene los controllers del flujo de autorización por popup.
//
// Authorize redirige el popup al provider; Callback SIEMPRE responde 200 con
// una página HTML que publica el resultado vía postMessage hacia la ventana
// que abrió el popup. Nunca se redirige con secretos ni input sin sanear.
package oauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	oauthdto "github.com/dropDatabas3/mcpgate/internal/http/dto/oauth"
	httperrors "github.com/dropDatabas3/mcpgate/internal/http/errors"
	"github.com/dropDatabas3/mcpgate/internal/http/services/oauthflow"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// Controller maneja las rutas de autorización OAuth.
type Controller struct {
	flow oauthflow.Service
	// openerOrigin es el origin del dashboard que abre el popup. Si está
	// configurado, el postMessage va dirigido solo a ese origin.
	openerOrigin string
}

// NewController crea el controller del flujo OAuth.
func NewController(flow oauthflow.Service, openerOrigin string) *Controller {
	return &Controller{flow: flow, openerOrigin: strings.TrimRight(openerOrigin, "/")}
}

// Authorize maneja GET /v1/oauth/{provider}/authorize?instance_id=...
// y redirige (302) al endpoint de autorización del provider.
func (c *Controller) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OAuth.Authorize"))

	provider := chi.URLParam(r, "provider")
	instanceID := strings.TrimSpace(r.URL.Query().Get("instance_id"))
	if instanceID == "" {
		httperrors.WriteError(w, httperrors.ErrOAuthParamsMissing)
		return
	}
	if _, err := uuid.Parse(instanceID); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidInstanceID)
		return
	}

	res, err := c.flow.Authorize(ctx, oauthflow.AuthorizeRequest{
		Provider:   provider,
		InstanceID: instanceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, oauthflow.ErrProviderUnknown):
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("unknown oauth provider: "+provider))
		case errors.Is(err, oauthflow.ErrInstanceNotFound):
			httperrors.WriteError(w, httperrors.ErrInstanceNotFound)
		case errors.Is(err, oauthflow.ErrProviderMismatch):
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("provider does not match the instance service"))
		case errors.Is(err, oauthflow.ErrConfigInvalid):
			httperrors.WriteError(w, httperrors.ErrOAuthConfigInvalid)
		default:
			log.Error("authorize failed", logger.Provider(provider), logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrInternalServerError)
		}
		return
	}

	http.Redirect(w, r, res.AuthURL, http.StatusFound)
}

// Callback maneja GET /oauth/callback/{provider}. Responde 200 siempre: el
// resultado (éxito o error) viaja en la página como payload de postMessage.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	res := c.flow.HandleCallback(ctx, oauthflow.CallbackRequest{
		Provider:         chi.URLParam(r, "provider"),
		Code:             q.Get("code"),
		State:            q.Get("state"),
		ErrorParam:       q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	msg := oauthdto.CallbackMessage{
		Provider:   res.Provider,
		InstanceID: res.InstanceID,
		Service:    res.Service,
	}
	if res.Success {
		msg.Type = oauthdto.MessageSuccess
	} else {
		msg.Type = oauthdto.MessageError
		msg.Error = &oauthdto.CallbackError{
			Code:    res.ErrorCode,
			Message: res.Message,
		}
		if res.Max > 0 {
			msg.Plan = &oauthdto.PlanUsage{
				Current:  res.Current,
				Max:      res.Max,
				PlanName: res.PlanName,
			}
		}
	}

	c.renderResult(ctx, w, msg)
}
