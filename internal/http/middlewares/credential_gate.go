package middlewares

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/dropDatabas3/mcpgate/internal/http/errors"
	"github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
	"github.com/dropDatabas3/mcpgate/internal/observability/logger"
)

// WithCredentialGate resuelve el bearer token de la instancia antes de dejar
// pasar el request hacia el proxy de herramientas. El formato del ID se
// valida antes de tocar cache o store; el resto de la escalera la decide el
// resolver y acá solo se traduce a HTTP.
func WithCredentialGate(svc credentials.Service) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "instanceID")
			if _, err := uuid.Parse(id); err != nil {
				httperrors.WriteError(w, httperrors.ErrInvalidInstanceID)
				return
			}

			res, err := svc.Resolve(r.Context(), id)
			if err != nil {
				writeResolveError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withResolution(r.Context(), res)))
		})
	}
}

// writeResolveError traduce los errores del resolver a la taxonomía HTTP.
func writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credentials.ErrInstanceNotFound):
		httperrors.WriteError(w, httperrors.ErrInstanceNotFound)
	case errors.Is(err, credentials.ErrServiceDisabled):
		httperrors.WriteError(w, httperrors.ErrServiceDisabled)
	case errors.Is(err, credentials.ErrInstancePaused):
		httperrors.WriteError(w, httperrors.ErrInstancePaused)
	case errors.Is(err, credentials.ErrInstanceExpired):
		httperrors.WriteError(w, httperrors.ErrInstanceExpired)
	case errors.Is(err, credentials.ErrConfigInvalid):
		httperrors.WriteError(w, httperrors.ErrOAuthConfigInvalid)
	case errors.Is(err, credentials.ErrReauthRequired):
		httperrors.WriteError(w, httperrors.ErrReauthRequired)
	default:
		logger.From(r.Context()).Error("credential resolution failed",
			logger.Layer("middleware"),
			logger.Op("CredentialGate"),
			logger.Err(err),
		)
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
	}
}
