package errors

import (
	"fmt"
	"net/http"
)

// AppError define la estructura estándar para errores de la aplicación.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// RequiresReauth marca errores 401 donde el usuario debe re-consentir
	// el grant OAuth (no alcanza con reintentar).
	RequiresReauth bool  `json:"requiresReauth,omitempty"`
	HTTPStatus     int   `json:"-"` // No se serializa, usado para el header
	Err            error `json:"-"` // Causa original, útil para logs, no se expone al cliente
}

// Error implementa la interfaz error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap permite acceder al error original.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is permite comparar contra los errores predefinidos con errors.Is,
// matcheando por Code (las copias de WithDetail/WithCause siguen siendo "el mismo" error).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New crea un nuevo AppError.
func New(status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
	}
}

// Wrap crea un AppError envolviendo un error existente.
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// FromError convierte un error genérico en un AppError.
// Si no es un AppError, devuelve un error interno genérico conservando la causa.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail agrega detalle al error. Devuelve una COPIA para no mutar
// las variables globales base.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause agrega el error original (causa). Devuelve una COPIA.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// =================================================================================
// LISTA DE ERRORES PREDEFINIDOS
// =================================================================================

// ---------------------------------------------------------------------------------
// 400 Bad Request - Errores de Cliente / Validación
// ---------------------------------------------------------------------------------

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidInstanceID = &AppError{
		Code:       "INVALID_INSTANCE_ID",
		Message:    "El identificador de instancia no es un UUID válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrOAuthParamsMissing = &AppError{
		Code:       "OAUTH_PARAMS_MISSING",
		Message:    "Faltan parámetros OAuth requeridos (code/state).",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidParameter = &AppError{
		Code:       "INVALID_PARAMETER",
		Message:    "Uno de los parámetros de la URL o Query String es inválido.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ---------------------------------------------------------------------------------
// 401 Unauthorized - Estado de autorización
// ---------------------------------------------------------------------------------

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrReauthRequired cubre refresh agotado, grant revocado o sin refresh token.
	ErrReauthRequired = &AppError{
		Code:           "REAUTH_REQUIRED",
		Message:        "La autorización con el proveedor expiró. El usuario debe volver a conectar la cuenta.",
		RequiresReauth: true,
		HTTPStatus:     http.StatusUnauthorized,
	}
)

// ---------------------------------------------------------------------------------
// 403 Forbidden - Entitlement
// ---------------------------------------------------------------------------------

var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrInstancePaused = &AppError{
		Code:       "INSTANCE_PAUSED",
		Message:    "La instancia está pausada. Reactívela para continuar.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrInstanceExpired = &AppError{
		Code:       "INSTANCE_EXPIRED",
		Message:    "La instancia expiró y ya no puede usarse.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrActiveLimitReached = &AppError{
		Code:       "ACTIVE_LIMIT_REACHED",
		Message:    "Alcanzó el límite de instancias activas de su plan.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrPlanExpired = &AppError{
		Code:       "PLAN_EXPIRED",
		Message:    "Su plan expiró. Renueve la suscripción para continuar.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNoPlan = &AppError{
		Code:       "NO_PLAN",
		Message:    "No hay un plan activo asociado al usuario.",
		HTTPStatus: http.StatusForbidden,
	}
)

// ---------------------------------------------------------------------------------
// 404 Not Found
// ---------------------------------------------------------------------------------

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrInstanceNotFound = &AppError{
		Code:       "INSTANCE_NOT_FOUND",
		Message:    "La instancia especificada no existe.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRouteNotFound = &AppError{
		Code:       "ROUTE_NOT_FOUND",
		Message:    "La ruta solicitada no existe.",
		HTTPStatus: http.StatusNotFound,
	}
)

// ---------------------------------------------------------------------------------
// 405 Method Not Allowed
// ---------------------------------------------------------------------------------

var (
	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "El método HTTP no está permitido para este recurso.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
)

// ---------------------------------------------------------------------------------
// 429 Too Many Requests - Rate Limiting
// ---------------------------------------------------------------------------------

var (
	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Ha excedido el límite de solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// ---------------------------------------------------------------------------------
// 500+ Server Errors
// ---------------------------------------------------------------------------------

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error interno en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrOAuthConfigInvalid indica una instancia OAuth sin client id/secret:
	// integridad de datos, nunca culpa del usuario.
	ErrOAuthConfigInvalid = &AppError{
		Code:       "OAUTH_CONFIG_INVALID",
		Message:    "La configuración OAuth de la instancia es inválida.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceDisabled = &AppError{
		Code:       "SERVICE_DISABLED",
		Message:    "El servicio está deshabilitado temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// ErrUpstreamUnavailable cubre fallos del backend de herramientas detrás
	// del proxy.
	ErrUpstreamUnavailable = &AppError{
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    "El servicio de herramientas no respondió.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrGatewayTimeout = &AppError{
		Code:       "GATEWAY_TIMEOUT",
		Message:    "El servidor tardó demasiado en responder.",
		HTTPStatus: http.StatusGatewayTimeout,
	}
)
