package middlewares

import (
	"context"

	"github.com/dropDatabas3/mcpgate/internal/http/services/credentials"
)

type ctxKey string

const (
	ctxRequestIDKey  ctxKey = "request_id"
	ctxResolutionKey ctxKey = "resolution"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID obtiene el request ID del contexto. Cadena vacía si no hay.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

func withResolution(ctx context.Context, res credentials.Resolution) context.Context {
	return context.WithValue(ctx, ctxResolutionKey, res)
}

// GetResolution obtiene las credenciales resueltas por el gate. ok=false si
// el middleware no corrió sobre esta ruta.
func GetResolution(ctx context.Context) (credentials.Resolution, bool) {
	v, ok := ctx.Value(ctxResolutionKey).(credentials.Resolution)
	return v, ok
}

// MustGetResolution obtiene las credenciales resueltas o hace panic.
// Usar solo en handlers montados detrás del gate.
func MustGetResolution(ctx context.Context) credentials.Resolution {
	res, ok := GetResolution(ctx)
	if !ok {
		panic("middlewares: no credential resolution in context")
	}
	return res
}
