// Package middlewares contiene los decoradores HTTP del gateway: request id,
// logging, recover, headers, rate limiting, métricas y el gate de
// credenciales que alimenta al proxy.
package middlewares

import "net/http"

// Middleware es un decorador de http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain aplica middlewares en orden de izquierda a derecha:
// Chain(h, A, B, C) ejecuta A -> B -> C -> h, con A como el más externo.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
