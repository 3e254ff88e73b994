package middlewares

import "net/http"

// WithNoStore agrega Cache-Control: no-store. Las respuestas del gateway
// llevan tokens o estados de autorización: ningún intermediario debe
// cachearlas.
func WithNoStore() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
