package oauth

import (
	"sort"
	"sync"
)

// Registry mantiene los providers registrados y el mapeo servicio -> provider.
// Se arma al arranque; las lecturas concurrentes posteriores son seguras.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Handler
	services  map[string]string
}

// NewRegistry crea un registry vacío.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Handler),
		services:  make(map[string]string),
	}
}

// Register agrega un provider bajo su Name().
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[h.Name()] = h
}

// MapService asocia un servicio (gmail, slack, ...) a un provider registrado.
func (r *Registry) MapService(service, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service] = provider
}

// ForProvider busca un handler por nombre de provider.
func (r *Registry) ForProvider(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.providers[name]
	return h, ok
}

// ForService busca el handler del provider asociado a un servicio.
// Un servicio sin mapeo (o mapeado a un provider no registrado) retorna
// false: ese es el caso que habilita el fallback direct_oauth.
func (r *Registry) ForService(service string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.services[service]
	if !ok {
		return nil, false
	}
	h, ok := r.providers[name]
	return h, ok
}

// ProviderFor retorna el nombre del provider asociado a un servicio.
func (r *Registry) ProviderFor(service string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.services[service]
	return name, ok
}

// Providers lista los nombres registrados, ordenados.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
