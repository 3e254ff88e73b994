// Package credentials define el snapshot de credenciales por instancia y su
// cache tipado.
//
// El cache guarda snapshots sin TTL del backend: la frescura se decide
// comparando ExpiresAt (epoch millis) contra el reloj del caller. Una entrada
// vencida sigue en el cache hasta que un refresh la reemplace o un fallo la
// invalide.
package credentials

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/cache"
	"github.com/dropDatabas3/mcpgate/internal/metrics"
)

const cacheKeyPrefix = "cred:"

// Errores del cache de credenciales.
var (
	ErrNotCached = errNotCached{}
)

type errNotCached struct{}

func (errNotCached) Error() string { return "credentials: instance not cached" }

// IsNotCached verifica si el error indica ausencia de snapshot.
func IsNotCached(err error) bool {
	_, ok := err.(errNotCached)
	return ok
}

// Credential es el snapshot cacheado de las credenciales de una instancia.
// Service viaja en el snapshot para que el camino rápido pueda rutear al
// backend sin releer el store.
type Credential struct {
	BearerToken  string `json:"bearerToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt"` // epoch millis
	UserID       string `json:"userId,omitempty"`
	Service      string `json:"service,omitempty"`
	TeamID       string `json:"teamId,omitempty"`
}

// Fresh reporta si el token todavía sirve en el instante dado.
// Un token exactamente en su expiry ya se considera vencido.
func (c *Credential) Fresh(now time.Time) bool {
	return c != nil && now.UnixMilli() < c.ExpiresAt
}

// Cache es el cache tipado de snapshots, instancia -> Credential.
type Cache struct {
	client cache.Client
}

// NewCache crea el cache tipado sobre un cache.Client.
func NewCache(client cache.Client) *Cache {
	return &Cache{client: client}
}

// Get obtiene el snapshot de una instancia. Retorna ErrNotCached si no hay
// entrada o si la entrada guardada no se puede decodificar.
func (s *Cache) Get(ctx context.Context, instanceID string) (*Credential, error) {
	raw, err := s.client.Get(ctx, cacheKeyPrefix+instanceID)
	if err != nil {
		if cache.IsNotFound(err) {
			metrics.CredentialCacheMisses.Inc()
			return nil, ErrNotCached
		}
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		// Entrada corrupta: se descarta y se trata como miss.
		_ = s.client.Delete(ctx, cacheKeyPrefix+instanceID)
		metrics.CredentialCacheMisses.Inc()
		return nil, ErrNotCached
	}

	metrics.CredentialCacheHits.Inc()
	return &cred, nil
}

// Set guarda el snapshot de una instancia. Sobrescribe cualquier entrada
// previa; repetir el mismo Set es inocuo.
func (s *Cache) Set(ctx context.Context, instanceID string, cred *Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	// TTL 0: la entrada no expira por backend, solo por reemplazo o Delete.
	return s.client.Set(ctx, cacheKeyPrefix+instanceID, string(raw), 0)
}

// Delete invalida el snapshot de una instancia.
func (s *Cache) Delete(ctx context.Context, instanceID string) error {
	return s.client.Delete(ctx, cacheKeyPrefix+instanceID)
}
