// Package oauth define la integración con providers OAuth2: el contrato
// Handler que implementa cada provider, la respuesta normalizada del token
// endpoint y el registry servicio -> provider.
//
// A diferencia de un IdP clásico, acá las credenciales de cliente (client_id,
// client_secret) no son de la aplicación: viven en cada instancia registrada
// y llegan por llamada.
package oauth

import "context"

// Credentials son las credenciales OAuth de una instancia concreta.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// TokenResponse es la respuesta normalizada de un token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`

	// TeamID lo completan providers con workspace (Slack). No viene del JSON
	// plano sino del sobre propio del provider.
	TeamID string `json:"-"`
}

// Handler es la integración concreta con un provider OAuth.
// Cada provider se registra al arranque; no hay type-sniffing en runtime.
type Handler interface {
	// Name retorna el nombre canónico del provider ("google", "slack", ...).
	Name() string

	// AuthURL construye la URL de autorización para el popup.
	AuthURL(ctx context.Context, creds Credentials, state string) (string, error)

	// ExchangeCode canjea el authorization code por tokens.
	ExchangeCode(ctx context.Context, creds Credentials, code string) (*TokenResponse, error)

	// Refresh renueva el access token usando el refresh token.
	Refresh(ctx context.Context, creds Credentials, refreshToken string) (*TokenResponse, error)
}
