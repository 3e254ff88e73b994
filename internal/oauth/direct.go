package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// defaultTokenEndpoints es la tabla de token endpoints conocidos por servicio
// para el fallback direct_oauth: servicios sin handler dedicado pero cuyo
// refresh es el grant estándar de OAuth2.
var defaultTokenEndpoints = map[string]string{
	"gmail":           "https://oauth2.googleapis.com/token",
	"google_calendar": "https://oauth2.googleapis.com/token",
	"google_drive":    "https://oauth2.googleapis.com/token",
	"outlook":         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	"teams":           "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	"github":          "https://github.com/login/oauth/access_token",
	"notion":          "https://api.notion.com/v1/oauth/token",
}

// DirectClient renueva tokens vía grant_type=refresh_token genérico contra
// el endpoint conocido del servicio. Es el camino cuando ningún provider
// registrado cubre el servicio de la instancia.
type DirectClient struct {
	http      *http.Client
	endpoints map[string]string
}

// NewDirectClient crea el cliente con la tabla de endpoints por defecto.
func NewDirectClient(timeout time.Duration) *DirectClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	eps := make(map[string]string, len(defaultTokenEndpoints))
	for k, v := range defaultTokenEndpoints {
		eps[k] = v
	}
	return &DirectClient{
		http:      &http.Client{Timeout: timeout},
		endpoints: eps,
	}
}

// SetEndpoint agrega o sobreescribe el token endpoint de un servicio.
func (c *DirectClient) SetEndpoint(service, endpoint string) {
	c.endpoints[service] = endpoint
}

// Supports reporta si el servicio tiene endpoint conocido.
func (c *DirectClient) Supports(service string) bool {
	_, ok := c.endpoints[service]
	return ok
}

// Refresh ejecuta el grant refresh_token contra el endpoint del servicio.
func (c *DirectClient) Refresh(ctx context.Context, service string, creds Credentials, refreshToken string) (*TokenResponse, error) {
	ep, ok := c.endpoints[service]
	if !ok {
		return nil, fmt.Errorf("oauth: no token endpoint known for service %q", service)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)

	return PostForm(ctx, c.http, ep, form)
}
