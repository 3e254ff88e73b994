// Package microsoft implementa el Handler OAuth de Microsoft (identity
// platform v2, tenant common). Endpoints fijos, grants estándar.
package microsoft

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/oauth"
)

const (
	defaultAuthEndpoint  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	defaultTokenEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// Provider implementa oauth.Handler para Microsoft.
type Provider struct {
	// Endpoints sobreescribibles en tests.
	AuthEndpoint  string
	TokenEndpoint string

	http *http.Client
}

// New crea el provider. timeout acota cada llamada HTTP saliente.
func New(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		AuthEndpoint:  defaultAuthEndpoint,
		TokenEndpoint: defaultTokenEndpoint,
		http:          &http.Client{Timeout: timeout},
	}
}

func (m *Provider) Name() string { return "microsoft" }

// withOfflineAccess garantiza el scope que habilita refresh tokens.
func withOfflineAccess(scopes []string) []string {
	for _, s := range scopes {
		if strings.EqualFold(s, "offline_access") {
			return scopes
		}
	}
	return append(append([]string{}, scopes...), "offline_access")
}

func (m *Provider) AuthURL(ctx context.Context, creds oauth.Credentials, state string) (string, error) {
	u, err := url.Parse(m.AuthEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", creds.RedirectURL)
	q.Set("scope", strings.Join(withOfflineAccess(creds.Scopes), " "))
	q.Set("state", state)
	q.Set("response_mode", "query")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Provider) ExchangeCode(ctx context.Context, creds oauth.Credentials, code string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("redirect_uri", creds.RedirectURL)
	return oauth.PostForm(ctx, m.http, m.TokenEndpoint, form)
}

func (m *Provider) Refresh(ctx context.Context, creds oauth.Credentials, refreshToken string) (*oauth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("scope", strings.Join(withOfflineAccess(creds.Scopes), " "))
	return oauth.PostForm(ctx, m.http, m.TokenEndpoint, form)
}
