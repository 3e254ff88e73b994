// Package google implementa el Handler OAuth de Google.
//
// Los endpoints se resuelven vía OIDC discovery y se cachean 24h; el canje y
// el refresh son los grants estándar contra el token endpoint descubierto.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/oauth"
)

const defaultDiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

type discoveryDoc struct {
	Issuer        string `json:"issuer"`
	AuthEndpoint  string `json:"authorization_endpoint"`
	TokenEndpoint string `json:"token_endpoint"`
}

// Provider implementa oauth.Handler para Google.
type Provider struct {
	// DiscoveryURL permite apuntar a otro discovery (config o fakes en tests).
	DiscoveryURL string

	http  *http.Client
	mu    sync.RWMutex
	disc  *discoveryDoc
	discU time.Time
}

// New crea el provider. timeout acota cada llamada HTTP saliente.
func New(timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		DiscoveryURL: defaultDiscoveryURL,
		http:         &http.Client{Timeout: timeout},
	}
}

func (g *Provider) Name() string { return "google" }

func (g *Provider) discovery(ctx context.Context) (*discoveryDoc, error) {
	g.mu.RLock()
	disc := g.disc
	stale := time.Since(g.discU) > 24*time.Hour
	g.mu.RUnlock()
	if disc != nil && !stale {
		return disc, nil
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, g.DiscoveryURL, nil)
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("google: discovery http %d", resp.StatusCode)
	}
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.disc = &dd
	g.discU = time.Now()
	g.mu.Unlock()
	return &dd, nil
}

func (g *Provider) AuthURL(ctx context.Context, creds oauth.Credentials, state string) (string, error) {
	disc, err := g.discovery(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(disc.AuthEndpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", creds.ClientID)
	q.Set("redirect_uri", creds.RedirectURL)
	q.Set("scope", strings.Join(creds.Scopes, " "))
	q.Set("state", state)
	// Sin access_type=offline Google no emite refresh_token; prompt=consent
	// fuerza reemisión cuando el usuario ya autorizó antes.
	q.Set("access_type", "offline")
	q.Set("include_granted_scopes", "true")
	q.Set("prompt", "consent")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *Provider) ExchangeCode(ctx context.Context, creds oauth.Credentials, code string) (*oauth.TokenResponse, error) {
	disc, err := g.discovery(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("redirect_uri", creds.RedirectURL)
	return oauth.PostForm(ctx, g.http, disc.TokenEndpoint, form)
}

func (g *Provider) Refresh(ctx context.Context, creds oauth.Credentials, refreshToken string) (*oauth.TokenResponse, error) {
	disc, err := g.discovery(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	return oauth.PostForm(ctx, g.http, disc.TokenEndpoint, form)
}
